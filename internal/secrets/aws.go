package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// VersionStageCurrent is the Secrets Manager stage holding the live value.
const VersionStageCurrent = "AWSCURRENT"

// SecretsManagerAPI is the subset of the Secrets Manager client in use.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSProvider reads the key from a JSON secret in AWS Secrets Manager.
type AWSProvider struct {
	api      SecretsManagerAPI
	secretID string
	field    string
}

// NewAWSProvider loads the default AWS credential chain for region.
func NewAWSProvider(ctx context.Context, region, secretID, field string) (*AWSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrSecretRetrieval, err)
	}
	return NewAWSProviderWithClient(secretsmanager.NewFromConfig(cfg), secretID, field), nil
}

// NewAWSProviderWithClient uses an existing client.
func NewAWSProviderWithClient(api SecretsManagerAPI, secretID, field string) *AWSProvider {
	return &AWSProvider{api: api, secretID: secretID, field: field}
}

// PrivateKey fetches the current secret version and extracts the key field.
func (p *AWSProvider) PrivateKey(ctx context.Context) (string, error) {
	out, err := p.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(p.secretID),
		VersionStage: aws.String(VersionStageCurrent),
	})
	if err != nil {
		return "", fmt.Errorf("%w: get secret %s: %w", ErrSecretRetrieval, p.secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: SecretString not found", ErrSecretNotFound)
	}
	return fieldFromJSON([]byte(*out.SecretString), p.field)
}
