// Package secrets resolves the deployer private key from a secret store or
// from a locally generated key artifact.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	ErrSecretRetrieval = errors.New("secrets: retrieval failed")
	ErrSecretMalformed = errors.New("secrets: secret malformed")
	ErrSecretNotFound  = errors.New("secrets: secret not found")
)

// Provider returns the deployer's private key as a hex string.
type Provider interface {
	PrivateKey(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

// PrivateKey calls f.
func (f ProviderFunc) PrivateKey(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static is a Provider holding a key supplied directly, e.g. via PRIVATE_KEY.
type Static string

// PrivateKey returns the key.
func (s Static) PrivateKey(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("%w: empty private key", ErrSecretNotFound)
	}
	return strings.TrimSpace(string(s)), nil
}

// fieldFromJSON extracts a string field from a JSON object secret.
func fieldFromJSON(raw []byte, field string) (string, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretMalformed, err)
	}
	return stringField(obj, field)
}

func stringField(obj map[string]interface{}, field string) (string, error) {
	v, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q missing", ErrSecretMalformed, field)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: field %q is not a non-empty string", ErrSecretMalformed, field)
	}
	return strings.TrimSpace(s), nil
}
