package secrets

import (
	"context"
	"fmt"

	"github.com/aspecta/points-deployer/internal/config"
)

// ForSource builds the Provider for a resolved signer source. The node
// source has no key to fetch and yields a nil Provider.
func ForSource(ctx context.Context, source config.SignerSource, p *config.Params) (Provider, error) {
	switch source {
	case config.SignerAWS:
		provider, err := NewAWSProvider(ctx, p.Get(config.AWSRegion), p.Get(config.AWSSecretName), p.Get(config.AWSSecretKey))
		if err != nil {
			return nil, err
		}
		return provider, nil
	case config.SignerBao:
		provider, err := NewBaoProvider(p.Get(config.BaoAddr), p.Get(config.BaoToken), p.Get(config.BaoSecretPath), p.Get(config.BaoSecretKey),
			WithBaoNamespace(p.Get(config.BaoNamespace)))
		if err != nil {
			return nil, err
		}
		return provider, nil
	case config.SignerKeyFile:
		return KeyFile(p.Get(config.DeployerKeyFile)), nil
	case config.SignerEnv:
		return Static(p.Get(config.PrivateKey)), nil
	case config.SignerNode:
		return nil, nil
	default:
		return nil, fmt.Errorf("no secret provider for signer source %q", source)
	}
}
