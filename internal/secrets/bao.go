package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bao "github.com/openbao/openbao/api/v2"
)

// DefaultBaoTimeout is the default HTTP timeout for OpenBao requests.
const DefaultBaoTimeout = 30 * time.Second

// BaoProvider reads the key from an OpenBao KV v2 secret.
type BaoProvider struct {
	client *bao.Client
	mount  string
	path   string
	field  string
}

// BaoOption configures a BaoProvider.
type BaoOption func(*bao.Client)

// WithBaoNamespace scopes every request to ns. Empty keeps the root
// namespace.
func WithBaoNamespace(ns string) BaoOption {
	return func(c *bao.Client) {
		if ns != "" {
			c.SetNamespace(ns)
		}
	}
}

// SplitKVPath splits a secret path given as "<mount>/<path>", e.g.
// "secret/deployer".
func SplitKVPath(secretPath string) (mount, path string, err error) {
	mount, path, ok := strings.Cut(strings.Trim(secretPath, "/"), "/")
	if !ok || mount == "" || path == "" {
		return "", "", fmt.Errorf("%w: secret path %q must be <mount>/<path>", ErrSecretMalformed, secretPath)
	}
	return mount, path, nil
}

// NewBaoProvider creates a provider for secretPath on the server at addr.
func NewBaoProvider(addr, token, secretPath, field string, opts ...BaoOption) (*BaoProvider, error) {
	mount, path, err := SplitKVPath(secretPath)
	if err != nil {
		return nil, err
	}

	cfg := bao.DefaultConfig()
	cfg.Address = strings.TrimRight(addr, "/")
	cfg.Timeout = DefaultBaoTimeout
	client, err := bao.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrSecretRetrieval, err)
	}
	client.SetToken(token)
	for _, opt := range opts {
		opt(client)
	}

	return &BaoProvider{
		client: client,
		mount:  mount,
		path:   path,
		field:  field,
	}, nil
}

// PrivateKey reads the latest secret version.
func (p *BaoProvider) PrivateKey(ctx context.Context) (string, error) {
	secret, err := p.client.KVv2(p.mount).Get(ctx, p.path)
	if err != nil {
		if errors.Is(err, bao.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, p.mount, p.path)
		}
		return "", fmt.Errorf("%w: %v", ErrSecretRetrieval, err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s/%s has no data", ErrSecretNotFound, p.mount, p.path)
	}
	return stringField(secret.Data, p.field)
}
