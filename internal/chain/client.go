// Package chain deploys, upgrades and wires contracts on an EVM network.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aspecta/points-deployer/internal/artifact"
)

// Sentinel errors
var (
	ErrTransactionFailed = errors.New("transaction failed")
	ErrNoCode            = errors.New("no contract code at address")
	ErrNotProxy          = errors.New("address is not an EIP-1967 proxy")
	ErrZeroAddress       = errors.New("zero address")
)

// Kind describes how a contract handle was obtained.
type Kind string

const (
	KindPlain    Kind = "plain"
	KindProxy    Kind = "proxy"
	KindBeacon   Kind = "beacon"
	KindAttached Kind = "attached"
)

// ProxyKind selects the proxy flavour used for new proxies.
type ProxyKind string

const (
	ProxyTransparent ProxyKind = "transparent"
	ProxyUUPS        ProxyKind = "uups"
)

// Contract names of the proxy infrastructure resolved from the artifact store.
const (
	TransparentProxyContract = "TransparentUpgradeableProxy"
	ERC1967ProxyContract     = "ERC1967Proxy"
	BeaconContract           = "UpgradeableBeacon"
)

// Factory is a deployable contract type.
type Factory struct {
	Name     string
	Artifact *artifact.Artifact
}

// Contract is a handle to an on-chain contract. For proxies and beacons
// Address is the durable handle and Implementation the logic contract
// behind it.
type Contract struct {
	Name           string         `json:"name" yaml:"name"`
	Address        common.Address `json:"address" yaml:"address"`
	Kind           Kind           `json:"kind" yaml:"kind"`
	Implementation common.Address `json:"implementation,omitempty" yaml:"implementation,omitempty"`
	TxHash         common.Hash    `json:"txHash,omitempty" yaml:"txHash,omitempty"`
}

// RoleGrant records a confirmed grantRole call.
type RoleGrant struct {
	Token    common.Address `json:"token" yaml:"token"`
	Accessor string         `json:"accessor" yaml:"accessor"`
	Role     common.Hash    `json:"role" yaml:"role"`
	Grantee  common.Address `json:"grantee" yaml:"grantee"`
	TxHash   common.Hash    `json:"txHash" yaml:"txHash"`
}

// Client is the chain surface the deployment orchestrator drives. Every
// state-changing method returns only after its transactions are mined with
// a successful receipt.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Account() common.Address
	Balance(ctx context.Context, account common.Address) (*big.Int, error)

	ContractFactory(name string) (*Factory, error)
	Deploy(ctx context.Context, f *Factory, args ...interface{}) (*Contract, error)
	DeployProxy(ctx context.Context, f *Factory, initializer string, args ...interface{}) (*Contract, error)
	DeployBeacon(ctx context.Context, f *Factory) (*Contract, error)
	UpgradeProxy(ctx context.Context, proxy common.Address, f *Factory) (*Contract, error)
	UpgradeBeacon(ctx context.Context, beacon common.Address, f *Factory) (*Contract, error)
	Attach(ctx context.Context, f *Factory, addr common.Address) (*Contract, error)
	GrantRole(ctx context.Context, token *Contract, accessor string, grantee common.Address) (*RoleGrant, error)
	Implementation(ctx context.Context, addr common.Address) (common.Address, error)

	Close()
}

// ParseProxyKind validates a PROXY_KIND value. Empty selects transparent.
func ParseProxyKind(s string) (ProxyKind, error) {
	switch ProxyKind(s) {
	case "", ProxyTransparent:
		return ProxyTransparent, nil
	case ProxyUUPS:
		return ProxyUUPS, nil
	default:
		return "", fmt.Errorf("unsupported proxy kind %q", s)
	}
}
