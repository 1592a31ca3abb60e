// Package config holds the deployment parameter set and its validation rules.
package config

import (
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Parameter names. They double as environment variable names.
const (
	JSONRPCURL = "JSON_RPC_URL"
	ChainID    = "CHAIN_ID"

	Signer          = "SIGNER"
	AWSRegion       = "AWS_REGION"
	AWSSecretName   = "AWS_SECRET_NAME"
	AWSSecretKey    = "AWS_SECRET_KEY"
	PrivateKey      = "PRIVATE_KEY"
	DeployerKeyFile = "DEPLOYER_KEY_FILE"
	BaoAddr         = "BAO_ADDR"
	BaoToken        = "BAO_TOKEN"
	BaoSecretPath   = "BAO_SECRET_PATH"
	BaoSecretKey    = "BAO_SECRET_KEY"
	BaoNamespace    = "BAO_NAMESPACE"

	ArtifactsDir = "ARTIFACTS_DIR"
	ProxyKind    = "PROXY_KIND"
	RoleAccessor = "ROLE_ACCESSOR"

	DefaultInflationRate  = "DEFAULT_INFLATION_RATE"
	DefaultShareDecayRate = "DEFAULT_SHARE_DECAY_RATE"
	DefaultRewardCut      = "DEFAULT_REWARD_CUT"
	DefaultLockPeriod     = "DEFAULT_LOCK_PERIOD"

	BuildingPointAddress  = "ASPECTA_BUILDING_POINT_ADDRESS"
	DevPoolFactoryAddress = "ASPECTA_DEV_POOL_FACTORY_ADDRESS"
	FactoryGettersAddress = "POOL_FACTORY_GETTERS_ADDRESS"
	BeaconAddress         = "BEACON_ADDRESS"
)

// Known lists every parameter in presentation order.
var Known = []string{
	JSONRPCURL,
	ChainID,
	Signer,
	AWSRegion,
	AWSSecretName,
	AWSSecretKey,
	PrivateKey,
	DeployerKeyFile,
	BaoAddr,
	BaoToken,
	BaoSecretPath,
	BaoSecretKey,
	BaoNamespace,
	ArtifactsDir,
	ProxyKind,
	RoleAccessor,
	DefaultInflationRate,
	DefaultShareDecayRate,
	DefaultRewardCut,
	DefaultLockPeriod,
	BuildingPointAddress,
	DevPoolFactoryAddress,
	FactoryGettersAddress,
	BeaconAddress,
}

// Economics lists the factory initializer parameters in initializer order.
var Economics = []string{
	DefaultInflationRate,
	DefaultShareDecayRate,
	DefaultRewardCut,
	DefaultLockPeriod,
}

var defaults = map[string]string{
	AWSSecretKey:    "1",
	BaoSecretKey:    "1",
	DeployerKeyFile: ".deployer-key",
	ArtifactsDir:    "artifacts",
	ProxyKind:       "transparent",
	RoleAccessor:    "FACTORY_ROLE",
}

// secret parameters are masked by Redacted.
var secret = map[string]bool{
	PrivateKey: true,
	BaoToken:   true,
}

// Params is an ordered name to value mapping. It is built once at process
// entry and treated as read-only afterwards.
type Params struct {
	names  []string
	values map[string]string
}

// New returns an empty parameter set.
func New() *Params {
	return &Params{values: make(map[string]string)}
}

// FromMap builds a parameter set from m. Known names come first in their
// canonical order, unknown names follow sorted.
func FromMap(m map[string]string) *Params {
	p := New()
	seen := make(map[string]bool, len(Known))
	for _, name := range Known {
		seen[name] = true
		if v, ok := m[name]; ok {
			p.Set(name, v)
		}
	}

	var extra []string
	for name := range m {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		p.Set(name, m[name])
	}
	return p
}

// FromLookup collects every known parameter that lookup reports as set.
func FromLookup(lookup func(string) (string, bool)) *Params {
	m := make(map[string]string)
	for _, name := range Known {
		if v, ok := lookup(name); ok {
			m[name] = v
		}
	}
	return FromMap(m)
}

// Set stores a value, keeping the first insertion position of name.
func (p *Params) Set(name, value string) {
	if _, ok := p.values[name]; !ok {
		p.names = append(p.names, name)
	}
	p.values[name] = strings.TrimSpace(value)
}

// Lookup returns the explicit value of name and whether it is non-empty.
func (p *Params) Lookup(name string) (string, bool) {
	v := p.values[name]
	return v, v != ""
}

// Get returns the value of name, falling back to its built-in default.
func (p *Params) Get(name string) string {
	if v, ok := p.Lookup(name); ok {
		return v
	}
	return defaults[name]
}

// Names returns the parameter names in insertion order.
func (p *Params) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

// Redacted returns the set as a map with secret values masked.
func (p *Params) Redacted() map[string]string {
	out := make(map[string]string, len(p.names))
	for _, name := range p.names {
		v := p.values[name]
		if secret[name] && v != "" {
			v = "****"
		}
		out[name] = v
	}
	return out
}

// Require checks that every name is present and non-empty. The first missing
// parameter is reported.
func (p *Params) Require(names ...string) error {
	for _, name := range names {
		if _, ok := p.Lookup(name); !ok {
			return NotSet(name)
		}
	}
	return nil
}

// Address parses name as a hex address. The zero address is rejected.
func (p *Params) Address(name string) (common.Address, error) {
	v, ok := p.Lookup(name)
	if !ok {
		return common.Address{}, NotSet(name)
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, Invalid(name, "is not a valid address")
	}
	addr := common.HexToAddress(v)
	if addr == (common.Address{}) {
		return common.Address{}, Invalid(name, "is the zero address")
	}
	return addr, nil
}

// BigInt parses name as a non-negative decimal integer.
func (p *Params) BigInt(name string) (*big.Int, error) {
	v, ok := p.Lookup(name)
	if !ok {
		return nil, NotSet(name)
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, Invalid(name, "is not a valid non-negative integer")
	}
	return n, nil
}

// Uint64 parses an optional integer parameter. Unset yields zero.
func (p *Params) Uint64(name string) (uint64, error) {
	v, ok := p.Lookup(name)
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, Invalid(name, "is not a valid integer")
	}
	return n, nil
}

// OneOf checks that the (defaulted) value of name is one of allowed.
func (p *Params) OneOf(name string, allowed ...string) (string, error) {
	v := strings.ToLower(p.Get(name))
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", Invalid(name, "must be one of "+strings.Join(allowed, "|"))
}
