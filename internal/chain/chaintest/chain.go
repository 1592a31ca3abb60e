// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/aspecta/points-deployer/internal/artifact"
	"github.com/aspecta/points-deployer/internal/chain"
)

// DefaultABIs are the artifact ABIs served by Load. Names without an entry
// get an empty ABI.
var DefaultABIs = map[string]string{
	"AspectaBuildingPoint": `[
		{"type":"constructor","inputs":[{"name":"owner","type":"address"}],"stateMutability":"nonpayable"},
		{"type":"function","name":"FACTORY_ROLE","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
		{"type":"function","name":"getFactoryRole","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"},
		{"type":"function","name":"grantRole","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"hasRole","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"}
	]`,
	"AspectaDevPoolFactory": `[
		{"type":"function","name":"initialize","inputs":[
			{"name":"owner","type":"address"},
			{"name":"token","type":"address"},
			{"name":"beacon","type":"address"},
			{"name":"inflationRate","type":"uint256"},
			{"name":"shareDecayRate","type":"uint256"},
			{"name":"rewardCut","type":"uint256"},
			{"name":"lockPeriod","type":"uint256"}
		],"outputs":[],"stateMutability":"nonpayable"}
	]`,
	"PoolFactoryGetters": `[
		{"type":"function","name":"initialize","inputs":[
			{"name":"owner","type":"address"},
			{"name":"factory","type":"address"}
		],"outputs":[],"stateMutability":"nonpayable"}
	]`,
	"UpgradeableBeacon": `[
		{"type":"constructor","inputs":[{"name":"implementation","type":"address"},{"name":"initialOwner","type":"address"}],"stateMutability":"nonpayable"}
	]`,
}

// Call is one recorded client invocation.
type Call struct {
	Method string
	Name   string
	Args   []interface{}
}

// String renders the call as "Method Name".
func (c Call) String() string {
	if c.Name == "" {
		return c.Method
	}
	return c.Method + " " + c.Name
}

// Chain models deployed contracts, EIP-1967 proxies, beacons and beacon
// proxy instances without any network.
type Chain struct {
	ChainIDValue *big.Int
	AccountAddr  common.Address
	BalanceWei   *big.Int

	// Missing lists artifact names Load and ContractFactory reject.
	Missing map[string]bool
	// ABIs maps artifact names to the ABI JSON Load serves.
	ABIs map[string]string
	// Fail maps a call string ("DeployProxy AspectaDevPoolFactory") to the
	// error returned instead of performing it.
	Fail map[string]error

	calls   []Call
	nonce   uint64
	code    map[common.Address]string
	proxies map[common.Address]common.Address
	beacons map[common.Address]common.Address
	pools   map[common.Address]common.Address
	roles   map[common.Address]map[string][]common.Address
	closed  bool
}

// New returns an empty chain with id 31337 and a funded account.
func New() *Chain {
	return &Chain{
		ChainIDValue: big.NewInt(31337),
		AccountAddr:  common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		BalanceWei:   new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18)),
		Missing:      make(map[string]bool),
		ABIs:         make(map[string]string),
		Fail:         make(map[string]error),
		code:         make(map[common.Address]string),
		proxies:      make(map[common.Address]common.Address),
		beacons:      make(map[common.Address]common.Address),
		pools:        make(map[common.Address]common.Address),
		roles:        make(map[common.Address]map[string][]common.Address),
	}
}

// Calls returns every recorded call in order.
func (c *Chain) Calls() []Call {
	return append([]Call(nil), c.calls...)
}

// CallStrings returns the recorded calls rendered with Call.String.
func (c *Chain) CallStrings() []string {
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.String()
	}
	return out
}

// Closed reports whether Close was called.
func (c *Chain) Closed() bool {
	return c.closed
}

// Existing registers a contract named name at a fresh address, as if deployed
// in an earlier run, and returns its address.
func (c *Chain) Existing(name string) common.Address {
	addr := c.newAddress()
	c.code[addr] = name
	return addr
}

// ExistingProxy registers a proxy with an implementation, as if deployed in
// an earlier run.
func (c *Chain) ExistingProxy(name string) (proxy, impl common.Address) {
	impl = c.Existing(name)
	proxy = c.Existing("ERC1967Proxy")
	c.proxies[proxy] = impl
	return proxy, impl
}

// ExistingBeacon registers a beacon with an implementation.
func (c *Chain) ExistingBeacon(name string) (beacon, impl common.Address) {
	impl = c.Existing(name)
	beacon = c.Existing(chain.BeaconContract)
	c.beacons[beacon] = impl
	return beacon, impl
}

// NewBeaconProxy creates an instance bound to beacon, as the pool factory
// does on-chain.
func (c *Chain) NewBeaconProxy(beacon common.Address) (common.Address, error) {
	if _, ok := c.beacons[beacon]; !ok {
		return common.Address{}, fmt.Errorf("%w: %s is not a beacon", chain.ErrNotProxy, beacon.Hex())
	}
	addr := c.Existing("BeaconProxy")
	c.pools[addr] = beacon
	return addr, nil
}

// HasRole reports whether grantee holds the role named by accessor on token.
func (c *Chain) HasRole(token common.Address, accessor string, grantee common.Address) bool {
	for _, g := range c.roles[token][accessor] {
		if g == grantee {
			return true
		}
	}
	return false
}

// ChainID implements chain.Client.
func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	c.record("ChainID", "")
	if err := c.failure("ChainID", ""); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.ChainIDValue), nil
}

// Account implements chain.Client.
func (c *Chain) Account() common.Address {
	return c.AccountAddr
}

// Balance implements chain.Client.
func (c *Chain) Balance(_ context.Context, account common.Address) (*big.Int, error) {
	c.record("Balance", "", account)
	if err := c.failure("Balance", ""); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.BalanceWei), nil
}

// ContractFactory implements chain.Client.
func (c *Chain) ContractFactory(name string) (*chain.Factory, error) {
	c.record("ContractFactory", name)
	if err := c.failure("ContractFactory", name); err != nil {
		return nil, err
	}
	a, err := c.Load(name)
	if err != nil {
		return nil, err
	}
	return &chain.Factory{Name: name, Artifact: a}, nil
}

// Load implements artifact.Source. Loads are not recorded as calls.
func (c *Chain) Load(name string) (*artifact.Artifact, error) {
	if c.Missing[name] {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, name)
	}
	def, ok := c.ABIs[name]
	if !ok {
		def, ok = DefaultABIs[name]
	}
	if !ok {
		def = "[]"
	}
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		return nil, fmt.Errorf("parse %s abi: %w", name, err)
	}
	return &artifact.Artifact{Name: name, ABI: parsed, Bytecode: []byte{0x60, 0x80}}, nil
}

// Deploy implements chain.Client.
func (c *Chain) Deploy(_ context.Context, f *chain.Factory, args ...interface{}) (*chain.Contract, error) {
	c.record("Deploy", f.Name, args...)
	if err := c.failure("Deploy", f.Name); err != nil {
		return nil, err
	}
	addr := c.Existing(f.Name)
	return &chain.Contract{Name: f.Name, Address: addr, Kind: chain.KindPlain, TxHash: c.txHash()}, nil
}

// DeployProxy implements chain.Client.
func (c *Chain) DeployProxy(_ context.Context, f *chain.Factory, initializer string, args ...interface{}) (*chain.Contract, error) {
	c.record("DeployProxy", f.Name, append([]interface{}{initializer}, args...)...)
	if err := c.failure("DeployProxy", f.Name); err != nil {
		return nil, err
	}
	proxy, impl := c.ExistingProxy(f.Name)
	return &chain.Contract{Name: f.Name, Address: proxy, Kind: chain.KindProxy, Implementation: impl, TxHash: c.txHash()}, nil
}

// DeployBeacon implements chain.Client.
func (c *Chain) DeployBeacon(_ context.Context, f *chain.Factory) (*chain.Contract, error) {
	c.record("DeployBeacon", f.Name)
	if err := c.failure("DeployBeacon", f.Name); err != nil {
		return nil, err
	}
	beacon, impl := c.ExistingBeacon(f.Name)
	return &chain.Contract{Name: f.Name, Address: beacon, Kind: chain.KindBeacon, Implementation: impl, TxHash: c.txHash()}, nil
}

// UpgradeProxy implements chain.Client.
func (c *Chain) UpgradeProxy(_ context.Context, proxy common.Address, f *chain.Factory) (*chain.Contract, error) {
	c.record("UpgradeProxy", f.Name, proxy)
	if err := c.failure("UpgradeProxy", f.Name); err != nil {
		return nil, err
	}
	if _, ok := c.proxies[proxy]; !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrNotProxy, proxy.Hex())
	}
	impl := c.Existing(f.Name)
	c.proxies[proxy] = impl
	return &chain.Contract{Name: f.Name, Address: proxy, Kind: chain.KindProxy, Implementation: impl, TxHash: c.txHash()}, nil
}

// UpgradeBeacon implements chain.Client.
func (c *Chain) UpgradeBeacon(_ context.Context, beacon common.Address, f *chain.Factory) (*chain.Contract, error) {
	c.record("UpgradeBeacon", f.Name, beacon)
	if err := c.failure("UpgradeBeacon", f.Name); err != nil {
		return nil, err
	}
	if _, ok := c.beacons[beacon]; !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrNoCode, beacon.Hex())
	}
	impl := c.Existing(f.Name)
	c.beacons[beacon] = impl
	return &chain.Contract{Name: f.Name, Address: beacon, Kind: chain.KindBeacon, Implementation: impl, TxHash: c.txHash()}, nil
}

// Attach implements chain.Client.
func (c *Chain) Attach(_ context.Context, f *chain.Factory, addr common.Address) (*chain.Contract, error) {
	c.record("Attach", f.Name, addr)
	if err := c.failure("Attach", f.Name); err != nil {
		return nil, err
	}
	if _, ok := c.code[addr]; !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrNoCode, addr.Hex())
	}
	return &chain.Contract{Name: f.Name, Address: addr, Kind: chain.KindAttached, Implementation: c.proxies[addr]}, nil
}

// GrantRole implements chain.Client.
func (c *Chain) GrantRole(_ context.Context, token *chain.Contract, accessor string, grantee common.Address) (*chain.RoleGrant, error) {
	c.record("GrantRole", token.Name, accessor, grantee)
	if err := c.failure("GrantRole", token.Name); err != nil {
		return nil, err
	}
	if token.Address == (common.Address{}) || grantee == (common.Address{}) {
		return nil, chain.ErrZeroAddress
	}
	if _, ok := c.code[token.Address]; !ok {
		return nil, fmt.Errorf("%w: %s", chain.ErrNoCode, token.Address.Hex())
	}
	if c.roles[token.Address] == nil {
		c.roles[token.Address] = make(map[string][]common.Address)
	}
	c.roles[token.Address][accessor] = append(c.roles[token.Address][accessor], grantee)
	return &chain.RoleGrant{
		Token:    token.Address,
		Accessor: accessor,
		Role:     crypto.Keccak256Hash([]byte(strings.TrimSuffix(accessor, "()"))),
		Grantee:  grantee,
		TxHash:   c.txHash(),
	}, nil
}

// Implementation implements chain.Client.
func (c *Chain) Implementation(_ context.Context, addr common.Address) (common.Address, error) {
	c.record("Implementation", "", addr)
	if impl, ok := c.proxies[addr]; ok {
		return impl, nil
	}
	if beacon, ok := c.pools[addr]; ok {
		return c.beacons[beacon], nil
	}
	if impl, ok := c.beacons[addr]; ok {
		return impl, nil
	}
	return common.Address{}, fmt.Errorf("%w: %s", chain.ErrNotProxy, addr.Hex())
}

// Close implements chain.Client.
func (c *Chain) Close() {
	c.closed = true
}

func (c *Chain) record(method, name string, args ...interface{}) {
	c.calls = append(c.calls, Call{Method: method, Name: name, Args: args})
}

func (c *Chain) failure(method, name string) error {
	return c.Fail[Call{Method: method, Name: name}.String()]
}

func (c *Chain) newAddress() common.Address {
	c.nonce++
	return crypto.CreateAddress(c.AccountAddr, c.nonce)
}

func (c *Chain) txHash() common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(c.nonce))
}

var (
	_ chain.Client    = (*Chain)(nil)
	_ artifact.Source = (*Chain)(nil)
)
