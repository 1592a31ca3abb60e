package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/aspecta/points-deployer/internal/artifact"
)

// Backend is the RPC surface EthClient needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Config configures Dial.
type Config struct {
	RPCURL string
	// PrivateKey is a hex key. Empty selects the node-managed account.
	PrivateKey string
	ProxyKind  ProxyKind
	Artifacts  artifact.Source
	Logger     *slog.Logger
}

// EthClient implements Client with go-ethereum.
type EthClient struct {
	backend   Backend
	signer    Signer
	chainID   *big.Int
	artifacts artifact.Source
	proxyKind ProxyKind
	logger    *slog.Logger
}

// Dial connects to cfg.RPCURL and resolves the signer.
func Dial(ctx context.Context, cfg Config) (*EthClient, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", redactURL(cfg.RPCURL), err)
	}
	backend := ethclient.NewClient(rpcClient)

	var signer Signer
	if cfg.PrivateKey != "" {
		ks, err := NewKeySigner(cfg.PrivateKey)
		if err != nil {
			backend.Close()
			return nil, err
		}
		signer = ks
	} else {
		ns, err := NewNodeSigner(ctx, rpcClient)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("resolve node account: %w", err)
		}
		signer = ns
	}

	c, err := NewEthClient(ctx, backend, signer, cfg)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return c, nil
}

// NewEthClient wraps an existing backend.
func NewEthClient(ctx context.Context, backend Backend, signer Signer, cfg Config) (*EthClient, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	kind, err := ParseProxyKind(string(cfg.ProxyKind))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EthClient{
		backend:   backend,
		signer:    signer,
		chainID:   chainID,
		artifacts: cfg.Artifacts,
		proxyKind: kind,
		logger:    logger,
	}, nil
}

// ChainID returns the chain ID read at connect time.
func (c *EthClient) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// Account returns the signing account.
func (c *EthClient) Account() common.Address {
	return c.signer.Address()
}

// Balance returns the latest balance of account in wei.
func (c *EthClient) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// ContractFactory resolves the named artifact.
func (c *EthClient) ContractFactory(name string) (*Factory, error) {
	if c.artifacts == nil {
		return nil, errors.New("no artifact source configured")
	}
	a, err := c.artifacts.Load(name)
	if err != nil {
		return nil, err
	}
	return &Factory{Name: name, Artifact: a}, nil
}

// Deploy deploys a plain contract.
func (c *EthClient) Deploy(ctx context.Context, f *Factory, args ...interface{}) (*Contract, error) {
	addr, txHash, err := c.deploy(ctx, f.Artifact, args...)
	if err != nil {
		return nil, err
	}
	return &Contract{Name: f.Name, Address: addr, Kind: KindPlain, TxHash: txHash}, nil
}

// DeployProxy deploys an implementation and a proxy in front of it, calling
// initializer through the proxy. Transparent proxies take the OpenZeppelin v5
// constructor (logic, initialOwner, data), which creates the ProxyAdmin.
func (c *EthClient) DeployProxy(ctx context.Context, f *Factory, initializer string, args ...interface{}) (*Contract, error) {
	var initData []byte
	if initializer != "" {
		data, err := f.Artifact.Pack(initializer, args...)
		if err != nil {
			return nil, err
		}
		initData = data
	}

	proxyName := TransparentProxyContract
	if c.proxyKind == ProxyUUPS {
		proxyName = ERC1967ProxyContract
	}
	proxyArt, err := c.infra(proxyName)
	if err != nil {
		return nil, err
	}

	impl, _, err := c.deploy(ctx, f.Artifact)
	if err != nil {
		return nil, err
	}

	proxyArgs := []interface{}{impl, c.Account(), initData}
	if c.proxyKind == ProxyUUPS {
		proxyArgs = []interface{}{impl, initData}
	}
	proxyAddr, txHash, err := c.deploy(ctx, proxyArt, proxyArgs...)
	if err != nil {
		return nil, err
	}

	c.logger.Info("proxy deployed",
		slog.String("contract", f.Name),
		slog.String("proxy", proxyAddr.Hex()),
		slog.String("implementation", impl.Hex()),
		slog.String("proxy_kind", string(c.proxyKind)),
	)
	return &Contract{Name: f.Name, Address: proxyAddr, Kind: KindProxy, Implementation: impl, TxHash: txHash}, nil
}

// DeployBeacon deploys an implementation and an UpgradeableBeacon owned by
// the signer. A one-argument constructor is the OpenZeppelin v4 beacon,
// which takes its owner from the sender.
func (c *EthClient) DeployBeacon(ctx context.Context, f *Factory) (*Contract, error) {
	beaconArt, err := c.infra(BeaconContract)
	if err != nil {
		return nil, err
	}
	impl, _, err := c.deploy(ctx, f.Artifact)
	if err != nil {
		return nil, err
	}
	beaconArgs := []interface{}{impl, c.Account()}
	if len(beaconArt.ABI.Constructor.Inputs) == 1 {
		beaconArgs = beaconArgs[:1]
	}
	beacon, txHash, err := c.deploy(ctx, beaconArt, beaconArgs...)
	if err != nil {
		return nil, err
	}
	return &Contract{Name: f.Name, Address: beacon, Kind: KindBeacon, Implementation: impl, TxHash: txHash}, nil
}

// UpgradeProxy deploys a new implementation and points proxy at it. A proxy
// with an admin slot is upgraded through its ProxyAdmin, otherwise it is
// treated as UUPS. Contracts reporting UPGRADE_INTERFACE_VERSION "5.0.0" get
// the v5 *AndCall entry points, older ones the v4 upgrade and upgradeTo.
func (c *EthClient) UpgradeProxy(ctx context.Context, proxy common.Address, f *Factory) (*Contract, error) {
	current, err := c.readSlot(ctx, proxy, ImplementationSlot)
	if err != nil {
		return nil, err
	}
	if current == (common.Address{}) {
		return nil, fmt.Errorf("%w: %s", ErrNotProxy, proxy.Hex())
	}
	admin, err := c.readSlot(ctx, proxy, AdminSlot)
	if err != nil {
		return nil, err
	}

	impl, _, err := c.deploy(ctx, f.Artifact)
	if err != nil {
		return nil, err
	}

	opts, err := c.signer.TransactOpts(ctx, c.chainID)
	if err != nil {
		return nil, err
	}
	var tx *types.Transaction
	switch {
	case admin != (common.Address{}) && c.upgradeInterfaceVersion(ctx, admin) == upgradeInterfaceV5:
		tx, err = c.bound(admin, proxyAdminABI).Transact(opts, "upgradeAndCall", proxy, impl, []byte{})
	case admin != (common.Address{}):
		tx, err = c.bound(admin, proxyAdminABI).Transact(opts, "upgrade", proxy, impl)
	case c.upgradeInterfaceVersion(ctx, proxy) == upgradeInterfaceV5:
		tx, err = c.bound(proxy, uupsABI).Transact(opts, "upgradeToAndCall", impl, []byte{})
	default:
		tx, err = c.bound(proxy, uupsABI).Transact(opts, "upgradeTo", impl)
	}
	if err != nil {
		return nil, fmt.Errorf("upgrade %s: %w", f.Name, err)
	}
	if _, err := c.waitSuccess(ctx, tx, "upgrade "+f.Name); err != nil {
		return nil, err
	}

	after, err := c.readSlot(ctx, proxy, ImplementationSlot)
	if err != nil {
		return nil, err
	}
	if after != impl {
		return nil, fmt.Errorf("%w: %s implementation is %s after upgrade, want %s",
			ErrTransactionFailed, proxy.Hex(), after.Hex(), impl.Hex())
	}

	c.logger.Info("proxy upgraded",
		slog.String("contract", f.Name),
		slog.String("proxy", proxy.Hex()),
		slog.String("old_implementation", current.Hex()),
		slog.String("implementation", impl.Hex()),
	)
	return &Contract{Name: f.Name, Address: proxy, Kind: KindProxy, Implementation: impl, TxHash: tx.Hash()}, nil
}

// UpgradeBeacon deploys a new implementation and sets it on beacon.
func (c *EthClient) UpgradeBeacon(ctx context.Context, beacon common.Address, f *Factory) (*Contract, error) {
	if err := c.requireCode(ctx, beacon); err != nil {
		return nil, err
	}
	impl, _, err := c.deploy(ctx, f.Artifact)
	if err != nil {
		return nil, err
	}

	opts, err := c.signer.TransactOpts(ctx, c.chainID)
	if err != nil {
		return nil, err
	}
	tx, err := c.bound(beacon, beaconABI).Transact(opts, "upgradeTo", impl)
	if err != nil {
		return nil, fmt.Errorf("upgrade beacon %s: %w", f.Name, err)
	}
	if _, err := c.waitSuccess(ctx, tx, "upgrade beacon "+f.Name); err != nil {
		return nil, err
	}
	return &Contract{Name: f.Name, Address: beacon, Kind: KindBeacon, Implementation: impl, TxHash: tx.Hash()}, nil
}

// Attach returns a handle to an existing contract.
func (c *EthClient) Attach(ctx context.Context, f *Factory, addr common.Address) (*Contract, error) {
	if err := c.requireCode(ctx, addr); err != nil {
		return nil, err
	}
	impl, err := c.readSlot(ctx, addr, ImplementationSlot)
	if err != nil {
		return nil, err
	}
	return &Contract{Name: f.Name, Address: addr, Kind: KindAttached, Implementation: impl}, nil
}

// GrantRole reads the role id from the accessor on token, grants it to
// grantee and checks hasRole afterwards.
func (c *EthClient) GrantRole(ctx context.Context, token *Contract, accessor string, grantee common.Address) (*RoleGrant, error) {
	if token == nil || token.Address == (common.Address{}) {
		return nil, fmt.Errorf("grant role: token: %w", ErrZeroAddress)
	}
	if grantee == (common.Address{}) {
		return nil, fmt.Errorf("grant role: grantee: %w", ErrZeroAddress)
	}

	acABI, err := accessControlABI(accessor)
	if err != nil {
		return nil, err
	}
	bound := c.bound(token.Address, acABI)
	callOpts := &bind.CallOpts{Context: ctx, From: c.Account()}

	var out []interface{}
	if err := bound.Call(callOpts, &out, accessor); err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", token.Name, accessor, err)
	}
	role := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)

	opts, err := c.signer.TransactOpts(ctx, c.chainID)
	if err != nil {
		return nil, err
	}
	tx, err := bound.Transact(opts, "grantRole", role, grantee)
	if err != nil {
		return nil, fmt.Errorf("grant %s: %w", accessor, err)
	}
	if _, err := c.waitSuccess(ctx, tx, "grantRole "+accessor); err != nil {
		return nil, err
	}

	out = nil
	if err := bound.Call(callOpts, &out, "hasRole", role, grantee); err != nil {
		return nil, fmt.Errorf("call hasRole: %w", err)
	}
	if has, _ := out[0].(bool); !has {
		return nil, fmt.Errorf("%w: %s not held by %s after grant", ErrTransactionFailed, accessor, grantee.Hex())
	}

	return &RoleGrant{
		Token:    token.Address,
		Accessor: accessor,
		Role:     common.Hash(role),
		Grantee:  grantee,
		TxHash:   tx.Hash(),
	}, nil
}

// Implementation resolves the logic contract behind a proxy, following a
// beacon if the proxy is a BeaconProxy.
func (c *EthClient) Implementation(ctx context.Context, addr common.Address) (common.Address, error) {
	impl, err := c.readSlot(ctx, addr, ImplementationSlot)
	if err != nil {
		return common.Address{}, err
	}
	if impl != (common.Address{}) {
		return impl, nil
	}

	beacon, err := c.readSlot(ctx, addr, BeaconSlot)
	if err != nil {
		return common.Address{}, err
	}
	if beacon == (common.Address{}) {
		// addr may itself be a beacon
		beacon = addr
	}

	var out []interface{}
	if err := c.bound(beacon, beaconABI).Call(&bind.CallOpts{Context: ctx}, &out, "implementation"); err != nil {
		return common.Address{}, fmt.Errorf("%w: %s", ErrNotProxy, addr.Hex())
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// Close releases the RPC connection.
func (c *EthClient) Close() {
	c.backend.Close()
}

// upgradeInterfaceVersion returns UPGRADE_INTERFACE_VERSION of addr, or ""
// when the contract does not declare it.
func (c *EthClient) upgradeInterfaceVersion(ctx context.Context, addr common.Address) string {
	var out []interface{}
	if err := c.bound(addr, upgradeInterfaceABI).Call(&bind.CallOpts{Context: ctx}, &out, "UPGRADE_INTERFACE_VERSION"); err != nil || len(out) == 0 {
		return ""
	}
	version, _ := out[0].(string)
	return version
}

func (c *EthClient) infra(name string) (*artifact.Artifact, error) {
	f, err := c.ContractFactory(name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return f.Artifact, nil
}

func (c *EthClient) deploy(ctx context.Context, a *artifact.Artifact, args ...interface{}) (common.Address, common.Hash, error) {
	if a == nil {
		return common.Address{}, common.Hash{}, errors.New("deploy: nil artifact")
	}
	opts, err := c.signer.TransactOpts(ctx, c.chainID)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}

	addr, tx, _, err := bind.DeployContract(opts, a.ABI, a.Bytecode, c.backend, args...)
	if err != nil {
		return common.Address{}, common.Hash{}, fmt.Errorf("deploy %s: %w", a.Name, err)
	}
	receipt, err := c.waitSuccess(ctx, tx, "deploy "+a.Name)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	if receipt.ContractAddress != (common.Address{}) {
		addr = receipt.ContractAddress
	}

	c.logger.Debug("contract deployed",
		slog.String("contract", a.Name),
		slog.String("address", addr.Hex()),
		slog.Uint64("block_number", receipt.BlockNumber.Uint64()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return addr, tx.Hash(), nil
}

func (c *EthClient) waitSuccess(ctx context.Context, tx *types.Transaction, what string) (*types.Receipt, error) {
	c.logger.Debug("transaction submitted, waiting for confirmation",
		slog.String("action", what),
		slog.String("tx_hash", tx.Hash().Hex()),
	)
	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", what, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s reverted in %s", ErrTransactionFailed, what, tx.Hash().Hex())
	}
	return receipt, nil
}

func (c *EthClient) bound(addr common.Address, parsed abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(addr, parsed, c.backend, c.backend, c.backend)
}

func (c *EthClient) readSlot(ctx context.Context, addr common.Address, slot common.Hash) (common.Address, error) {
	data, err := c.backend.StorageAt(ctx, addr, slot, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("read storage of %s: %w", addr.Hex(), err)
	}
	return slotAddress(data), nil
}

func (c *EthClient) requireCode(ctx context.Context, addr common.Address) error {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("get code of %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return fmt.Errorf("%w: %s", ErrNoCode, addr.Hex())
	}
	return nil
}

// slotAddress decodes an address stored right-aligned in a 32-byte slot.
func slotAddress(data []byte) common.Address {
	return common.BytesToAddress(data)
}

// redactURL strips userinfo and the query string from an RPC URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "rpc endpoint"
	}
	u.User = nil
	u.RawQuery = ""
	return u.Scheme + "://" + u.Host
}

var _ Client = (*EthClient)(nil)
