package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// Sentinel errors
var (
	ErrNoAccounts        = errors.New("node returned no accounts")
	ErrSignerUnsupported = errors.New("node does not sign transactions")
)

// JSON-RPC codes for a method the node does not serve.
const (
	rpcMethodNotFound     = -32601
	rpcMethodNotSupported = -32004
)

// Signer produces transaction options for the deploying account.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// KeySigner signs locally with an ECDSA private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		// never echo the key material
		return nil, errors.New("invalid private key")
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the signer address.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// TransactOpts returns keyed transactor options bound to ctx.
func (s *KeySigner) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// RPCCaller is the subset of rpc.Client used by NodeSigner.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// NodeSigner delegates signing to an account managed by the RPC node. The
// node must serve eth_signTransaction for an unlocked account: Hardhat, Anvil
// and geth with clef or an unlocked keystore do, hosted RPC providers do not.
type NodeSigner struct {
	rpc     RPCCaller
	address common.Address
}

// NewNodeSigner uses the first account reported by eth_accounts.
func NewNodeSigner(ctx context.Context, rpc RPCCaller) (*NodeSigner, error) {
	var accounts []common.Address
	if err := rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, fmt.Errorf("eth_accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return &NodeSigner{rpc: rpc, address: accounts[0]}, nil
}

// Address returns the node account.
func (s *NodeSigner) Address() common.Address {
	return s.address
}

// TransactOpts returns options whose SignerFn calls eth_signTransaction.
func (s *NodeSigner) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{
		From:    s.address,
		Context: ctx,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != s.address {
				return nil, bind.ErrNotAuthorized
			}
			return s.signTransaction(ctx, chainID, addr, tx)
		},
	}, nil
}

func (s *NodeSigner) signTransaction(ctx context.Context, chainID *big.Int, addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
	var result json.RawMessage
	if err := s.rpc.CallContext(ctx, &result, "eth_signTransaction", buildTxArgs(chainID, addr, tx)); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && (rpcErr.ErrorCode() == rpcMethodNotFound || rpcErr.ErrorCode() == rpcMethodNotSupported) {
			return nil, fmt.Errorf("%w: eth_signTransaction: %v; use a key based signer (aws, bao, keyfile or env)", ErrSignerUnsupported, err)
		}
		return nil, fmt.Errorf("eth_signTransaction: %w", err)
	}

	// Hardhat returns the raw hex string, geth returns {"raw": ..., "tx": ...}.
	var rawHex string
	if err := json.Unmarshal(result, &rawHex); err != nil {
		var signed struct {
			Raw hexutil.Bytes `json:"raw"`
		}
		if err := json.Unmarshal(result, &signed); err != nil {
			return nil, fmt.Errorf("unmarshal signed transaction: %w", err)
		}
		rawHex = hexutil.Encode(signed.Raw)
	}

	txBytes, err := hexutil.Decode(rawHex)
	if err != nil {
		return nil, fmt.Errorf("decode signed transaction: %w", err)
	}
	var signedTx types.Transaction
	if err := signedTx.UnmarshalBinary(txBytes); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &signedTx, nil
}

// txArgs are the eth_signTransaction arguments.
type txArgs struct {
	From                 string  `json:"from"`
	To                   *string `json:"to,omitempty"`
	Gas                  string  `json:"gas"`
	GasPrice             *string `json:"gasPrice,omitempty"`
	MaxFeePerGas         *string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *string `json:"maxPriorityFeePerGas,omitempty"`
	Value                string  `json:"value"`
	Nonce                string  `json:"nonce"`
	Data                 string  `json:"data,omitempty"`
	ChainID              string  `json:"chainId"`
}

func buildTxArgs(chainID *big.Int, addr common.Address, tx *types.Transaction) txArgs {
	args := txArgs{
		From:    addr.Hex(),
		Gas:     hexutil.EncodeUint64(tx.Gas()),
		Value:   hexutil.EncodeBig(tx.Value()),
		Nonce:   hexutil.EncodeUint64(tx.Nonce()),
		ChainID: hexutil.EncodeBig(chainID),
	}
	if tx.To() != nil {
		to := tx.To().Hex()
		args.To = &to
	}
	if len(tx.Data()) > 0 {
		args.Data = hexutil.Encode(tx.Data())
	}

	switch tx.Type() {
	case types.DynamicFeeTxType:
		maxFee := hexutil.EncodeBig(tx.GasFeeCap())
		maxTip := hexutil.EncodeBig(tx.GasTipCap())
		args.MaxFeePerGas = &maxFee
		args.MaxPriorityFeePerGas = &maxTip
	default:
		gasPrice := hexutil.EncodeBig(tx.GasPrice())
		args.GasPrice = &gasPrice
	}
	return args
}
