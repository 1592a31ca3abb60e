// Package preflight reports the network and deploying account before any
// transaction is sent.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	chainselectors "github.com/smartcontractkit/chain-selectors"
)

// ErrChainIDMismatch is returned when the connected chain differs from the
// expected one.
var ErrChainIDMismatch = errors.New("chain ID mismatch")

// CheckName identifies a specific pre-flight check.
type CheckName string

const (
	// CheckChainIDMatch verifies the chain ID matches the expected value.
	CheckChainIDMatch CheckName = "chain_id_match"
	// CheckDeployerBalance verifies the deployer holds some funds.
	CheckDeployerBalance CheckName = "deployer_balance"
)

// CheckResult represents the result of a single pre-flight check.
type CheckResult struct {
	Name    CheckName `json:"name" yaml:"name"`
	Passed  bool      `json:"passed" yaml:"passed"`
	Message string    `json:"message" yaml:"message"`
}

// Client is the read surface preflight needs.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Account() common.Address
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// NetworkReport is the diagnostic header printed before a run.
type NetworkReport struct {
	Name       string         `json:"network" yaml:"network"`
	ChainID    *big.Int       `json:"chainId" yaml:"chainId"`
	Account    common.Address `json:"account" yaml:"account"`
	BalanceWei *big.Int       `json:"balanceWei" yaml:"balanceWei"`
	Balance    string         `json:"balance" yaml:"balance"`
	Checks     []CheckResult  `json:"checks" yaml:"checks"`
}

// Checker performs pre-flight checks.
type Checker struct {
	logger *slog.Logger
}

// NewChecker creates a new pre-flight checker.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{logger: logger}
}

// Check reads chain ID, account and balance. A non-zero expectedChainID that
// does not match is fatal; a zero balance only produces a warning.
func (c *Checker) Check(ctx context.Context, client Client, expectedChainID uint64) (*NetworkReport, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain ID: %w", err)
	}

	report := &NetworkReport{
		Name:    NetworkName(chainID.Uint64()),
		ChainID: chainID,
		Account: client.Account(),
	}

	if expectedChainID != 0 {
		result := checkChainIDMatch(chainID, expectedChainID)
		report.Checks = append(report.Checks, result)
		if !result.Passed {
			return report, fmt.Errorf("%w: expected %d, got %s", ErrChainIDMismatch, expectedChainID, chainID)
		}
	}

	balance, err := client.Balance(ctx, report.Account)
	if err != nil {
		return report, err
	}
	report.BalanceWei = balance
	report.Balance = WeiToETHString(balance)

	result := checkDeployerBalance(balance)
	report.Checks = append(report.Checks, result)
	if !result.Passed {
		c.logger.Warn("deployer has no balance, transactions will fail unless the network is gasless",
			slog.String("account", report.Account.Hex()),
			slog.String("network", report.Name),
		)
	}

	c.logger.Info("preflight complete",
		slog.String("network", report.Name),
		slog.String("chain_id", chainID.String()),
		slog.String("account", report.Account.Hex()),
		slog.String("balance_eth", report.Balance),
	)
	return report, nil
}

func checkChainIDMatch(actual *big.Int, expected uint64) CheckResult {
	if actual.Cmp(new(big.Int).SetUint64(expected)) != 0 {
		return CheckResult{
			Name:    CheckChainIDMatch,
			Message: fmt.Sprintf("Chain ID mismatch: expected %d, got %s", expected, actual),
		}
	}
	return CheckResult{
		Name:    CheckChainIDMatch,
		Passed:  true,
		Message: fmt.Sprintf("Chain ID %d confirmed", expected),
	}
}

func checkDeployerBalance(balance *big.Int) CheckResult {
	if balance == nil || balance.Sign() == 0 {
		return CheckResult{
			Name:    CheckDeployerBalance,
			Message: "Deployer has no balance",
		}
	}
	return CheckResult{
		Name:    CheckDeployerBalance,
		Passed:  true,
		Message: fmt.Sprintf("Deployer balance: %s ETH", WeiToETHString(balance)),
	}
}

// WeiToETHString renders wei as an exact ether amount with at least one
// fractional digit, e.g. "0.5", "10000.0".
func WeiToETHString(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(wei, -18).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// local development networks, named the way their tooling names them
var localNetworks = map[uint64]string{
	1337:  "localhost",
	31337: "hardhat",
}

// NetworkName returns a human-readable name for a chain ID.
func NetworkName(chainID uint64) string {
	if name, ok := localNetworks[chainID]; ok {
		return name
	}
	if name, err := chainselectors.NameFromChainId(chainID); err == nil && name != "" {
		return name
	}
	return fmt.Sprintf("chain-%d", chainID)
}
