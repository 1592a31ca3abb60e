package preflight

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aspecta/points-deployer/internal/chain/chaintest"
)

func TestWeiToETHString(t *testing.T) {
	tests := []struct {
		name string
		wei  *big.Int
		want string
	}{
		{"nil", nil, "0.0"},
		{"zero", big.NewInt(0), "0.0"},
		{"one ether", big.NewInt(1e18), "1.0"},
		{"half ether", big.NewInt(5e17), "0.5"},
		{"one wei", big.NewInt(1), "0.000000000000000001"},
		{"hardhat default", new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18)), "10000.0"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, WeiToETHString(tc.wei))
		})
	}
}

func TestNetworkName(t *testing.T) {
	assert.Equal(t, "hardhat", NetworkName(31337))
	assert.Equal(t, "localhost", NetworkName(1337))
	assert.Equal(t, "ethereum-mainnet", NetworkName(1))
	assert.Equal(t, "chain-987654321987", NetworkName(987654321987))
}

func TestChecker_Check(t *testing.T) {
	c := chaintest.New()

	report, err := NewChecker(nil).Check(context.Background(), c, 0)
	require.NoError(t, err)
	assert.Equal(t, "hardhat", report.Name)
	assert.Equal(t, int64(31337), report.ChainID.Int64())
	assert.Equal(t, c.AccountAddr, report.Account)
	assert.Equal(t, "10000.0", report.Balance)
	require.Len(t, report.Checks, 1)
	assert.True(t, report.Checks[0].Passed)
}

func TestChecker_ChainIDMismatch(t *testing.T) {
	c := chaintest.New()

	report, err := NewChecker(nil).Check(context.Background(), c, 11155111)
	assert.ErrorIs(t, err, ErrChainIDMismatch)
	require.NotNil(t, report)
	require.Len(t, report.Checks, 1)
	assert.False(t, report.Checks[0].Passed)
	assert.NotContains(t, c.CallStrings(), "Balance")
}

func TestChecker_ZeroBalanceWarns(t *testing.T) {
	c := chaintest.New()
	c.BalanceWei = big.NewInt(0)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	report, err := NewChecker(logger).Check(context.Background(), c, 31337)
	require.NoError(t, err)
	assert.Equal(t, "0.0", report.Balance)
	require.Len(t, report.Checks, 2)
	assert.True(t, report.Checks[0].Passed)
	assert.False(t, report.Checks[1].Passed)
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestChecker_RPCError(t *testing.T) {
	c := chaintest.New()
	c.Fail["ChainID"] = errors.New("connection refused")

	_, err := NewChecker(nil).Check(context.Background(), c, 0)
	assert.ErrorContains(t, err, "connection refused")
}
