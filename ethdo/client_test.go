package ethdo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEthdo writes a shell script standing in for the ethdo binary
func fakeEthdo(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ethdo")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755)
	require.NoError(t, err)
	return path
}

func newTestClient(t *testing.T, script string, timeout time.Duration) *Client {
	return NewClient(slog.Default(), fakeEthdo(t, script), "", timeout)
}

func TestClient_ListWallets(t *testing.T) {
	client := newTestClient(t, `printf 'validator\n\nwithdrawal\n'`, time.Second)

	wallets, err := client.ListWallets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"validator", "withdrawal"}, wallets)
}

func TestClient_PassesArguments(t *testing.T) {
	client := NewClient(slog.Default(), fakeEthdo(t, `echo "$@"`), "/tmp/wallets", time.Second)

	out, err := client.run(context.Background(), "wallet", "info", "--wallet=validator")
	require.NoError(t, err)
	assert.Equal(t, "wallet info --wallet=validator --base-dir=/tmp/wallets", strings.TrimSpace(out))
}

func TestClient_NotFound(t *testing.T) {
	client := newTestClient(t, `echo "wallet not found" >&2; exit 1`, time.Second)

	err := client.WalletInfo(context.Background(), "validator")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 1, toolErr.ExitCode)
	assert.Equal(t, "wallet info", toolErr.Command)
	assert.Equal(t, "wallet not found", toolErr.Output)
}

func TestClient_ToolError(t *testing.T) {
	client := newTestClient(t, `echo "invalid passphrase"; exit 3`, time.Second)

	err := client.CreateAccount(context.Background(), "validator/1", "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Equal(t, "account create", toolErr.Command)
	assert.Equal(t, "invalid passphrase", toolErr.Output)
	assert.NotContains(t, toolErr.Error(), "secret")
}

func TestToolError_NotFound(t *testing.T) {
	tests := []struct {
		output   string
		notFound bool
	}{
		{"wallet not found", true},
		{"Account not found", true},
		{"failed to obtain validator account: account not found", true},
		{"failed to access wallet: permission denied", false},
		{"failed to obtain account: invalid passphrase", false},
		{"", false},
	}
	for _, test := range tests {
		err := error(&ToolError{Command: "wallet info", ExitCode: 1, Output: test.output})
		assert.Equal(t, test.notFound, errors.Is(err, ErrNotFound), test.output)
	}
}

func TestClient_ToolUnavailable(t *testing.T) {
	client := NewClient(slog.Default(), filepath.Join(t.TempDir(), "missing"), "", time.Second)

	_, err := client.ListWallets(context.Background())
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestClient_Timeout(t *testing.T) {
	client := newTestClient(t, `exec sleep 5`, 100*time.Millisecond)

	startTime := time.Now()
	_, err := client.ListWallets(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(startTime), 3*time.Second)
}

func TestClient_ParentContextCancelled(t *testing.T) {
	client := newTestClient(t, `exec sleep 5`, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ListWallets(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestClient_DepositData(t *testing.T) {
	client := newTestClient(t, `echo "$@"`, time.Second)

	out, err := client.DepositData(context.Background(), DepositDataParams{
		ValidatorAccount:  "validator/1",
		Passphrase:        "pass",
		WithdrawalAccount: "withdrawal/main",
		DepositValue:      "32Ether",
	})
	require.NoError(t, err)
	assert.Equal(t, "validator depositdata --validatoraccount=validator/1 --passphrase=pass --withdrawalaccount=withdrawal/main --depositvalue=32Ether --raw", out)
}

func TestParseVerboseAccounts(t *testing.T) {
	out := "1\n" +
		"  UUID:\t\t8f2d4f5e-1c2b-4a3d-9e8f-0a1b2c3d4e5f\n" +
		"  Public key:\t0xaaaa\n" +
		"2\n" +
		"  Public key:\t0xbbbb\n" +
		"3\n"

	accounts, err := parseVerboseAccounts(out)
	require.NoError(t, err)
	assert.Equal(t, []AccountInfo{
		{Name: "1", PublicKey: "0xaaaa"},
		{Name: "2", PublicKey: "0xbbbb"},
		{Name: "3"},
	}, accounts)
}

func TestParseVerboseAccounts_Orphan(t *testing.T) {
	_, err := parseVerboseAccounts("  Public key: 0xaaaa\n")
	assert.Error(t, err)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "wallet list", commandName([]string{"wallet", "list"}))
	assert.Equal(t, "account create", commandName([]string{"account", "create", "--passphrase=x"}))
	assert.Equal(t, "version", commandName([]string{"version", "--help"}))
}
