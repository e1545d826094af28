package ethdo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const (
	DefaultBinary  = "ethdo"
	DefaultTimeout = 30 * time.Second

	// time to wait for the output pipes after the process was killed
	waitDelay = time.Second
)

// Client invokes the ethdo binary, one short-lived process per command
type Client struct {
	logger  *slog.Logger
	binary  string
	baseDir string
	timeout time.Duration
}

// NewClient creates a client for the given binary. An empty baseDir uses ethdo's default wallet location.
func NewClient(logger *slog.Logger, binary string, baseDir string, timeout time.Duration) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		logger:  logger.With("module", "ethdo"),
		binary:  binary,
		baseDir: baseDir,
		timeout: timeout,
	}
}

// run executes ethdo with args and returns its standard output
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if c.baseDir != "" {
		args = append(args, "--base-dir="+c.baseDir)
	}
	command := commandName(args)
	logger := c.logger.With(slog.String("command", command))
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	logger.Debug("ran ethdo", slog.Duration("timeElapsed", time.Since(startTime)))
	if err == nil {
		return stdout.String(), nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Error("ethdo timed out", slog.Duration("timeout", c.timeout))
		return "", fmt.Errorf("%w: %s after %s", ErrTimeout, command, c.timeout)
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("ethdo %s: %w", command, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		output := strings.TrimSpace(stderr.String())
		if output == "" {
			output = strings.TrimSpace(stdout.String())
		}
		return "", &ToolError{
			Command:  command,
			ExitCode: exitErr.ExitCode(),
			Output:   output,
		}
	}

	logger.Error("error running ethdo", slog.String("error", err.Error()))
	return "", errors.Join(ErrToolUnavailable, err)
}

// ListWallets returns the names of all wallets
func (c *Client) ListWallets(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "wallet", "list")
	if err != nil {
		return nil, err
	}
	return parseLines(out), nil
}

// WalletInfo fails with ErrNotFound if the wallet does not exist
func (c *Client) WalletInfo(ctx context.Context, wallet string) error {
	_, err := c.run(ctx, "wallet", "info", "--wallet="+wallet)
	return err
}

func (c *Client) CreateWallet(ctx context.Context, wallet string) error {
	_, err := c.run(ctx, "wallet", "create", "--wallet="+wallet)
	return err
}

// ListAccounts returns the account names of a wallet
func (c *Client) ListAccounts(ctx context.Context, wallet string) ([]string, error) {
	out, err := c.run(ctx, "wallet", "accounts", "--wallet="+wallet)
	if err != nil {
		return nil, err
	}
	return parseLines(out), nil
}

// ListAccountsVerbose returns the accounts of a wallet with their public keys
func (c *Client) ListAccountsVerbose(ctx context.Context, wallet string) ([]AccountInfo, error) {
	out, err := c.run(ctx, "wallet", "accounts", "--wallet="+wallet, "--verbose")
	if err != nil {
		return nil, err
	}
	return parseVerboseAccounts(out)
}

// CreateAccount creates wallet/name protected by passphrase
func (c *Client) CreateAccount(ctx context.Context, account string, passphrase string) error {
	_, err := c.run(ctx, "account", "create", "--account="+account, "--passphrase="+passphrase)
	return err
}

// DepositData returns the raw deposit transaction data as a 0x prefixed hex string
func (c *Client) DepositData(ctx context.Context, params DepositDataParams) (string, error) {
	out, err := c.run(ctx,
		"validator", "depositdata",
		"--validatoraccount="+params.ValidatorAccount,
		"--passphrase="+params.Passphrase,
		"--withdrawalaccount="+params.WithdrawalAccount,
		"--depositvalue="+params.DepositValue,
		"--raw",
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
