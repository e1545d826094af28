package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strconv"

	"eth2ValidatorNode/contracts"
	"eth2ValidatorNode/ethdo"
)

// upper bound when looking for a free validator number
const maxValidatorNumber = 1 << 16

type Manager struct {
	tool            Tool
	depositContract *contracts.DepositContract
	logger          *slog.Logger
}

func NewManager(tool Tool, depositContract *contracts.DepositContract, logger *slog.Logger) *Manager {
	return &Manager{
		tool:            tool,
		depositContract: depositContract,
		logger:          logger.With("module", "wallet"),
	}
}

func (m *Manager) ListWallets(ctx context.Context) ([]string, error) {
	return m.tool.ListWallets(ctx)
}

func (m *Manager) ListAccounts(ctx context.Context, wallet string) ([]string, error) {
	return m.tool.ListAccounts(ctx, wallet)
}

// ListAll returns every wallet with its accounts, both sorted by name
func (m *Manager) ListAll(ctx context.Context) ([]WalletAccounts, error) {
	names, err := m.tool.ListWallets(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)

	wallets := make([]WalletAccounts, 0, len(names))
	for _, name := range names {
		accounts, err := m.tool.ListAccounts(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts of wallet %s: %w", name, err)
		}
		slices.Sort(accounts)
		wallets = append(wallets, WalletAccounts{Name: name, Accounts: accounts})
	}
	return wallets, nil
}

// EnsureWallet creates the wallet unless it already exists
func (m *Manager) EnsureWallet(ctx context.Context, wallet string) error {
	err := m.tool.WalletInfo(ctx, wallet)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ethdo.ErrNotFound) {
		return err
	}

	m.logger.Info("creating wallet", slog.String("wallet", wallet))
	return m.tool.CreateWallet(ctx, wallet)
}

// CreateAccount creates wallet/name, the wallet has to exist already
func (m *Manager) CreateAccount(ctx context.Context, wallet string, name string, passphrase string) (Account, error) {
	account := Account{Wallet: wallet, Name: name}
	if err := m.tool.CreateAccount(ctx, account.ID(), passphrase); err != nil {
		return Account{}, err
	}
	m.logger.Info("created account", slog.String("account", account.ID()))
	return account, nil
}

// NewRandomValidatorAccount creates the validator account with the lowest free number
// and a random passphrase
func (m *Manager) NewRandomValidatorAccount(ctx context.Context) (NewAccount, error) {
	if err := m.EnsureWallet(ctx, ValidatorWallet); err != nil {
		return NewAccount{}, err
	}
	existing, err := m.tool.ListAccounts(ctx, ValidatorWallet)
	if err != nil {
		return NewAccount{}, err
	}

	name, err := firstAvailableNumber(existing, maxValidatorNumber)
	if err != nil {
		return NewAccount{}, err
	}
	passphrase, err := randomPassphrase()
	if err != nil {
		return NewAccount{}, err
	}

	account, err := m.CreateAccount(ctx, ValidatorWallet, name, passphrase)
	if err != nil {
		return NewAccount{}, err
	}
	return NewAccount{Account: account, Passphrase: passphrase}, nil
}

func (m *Manager) CreateWithdrawalAccount(ctx context.Context, name string, passphrase string) (Account, error) {
	if err := m.EnsureWallet(ctx, WithdrawalWallet); err != nil {
		return Account{}, err
	}
	return m.CreateAccount(ctx, WithdrawalWallet, name, passphrase)
}

// ListWithdrawalAccounts returns no accounts while the withdrawal wallet does not exist
func (m *Manager) ListWithdrawalAccounts(ctx context.Context) ([]WithdrawalAccount, error) {
	names, err := m.tool.ListAccounts(ctx, WithdrawalWallet)
	if errors.Is(err, ethdo.ErrNotFound) {
		return []WithdrawalAccount{}, nil
	}
	if err != nil {
		return nil, err
	}

	accounts := make([]WithdrawalAccount, 0, len(names))
	for _, name := range names {
		accounts = append(accounts, WithdrawalAccount{
			Name: name,
			ID:   Account{Wallet: WithdrawalWallet, Name: name}.ID(),
		})
	}
	return accounts, nil
}

// ListValidatorAccounts returns the validator accounts with their public keys
func (m *Manager) ListValidatorAccounts(ctx context.Context) ([]Account, error) {
	infos, err := m.tool.ListAccountsVerbose(ctx, ValidatorWallet)
	if errors.Is(err, ethdo.ErrNotFound) {
		return []Account{}, nil
	}
	if err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(infos))
	for _, info := range infos {
		account := Account{Wallet: ValidatorWallet, Name: info.Name}
		if info.PublicKey != "" {
			pubkey, err := ParsePublicKey(info.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", account.ID(), err)
			}
			account.PublicKey = &pubkey
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// GetDepositData returns the raw deposit transaction data for a 32 ether deposit
func (m *Manager) GetDepositData(ctx context.Context, validator NewAccount, withdrawalAccount string) (string, error) {
	data, err := m.tool.DepositData(ctx, ethdo.DepositDataParams{
		ValidatorAccount:  validator.Account.ID(),
		Passphrase:        validator.Passphrase,
		WithdrawalAccount: withdrawalAccount,
		DepositValue:      DepositValue,
	})
	if err != nil {
		return "", err
	}

	if len(data) != DepositDataLength {
		m.logger.Error("unexpected deposit data length",
			slog.Int("expected", DepositDataLength),
			slog.Int("actual", len(data)),
		)
		return "", fmt.Errorf("%w: expected %d characters, got %d", ErrMalformedDepositData, DepositDataLength, len(data))
	}
	return data, nil
}

// firstAvailableNumber returns the lowest positive integer not used as a name, so numbers
// freed by deleted accounts are reused. If none up to limit is free it returns a random
// label that must not be read as an index.
func firstAvailableNumber(existing []string, limit int) (string, error) {
	used := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		used[name] = struct{}{}
	}

	bound := min(len(existing)+1, limit)
	for i := 1; i <= bound; i++ {
		name := strconv.Itoa(i)
		if _, exists := used[name]; !exists {
			return name, nil
		}
	}

	for {
		n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
		if err != nil {
			return "", errors.Join(errors.New("failed to generate random account label"), err)
		}
		name := n.String()
		if _, exists := used[name]; !exists {
			return name, nil
		}
	}
}

func randomPassphrase() (string, error) {
	buf := make([]byte, passphraseBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Join(errors.New("failed to generate passphrase"), err)
	}
	return hex.EncodeToString(buf), nil
}
