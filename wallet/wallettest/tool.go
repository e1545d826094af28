// Package wallettest provides an in-memory stand-in for the ethdo wallet tool.
// Accounts are derived from a mnemonic like an ethdo HD wallet and their keys are
// kept encrypted with the account passphrase.
package wallettest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rocket-pool/node-manager-core/beacon"
	"github.com/tyler-smith/go-bip39"
	eth2types "github.com/wealdtech/go-eth2-types/v2"
	eth2util "github.com/wealdtech/go-eth2-util"
	eth2ks "github.com/wealdtech/go-eth2-wallet-encryptor-keystorev4"

	"eth2ValidatorNode/contracts"
	"eth2ValidatorNode/ethdo"
)

const (
	// see: https://github.com/rocket-pool/smartnode/blob/master/shared/utils/validator/bls.go#L14
	ValidatorKeyPath string = "m/12381/3600/%d/0/0"

	TestMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	depositGwei         uint64 = 32_000_000_000
	blsWithdrawalPrefix byte   = 0x00
)

var (
	ErrInvalidWordCount = errors.New("mnemonic must be 12, 15, 18, 21 or 24 words")

	initBLS sync.Once
)

type account struct {
	name      string
	pubkey    beacon.ValidatorPubkey
	encrypted map[string]any
}

type wallet struct {
	name     string
	accounts []*account
}

// Tool implements wallet.Tool. Failures are reported as *ethdo.ToolError with the
// messages ethdo prints, so error classification behaves like with the real binary.
type Tool struct {
	lock      sync.Mutex
	seed      []byte
	encryptor *eth2ks.Encryptor
	wallets   []*wallet
	nextIndex uint64
	calls     []string

	// DepositDataOverride is returned by DepositData instead of the generated data when set
	DepositDataOverride string
	// Fail makes the named method return the error
	Fail map[string]error
}

// New creates an empty tool deriving its keys from mnemonic
func New(mnemonic string) (*Tool, error) {
	// normalize and validate mnemonic length
	mnemonic = strings.ReplaceAll(mnemonic, ",", " ")
	mnemonic = strings.TrimSpace(mnemonic)
	numOfWords := len(strings.Fields(mnemonic))
	if numOfWords%3 != 0 || numOfWords < 12 || numOfWords > 24 {
		return nil, ErrInvalidWordCount
	}

	// check if mnemonic is valid
	if _, err := bip39.EntropyFromMnemonic(mnemonic); err != nil {
		return nil, err
	}

	var err error
	initBLS.Do(func() {
		err = eth2types.InitBLS()
	})
	if err != nil {
		return nil, errors.Join(errors.New("failed to initialize BLS support"), err)
	}

	return &Tool{
		seed: bip39.NewSeed(mnemonic, ""),
		// pbkdf2 keeps tests fast compared to the default scrypt
		encryptor: eth2ks.New(eth2ks.WithCipher("pbkdf2")),
		Fail:      map[string]error{},
	}, nil
}

// Calls returns the invoked methods in order
func (t *Tool) Calls() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return slices.Clone(t.calls)
}

func (t *Tool) call(method string) error {
	t.calls = append(t.calls, method)
	return t.Fail[method]
}

func toolError(command string, format string, args ...any) error {
	return &ethdo.ToolError{
		Command:  command,
		ExitCode: 1,
		Output:   fmt.Sprintf(format, args...),
	}
}

func (t *Tool) findWallet(name string) *wallet {
	for _, w := range t.wallets {
		if w.name == name {
			return w
		}
	}
	return nil
}

func (t *Tool) findAccount(id string) (*account, error) {
	walletName, accountName, found := strings.Cut(id, "/")
	if !found {
		return nil, fmt.Errorf("invalid account %q", id)
	}
	w := t.findWallet(walletName)
	if w == nil {
		return nil, errors.New("wallet not found")
	}
	for _, a := range w.accounts {
		if a.name == accountName {
			return a, nil
		}
	}
	return nil, errors.New("account not found")
}

func (t *Tool) ListWallets(ctx context.Context) ([]string, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.call("ListWallets"); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(t.wallets))
	for _, w := range t.wallets {
		names = append(names, w.name)
	}
	return names, nil
}

func (t *Tool) WalletInfo(ctx context.Context, name string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.call("WalletInfo"); err != nil {
		return err
	}

	if t.findWallet(name) == nil {
		return toolError("wallet info", "wallet not found")
	}
	return nil
}

func (t *Tool) CreateWallet(ctx context.Context, name string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.call("CreateWallet"); err != nil {
		return err
	}

	if t.findWallet(name) != nil {
		return toolError("wallet create", "wallet %s already exists", name)
	}
	t.wallets = append(t.wallets, &wallet{name: name})
	return nil
}

func (t *Tool) ListAccounts(ctx context.Context, name string) ([]string, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.call("ListAccounts"); err != nil {
		return nil, err
	}

	w := t.findWallet(name)
	if w == nil {
		return nil, toolError("wallet accounts", "wallet not found")
	}
	names := make([]string, 0, len(w.accounts))
	for _, a := range w.accounts {
		names = append(names, a.name)
	}
	return names, nil
}

func (t *Tool) ListAccountsVerbose(ctx context.Context, name string) ([]ethdo.AccountInfo, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.call("ListAccountsVerbose"); err != nil {
		return nil, err
	}

	w := t.findWallet(name)
	if w == nil {
		return nil, toolError("wallet accounts", "wallet not found")
	}
	infos := make([]ethdo.AccountInfo, 0, len(w.accounts))
	for _, a := range w.accounts {
		infos = append(infos, ethdo.AccountInfo{Name: a.name, PublicKey: a.pubkey.HexWithPrefix()})
	}
	return infos, nil
}

// CreateAccount derives the next key of the seed and stores it encrypted with passphrase
func (t *Tool) CreateAccount(ctx context.Context, id string, passphrase string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.call("CreateAccount"); err != nil {
		return err
	}

	walletName, accountName, found := strings.Cut(id, "/")
	if !found || accountName == "" {
		return toolError("account create", "invalid account %q", id)
	}
	w := t.findWallet(walletName)
	if w == nil {
		return toolError("account create", "wallet not found")
	}
	if _, err := t.findAccount(id); err == nil {
		return toolError("account create", "account %s already exists", id)
	}

	derivationPath := fmt.Sprintf(ValidatorKeyPath, t.nextIndex)
	privateKey, err := eth2util.PrivateKeyFromSeedAndPath(t.seed, derivationPath)
	if err != nil {
		return fmt.Errorf("could not get validator %d private key: %w", t.nextIndex, err)
	}
	encrypted, err := t.encryptor.Encrypt(privateKey.Marshal(), passphrase)
	if err != nil {
		return fmt.Errorf("error encrypting account key: %w", err)
	}

	w.accounts = append(w.accounts, &account{
		name:      accountName,
		pubkey:    beacon.ValidatorPubkey(privateKey.PublicKey().Marshal()),
		encrypted: encrypted,
	})
	t.nextIndex++
	return nil
}

// DepositData unlocks the validator key with the passphrase and returns deposit() calldata.
// The signature covers a plain hash of the deposit message, not the beacon chain signing root.
func (t *Tool) DepositData(ctx context.Context, params ethdo.DepositDataParams) (string, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if err := t.call("DepositData"); err != nil {
		return "", err
	}
	if t.DepositDataOverride != "" {
		return t.DepositDataOverride, nil
	}
	if params.DepositValue != "32Ether" {
		return "", toolError("validator depositdata", "unsupported deposit value %s", params.DepositValue)
	}

	validator, err := t.findAccount(params.ValidatorAccount)
	if err != nil {
		return "", toolError("validator depositdata", "failed to obtain validator account: %s", err.Error())
	}
	withdrawal, err := t.findAccount(params.WithdrawalAccount)
	if err != nil {
		return "", toolError("validator depositdata", "failed to obtain withdrawal account: %s", err.Error())
	}

	secret, err := t.encryptor.Decrypt(validator.encrypted, params.Passphrase)
	if err != nil {
		return "", toolError("validator depositdata", "failed to unlock account: invalid passphrase")
	}
	privateKey, err := eth2types.BLSPrivateKeyFromBytes(secret)
	if err != nil {
		return "", fmt.Errorf("error loading validator key: %w", err)
	}

	withdrawalHash := sha256.Sum256(withdrawal.pubkey[:])
	withdrawalCredentials := append([]byte{blsWithdrawalPrefix}, withdrawalHash[1:]...)
	amount := contracts.GweiToAmount(depositGwei)

	message := sha256.Sum256(slices.Concat(validator.pubkey[:], withdrawalCredentials, amount))
	signature := privateKey.Sign(message[:]).Marshal()
	root := sha256.Sum256(slices.Concat(message[:], signature))

	depositContract, err := contracts.NewDepositContract(common.Address{})
	if err != nil {
		return "", err
	}
	data, err := depositContract.PackDepositCall(contracts.DepositCall{
		Pubkey:                validator.pubkey[:],
		WithdrawalCredentials: withdrawalCredentials,
		Signature:             signature,
		DepositDataRoot:       common.Hash(root),
	})
	if err != nil {
		return "", err
	}
	return hexutil.Encode(data), nil
}
