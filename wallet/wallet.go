package wallet

import (
	"context"
	"errors"

	"github.com/rocket-pool/node-manager-core/beacon"

	"eth2ValidatorNode/ethdo"
)

const (
	ValidatorWallet  = "validator"
	WithdrawalWallet = "withdrawal"

	// deposit value as understood by ethdo
	DepositValue = "32Ether"
	// 0x + 4 byte selector + 13 32-byte words
	DepositDataLength = 2 + 8 + 13*64

	passphraseBytes = 32
)

var (
	ErrMalformedDepositData = errors.New("malformed deposit data")
	ErrInvalidPublicKey     = errors.New("invalid validator public key")
)

// Tool is the subset of the ethdo CLI the manager drives; *ethdo.Client implements it
type Tool interface {
	ListWallets(ctx context.Context) ([]string, error)
	WalletInfo(ctx context.Context, wallet string) error
	CreateWallet(ctx context.Context, wallet string) error
	ListAccounts(ctx context.Context, wallet string) ([]string, error)
	ListAccountsVerbose(ctx context.Context, wallet string) ([]ethdo.AccountInfo, error)
	CreateAccount(ctx context.Context, account string, passphrase string) error
	DepositData(ctx context.Context, params ethdo.DepositDataParams) (string, error)
}

type Account struct {
	Wallet string `json:"wallet"`
	Name   string `json:"name"`
	// only set by verbose listings
	PublicKey *beacon.ValidatorPubkey `json:"publicKey,omitempty"`
}

// ID is the wallet/name path ethdo uses to address the account
func (a Account) ID() string {
	return a.Wallet + "/" + a.Name
}

// NewAccount carries the generated passphrase, it is not stored anywhere else
type NewAccount struct {
	Account    Account `json:"account"`
	Passphrase string  `json:"passphrase"`
}

type WalletAccounts struct {
	Name     string   `json:"name"`
	Accounts []string `json:"accounts"`
}

type WithdrawalAccount struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}
