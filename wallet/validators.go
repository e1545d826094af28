package wallet

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rocket-pool/node-manager-core/beacon"
	eth2types "github.com/wealdtech/go-eth2-types/v2"

	"eth2ValidatorNode/contracts"
)

// Initialize BLS support
// see: https://github.com/rocket-pool/smartnode/blob/9429cbafac15bc08d27da3b7413a138cb99f6287/shared/utils/validator/bls.go#L23-L32
var initBLS sync.Once

func initializeBLS() error {
	var err error
	initBLS.Do(func() {
		err = eth2types.InitBLS()
	})
	return err
}

// ParsePublicKey parses a hex encoded validator public key and checks that it is a valid BLS12-381 point
func ParsePublicKey(value string) (beacon.ValidatorPubkey, error) {
	pubkey, err := beacon.HexToValidatorPubkey(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return beacon.ValidatorPubkey{}, errors.Join(ErrInvalidPublicKey, err)
	}

	if err := initializeBLS(); err != nil {
		return beacon.ValidatorPubkey{}, errors.Join(errors.New("failed to initialize BLS support"), err)
	}
	if _, err := eth2types.BLSPublicKeyFromBytes(pubkey[:]); err != nil {
		return beacon.ValidatorPubkey{}, errors.Join(ErrInvalidPublicKey, err)
	}
	return pubkey, nil
}

// DecodeDepositData decodes raw deposit data as returned by GetDepositData
func (m *Manager) DecodeDepositData(data string) (*contracts.DepositCall, error) {
	if len(data) != DepositDataLength {
		return nil, fmt.Errorf("%w: expected %d characters, got %d", ErrMalformedDepositData, DepositDataLength, len(data))
	}
	raw, err := hexutil.Decode(data)
	if err != nil {
		return nil, errors.Join(ErrMalformedDepositData, err)
	}

	call, err := m.depositContract.DecodeDepositCall(raw)
	if err != nil {
		return nil, errors.Join(ErrMalformedDepositData, err)
	}
	return call, nil
}
