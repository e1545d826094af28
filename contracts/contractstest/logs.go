// Package contractstest builds the raw logs a deposit contract emits, for tests of log consumers
package contractstest

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"eth2ValidatorNode/contracts"
)

// BuildLog encodes event as the raw DepositEvent log emitted by the contract at address.
// Field lengths are not checked so malformed events can be built too.
func BuildLog(address common.Address, event contracts.DepositEventLog) (types.Log, error) {
	contractAbi, err := contracts.DepositContractMetaData.GetAbi()
	if err != nil {
		return types.Log{}, err
	}
	depositEvent := contractAbi.Events[contracts.DepositEventName]
	data, err := depositEvent.Inputs.Pack(
		event.Pubkey,
		event.WithdrawalCredentials,
		event.Amount,
		event.Signature,
		event.Index,
	)
	if err != nil {
		return types.Log{}, fmt.Errorf("error packing deposit event: %w", err)
	}
	return types.Log{
		Address:     address,
		Topics:      []common.Hash{depositEvent.ID},
		Data:        data,
		BlockNumber: event.BlockNumber,
		TxHash:      event.TxHash,
		Index:       event.LogIndex,
		Removed:     event.Removed,
	}, nil
}
