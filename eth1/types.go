package eth1

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"eth2ValidatorNode/contracts"
)

// Provider is the part of an execution client the indexer needs, *ethclient.Client satisfies it
type Provider interface {
	bind.ContractFilterer
	BlockNumber(ctx context.Context) (uint64, error)
}

// DepositEvent is the stored form of a deposit contract DepositEvent log
type DepositEvent struct {
	BlockNumber           *uint64       `json:"blockNumber,omitempty"`
	TransactionHash       string        `json:"transactionHash"`
	LogIndex              uint          `json:"logIndex"`
	Pubkey                hexutil.Bytes `json:"pubkey"`
	WithdrawalCredentials hexutil.Bytes `json:"withdrawal_credentials"`
	Amount                hexutil.Bytes `json:"amount"`
	Signature             hexutil.Bytes `json:"signature"`
	Index                 hexutil.Bytes `json:"index"`
}

// ID identifies the log that emitted the event
func (e DepositEvent) ID() string {
	return EventID(e.TransactionHash, e.LogIndex)
}

// EventID returns the txHash/logIndex key events are stored under
func EventID(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s/%d", txHash, logIndex)
}

func newDepositEvent(log *contracts.DepositEventLog) DepositEvent {
	blockNumber := log.BlockNumber
	return DepositEvent{
		BlockNumber:           &blockNumber,
		TransactionHash:       log.TxHash.Hex(),
		LogIndex:              log.LogIndex,
		Pubkey:                log.Pubkey,
		WithdrawalCredentials: log.WithdrawalCredentials,
		Amount:                log.Amount,
		Signature:             log.Signature,
		Index:                 log.Index,
	}
}

type State int32

const (
	Idle State = iota
	Backfilling
	Subscribed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Backfilling:
		return "backfilling"
	case Subscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
