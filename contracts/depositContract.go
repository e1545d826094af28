package contracts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	DepositEventName  = "DepositEvent"
	DepositMethodName = "deposit"

	PubkeyLength                = 48
	WithdrawalCredentialsLength = 32
	SignatureLength             = 96
	// amount and index are uint64 little endian
	uint64Length = 8
)

// Subset of the beacon chain deposit contract ABI
// see: https://github.com/ethereum/consensus-specs/blob/dev/solidity_deposit_contract/deposit_contract.sol
var DepositContractMetaData = &bind.MetaData{
	ABI: `[
	{"anonymous":false,"inputs":[
		{"indexed":false,"internalType":"bytes","name":"pubkey","type":"bytes"},
		{"indexed":false,"internalType":"bytes","name":"withdrawal_credentials","type":"bytes"},
		{"indexed":false,"internalType":"bytes","name":"amount","type":"bytes"},
		{"indexed":false,"internalType":"bytes","name":"signature","type":"bytes"},
		{"indexed":false,"internalType":"bytes","name":"index","type":"bytes"}
	],"name":"DepositEvent","type":"event"},
	{"inputs":[
		{"internalType":"bytes","name":"pubkey","type":"bytes"},
		{"internalType":"bytes","name":"withdrawal_credentials","type":"bytes"},
		{"internalType":"bytes","name":"signature","type":"bytes"},
		{"internalType":"bytes32","name":"deposit_data_root","type":"bytes32"}
	],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"}
]`,
}

var (
	ErrMalformedLog  = errors.New("malformed deposit event log")
	ErrMalformedCall = errors.New("malformed deposit call data")
)

// DepositEventLog is a decoded DepositEvent with the location of the log that emitted it
type DepositEventLog struct {
	Pubkey                []byte
	WithdrawalCredentials []byte
	Amount                []byte
	Signature             []byte
	Index                 []byte

	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
	Removed     bool
}

// DepositCall holds the arguments of a deposit() transaction
type DepositCall struct {
	Pubkey                []byte
	WithdrawalCredentials []byte
	Signature             []byte
	DepositDataRoot       common.Hash
}

type DepositContract struct {
	address     common.Address
	contractAbi *abi.ABI
}

func NewDepositContract(address common.Address) (*DepositContract, error) {
	contractAbi, err := DepositContractMetaData.GetAbi()
	if err != nil {
		return nil, errors.Join(errors.New("failed to get contract abi"), err)
	}

	return &DepositContract{
		address:     address,
		contractAbi: contractAbi,
	}, nil
}

func (dc *DepositContract) Address() common.Address {
	return dc.address
}

// topic0 of every DepositEvent log
func (dc *DepositContract) DepositEventTopic() common.Hash {
	return dc.contractAbi.Events[DepositEventName].ID
}

// FilterQuery matches the DepositEvent logs between fromBlock and toBlock, both inclusive.
// A nil toBlock means the latest block.
func (dc *DepositContract) FilterQuery(fromBlock uint64, toBlock *uint64) ethereum.FilterQuery {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{dc.address},
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Topics:    [][]common.Hash{{dc.DepositEventTopic()}},
	}
	if toBlock != nil {
		query.ToBlock = new(big.Int).SetUint64(*toBlock)
	}
	return query
}

// WatchQuery matches new DepositEvent logs for a subscription
func (dc *DepositContract) WatchQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{dc.address},
		Topics:    [][]common.Hash{{dc.DepositEventTopic()}},
	}
}

// ParseDepositEvent decodes a raw log against the DepositEvent signature
func (dc *DepositContract) ParseDepositEvent(log types.Log) (*DepositEventLog, error) {
	if len(log.Topics) == 0 || log.Topics[0] != dc.DepositEventTopic() {
		return nil, fmt.Errorf("%w: unexpected topics %v", ErrMalformedLog, log.Topics)
	}

	values, err := dc.contractAbi.Unpack(DepositEventName, log.Data)
	if err != nil {
		return nil, errors.Join(ErrMalformedLog, err)
	}
	fields, err := bytesArgs(values, 5)
	if err != nil {
		return nil, errors.Join(ErrMalformedLog, err)
	}

	event := &DepositEventLog{
		Pubkey:                fields[0],
		WithdrawalCredentials: fields[1],
		Amount:                fields[2],
		Signature:             fields[3],
		Index:                 fields[4],
		BlockNumber:           log.BlockNumber,
		TxHash:                log.TxHash,
		LogIndex:              log.Index,
		Removed:               log.Removed,
	}

	switch {
	case len(event.Pubkey) != PubkeyLength:
		return nil, fmt.Errorf("%w: pubkey has %d bytes", ErrMalformedLog, len(event.Pubkey))
	case len(event.WithdrawalCredentials) != WithdrawalCredentialsLength:
		return nil, fmt.Errorf("%w: withdrawal credentials have %d bytes", ErrMalformedLog, len(event.WithdrawalCredentials))
	case len(event.Amount) != uint64Length:
		return nil, fmt.Errorf("%w: amount has %d bytes", ErrMalformedLog, len(event.Amount))
	case len(event.Signature) != SignatureLength:
		return nil, fmt.Errorf("%w: signature has %d bytes", ErrMalformedLog, len(event.Signature))
	case len(event.Index) != uint64Length:
		return nil, fmt.Errorf("%w: index has %d bytes", ErrMalformedLog, len(event.Index))
	}
	return event, nil
}

// DecodeDepositCall decodes the calldata of a deposit() transaction
func (dc *DepositContract) DecodeDepositCall(data []byte) (*DepositCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedCall, len(data))
	}
	method, err := dc.contractAbi.MethodById(data[:4])
	if err != nil || method.Name != DepositMethodName {
		return nil, fmt.Errorf("%w: unknown selector %x", ErrMalformedCall, data[:4])
	}

	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, errors.Join(ErrMalformedCall, err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("%w: expected 4 arguments, got %d", ErrMalformedCall, len(values))
	}
	fields, err := bytesArgs(values[:3], 3)
	if err != nil {
		return nil, errors.Join(ErrMalformedCall, err)
	}
	root, ok := values[3].([32]byte)
	if !ok {
		return nil, fmt.Errorf("%w: deposit data root is %T", ErrMalformedCall, values[3])
	}

	return &DepositCall{
		Pubkey:                fields[0],
		WithdrawalCredentials: fields[1],
		Signature:             fields[2],
		DepositDataRoot:       common.Hash(root),
	}, nil
}

// PackDepositCall builds the calldata of a deposit() transaction
func (dc *DepositContract) PackDepositCall(call DepositCall) ([]byte, error) {
	data, err := dc.contractAbi.Pack(DepositMethodName, call.Pubkey, call.WithdrawalCredentials, call.Signature, [32]byte(call.DepositDataRoot))
	if err != nil {
		return nil, fmt.Errorf("error packing deposit call: %w", err)
	}
	return data, nil
}

// AmountToGwei converts the amount field of a DepositEvent
func AmountToGwei(amount []byte) (uint64, error) {
	if len(amount) != uint64Length {
		return 0, fmt.Errorf("amount must be %d bytes, got %d", uint64Length, len(amount))
	}
	return binary.LittleEndian.Uint64(amount), nil
}

// GweiToAmount is the inverse of AmountToGwei
func GweiToAmount(gwei uint64) []byte {
	amount := make([]byte, uint64Length)
	binary.LittleEndian.PutUint64(amount, gwei)
	return amount
}

func bytesArgs(values []interface{}, expected int) ([][]byte, error) {
	if len(values) != expected {
		return nil, fmt.Errorf("expected %d values, got %d", expected, len(values))
	}
	out := make([][]byte, len(values))
	for i, value := range values {
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("value %d is %T, not bytes", i, value)
		}
		out[i] = b
	}
	return out, nil
}
