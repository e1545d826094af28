package validators

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"eth2ValidatorNode/contracts"
	"eth2ValidatorNode/eth1"
	"eth2ValidatorNode/wallet"
)

const (
	gweiDecimals = 9

	statusDeposited = "DEPOSITED"
	statusUnknown   = "UNKNOWN"
)

var ErrMalformedAmount = errors.New("malformed deposit amount")

// Reconcile combines the deposit events and the reported metrics of an account.
// Before the beacon chain reports a balance, the deposited amount is shown as the expected balance.
func Reconcile(account wallet.Account, events []eth1.DepositEvent, metrics *Metrics) (ValidatorStats, error) {
	index, err := strconv.Atoi(account.Name)
	if err != nil {
		index = 0
	}
	if metrics == nil {
		metrics = &Metrics{}
	}
	if events == nil {
		events = []eth1.DepositEvent{}
	}

	stats := ValidatorStats{
		Index:         index,
		DepositEvents: events,
		Status:        metrics.Status,
	}
	if account.PublicKey != nil {
		stats.PublicKey = account.PublicKey.HexWithPrefix()
	}

	balance, err := computeBalance(events, metrics)
	if err != nil {
		return ValidatorStats{}, fmt.Errorf("validator %s: %w", account.ID(), err)
	}
	stats.Balance = balance
	return stats, nil
}

func computeBalance(events []eth1.DepositEvent, metrics *Metrics) (Balance, error) {
	hasBalance := !isEmptyBalance(metrics.Balance)
	pending := metrics.Status == "" ||
		strings.Contains(metrics.Status, statusUnknown) ||
		metrics.Status == statusDeposited

	if !hasBalance && pending && len(events) > 0 {
		expected, err := expectedBalance(events)
		if err != nil {
			return Balance{}, err
		}
		if expected.IsPositive() {
			eth, _ := expected.Float64()
			return Balance{Eth: &eth, IsExpected: true}, nil
		}
	}

	if hasBalance {
		gwei, err := toDecimal(metrics.Balance)
		if err != nil {
			return Balance{}, nil
		}
		// a zero balance is shown like a missing one
		if gwei.IsZero() {
			return Balance{}, nil
		}
		eth, _ := gwei.Shift(-gweiDecimals).Float64()
		return Balance{Eth: &eth}, nil
	}

	return Balance{}, nil
}

// expectedBalance sums the deposited amounts in ETH
func expectedBalance(events []eth1.DepositEvent) (decimal.Decimal, error) {
	total := new(big.Int)
	for _, event := range events {
		gwei, err := contracts.AmountToGwei(event.Amount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w in transaction %s: %w", ErrMalformedAmount, event.TransactionHash, err)
		}
		total.Add(total, new(big.Int).SetUint64(gwei))
	}
	return decimal.NewFromBigInt(total, -gweiDecimals), nil
}

// isEmptyBalance reports whether no balance was reported. A numeric zero counts as none,
// a "0" string does not.
func isEmptyBalance(balance any) bool {
	switch v := balance.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case json.Number:
		return v.String() == "" || isZero(v)
	case float64, float32, int, int64, uint64:
		return isZero(v)
	default:
		return false
	}
}

func isZero(val any) bool {
	d, err := toDecimal(val)
	return err == nil && d.IsZero()
}

func toDecimal(val any) (decimal.Decimal, error) {
	switch v := val.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, fmt.Errorf("unsupported balance type %T", val)
	}
}
