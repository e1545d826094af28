package validators

import (
	"eth2ValidatorNode/eth1"
)

// Metrics is the record the metrics collector keeps per public key.
// Balance is in gwei, as a number or a numeric string.
type Metrics struct {
	Balance any    `json:"balance,omitempty"`
	Status  string `json:"status,omitempty"`
}

type Balance struct {
	Eth        *float64 `json:"eth"`
	IsExpected bool     `json:"isExpected"`
}

type ValidatorStats struct {
	Index         int                 `json:"index"`
	PublicKey     string              `json:"publicKey"`
	DepositEvents []eth1.DepositEvent `json:"depositEvents"`
	Status        string              `json:"status,omitempty"`
	Balance       Balance             `json:"balance"`
}

// Visible reports whether the validator shows any activity
func (v ValidatorStats) Visible() bool {
	return len(v.DepositEvents) > 0 || v.Status != ""
}
