package models

import "time"

// TriggerConfig is the per-wallet automatic rebalance policy. It is created
// and updated through the trigger configuration API and read by the trigger
// monitor on each tick; the coordinator never mutates it.
type TriggerConfig struct {
	WalletAddress string `json:"wallet_address"`
	Strategy      string `json:"strategy"`
	Enabled       bool   `json:"enabled"`

	// Interval is the minimum time between two automatic rebalances.
	// Zero disables the time predicate.
	Interval time.Duration `json:"interval"`

	// MinAPY fires a rebalance when the portfolio average APY falls
	// below this floor (percent). Zero disables the predicate.
	MinAPY float64 `json:"min_apy"`

	// ValueChangeThreshold fires when the portfolio value moved by at
	// least this fraction since the last evaluation. Zero disables.
	ValueChangeThreshold float64 `json:"value_change_threshold"`

	// MaxSlippage is passed through to the plan generator.
	MaxSlippage float64 `json:"max_slippage"`
}
