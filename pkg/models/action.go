package models

import (
	"fmt"
	"math/big"
)

// ActionKind is the closed set of atomic rebalance operations.
type ActionKind string

const (
	ActionWithdraw ActionKind = "withdraw"
	ActionDeposit  ActionKind = "deposit"
	ActionSwap     ActionKind = "swap"
	ActionMigrate  ActionKind = "migrate"
)

// Valid reports whether the kind is one of the known action kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionWithdraw, ActionDeposit, ActionSwap, ActionMigrate:
		return true
	}
	return false
}

// Action represents one atomic cross-chain operation within a rebalance plan.
type Action struct {
	ID             string     `json:"id"`
	Kind           ActionKind `json:"kind"`
	SourceProtocol string     `json:"source_protocol,omitempty"`
	TargetProtocol string     `json:"target_protocol"`
	SourceChain    string     `json:"source_chain,omitempty"`
	TargetChain    string     `json:"target_chain"`
	Asset          string     `json:"asset"`
	Amount         string     `json:"amount"`
	EstimatedCost  string     `json:"estimated_cost,omitempty"`
	Priority       int        `json:"priority"`
	DependsOn      []string   `json:"depends_on,omitempty"`
}

// AmountBig parses the action amount as a base-unit integer quantity.
func (a *Action) AmountBig() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(a.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount format: %s", a.Amount)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %s", a.Amount)
	}
	return amount, nil
}

// Chain returns the chain the action executes on. Withdraw and migrate
// operate on the source chain, deposit and swap on the target chain.
func (a *Action) Chain() string {
	switch a.Kind {
	case ActionWithdraw, ActionMigrate:
		if a.SourceChain != "" {
			return a.SourceChain
		}
	}
	return a.TargetChain
}
