// Package chainadapter defines the per-blockchain transaction surface used
// by the execution coordinator, plus the EVM implementation.
package chainadapter

import (
	"context"
	"fmt"
	"math/big"
)

// TxRequest carries everything an adapter needs to build and submit one
// rebalance transaction. The signature comes from the threshold signer and
// authorizes the operation on the target chain.
type TxRequest struct {
	Wallet         string
	SourceProtocol string
	TargetProtocol string
	Asset          string
	Amount         *big.Int
	Signature      string
}

// TxResult is the outcome of a submitted transaction.
type TxResult struct {
	TransactionHash string
	// CostIncurred is the fee actually paid, in the chain's base unit,
	// filled in once the transaction is confirmed.
	CostIncurred string
}

// Adapter is the per-chain implementation of transaction submission and
// confirmation waiting. Implementations differ in fee model, block time and
// confirmation depth, but every call terminates: submission either returns a
// hash or a SubmissionError, and WaitForConfirmation returns nil or a
// ConfirmationError within the adapter's bounded timeout.
type Adapter interface {
	// Chain returns the chain name this adapter serves.
	Chain() string

	Deposit(ctx context.Context, req TxRequest) (*TxResult, error)
	Withdraw(ctx context.Context, req TxRequest) (*TxResult, error)
	Swap(ctx context.Context, req TxRequest) (*TxResult, error)
	Migrate(ctx context.Context, req TxRequest) (*TxResult, error)

	// WaitForConfirmation blocks until the transaction is final or failed.
	WaitForConfirmation(ctx context.Context, txHash string) (*TxResult, error)
}

// SubmissionError indicates the chain rejected the transaction before
// inclusion.
type SubmissionError struct {
	ChainName string
	Reason    string
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission rejected on %s: %s: %v", e.ChainName, e.Reason, e.Err)
	}
	return fmt.Sprintf("submission rejected on %s: %s", e.ChainName, e.Reason)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationError indicates the transaction was included but reverted or
// could not be confirmed within the adapter's timeout.
type ConfirmationError struct {
	ChainName string
	TxHash    string
	Reason    string
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("transaction %s on %s failed: %s", e.TxHash, e.ChainName, e.Reason)
}

// Registry holds the configured adapters keyed by chain name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Chain()] = a
	}
	return r
}

// Register adds or replaces the adapter for its chain.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Chain()] = a
}

// Get returns the adapter for a chain name.
func (r *Registry) Get(chain string) (Adapter, error) {
	a, ok := r.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for chain %s", chain)
	}
	return a, nil
}

// Chains returns the chain names with a configured adapter.
func (r *Registry) Chains() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
