// Package store provides the persistence abstraction for executions and
// trigger configurations. The coordinator and trigger monitor only depend on
// the interfaces; backends are an implementation choice.
package store

import (
	"errors"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ExecutionStore persists execution records. Writers hand in snapshots; the
// store never mutates what it is given and never hands out shared state.
type ExecutionStore interface {
	// Put inserts or replaces an execution snapshot.
	Put(execution *models.Execution) error

	// Get returns the execution with the given ID or ErrNotFound.
	Get(id string) (*models.Execution, error)

	// ListByWallet returns the wallet's executions, newest first, with
	// offset/limit pagination.
	ListByWallet(wallet string, limit, offset int) ([]*models.Execution, error)

	// ActiveForWallet returns the wallet's most recent non-terminal
	// execution, or ErrNotFound when none is in flight.
	ActiveForWallet(wallet string) (*models.Execution, error)

	// LatestForWallet returns the wallet's most recent execution of any
	// status, or ErrNotFound.
	LatestForWallet(wallet string) (*models.Execution, error)

	Close() error
}

// TriggerStore persists per-wallet trigger configurations.
type TriggerStore interface {
	// SetTrigger inserts or replaces the wallet's trigger configuration.
	SetTrigger(config *models.TriggerConfig) error

	// GetTrigger returns the wallet's trigger configuration or ErrNotFound.
	GetTrigger(wallet string) (*models.TriggerConfig, error)

	// ListTriggers returns all trigger configurations.
	ListTriggers() ([]*models.TriggerConfig, error)

	Close() error
}
