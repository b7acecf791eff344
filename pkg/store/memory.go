package store

import (
	"sort"
	"sync"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

// MemoryStore is the default in-process backend for both executions and
// trigger configurations.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*models.Execution
	byWallet   map[string][]string // wallet -> execution IDs in insertion order
	triggers   map[string]*models.TriggerConfig
}

var (
	_ ExecutionStore = (*MemoryStore)(nil)
	_ TriggerStore   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*models.Execution),
		byWallet:   make(map[string][]string),
		triggers:   make(map[string]*models.TriggerConfig),
	}
}

// Put inserts or replaces an execution snapshot.
func (s *MemoryStore) Put(execution *models.Execution) error {
	snapshot := execution.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[snapshot.ID]; !exists {
		s.byWallet[snapshot.WalletAddress] = append(s.byWallet[snapshot.WalletAddress], snapshot.ID)
	}
	s.executions[snapshot.ID] = snapshot
	return nil
}

// Get returns a copy of the execution with the given ID.
func (s *MemoryStore) Get(id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return execution.Clone(), nil
}

// ListByWallet returns the wallet's executions, newest first.
func (s *MemoryStore) ListByWallet(wallet string, limit, offset int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byWallet[wallet]
	executions := make([]*models.Execution, 0, len(ids))
	for _, id := range ids {
		executions = append(executions, s.executions[id])
	}
	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if offset >= len(executions) {
		return []*models.Execution{}, nil
	}
	executions = executions[offset:]
	if limit > 0 && limit < len(executions) {
		executions = executions[:limit]
	}

	out := make([]*models.Execution, len(executions))
	for i, execution := range executions {
		out[i] = execution.Clone()
	}
	return out, nil
}

// ActiveForWallet returns the wallet's most recent non-terminal execution.
func (s *MemoryStore) ActiveForWallet(wallet string) (*models.Execution, error) {
	executions, err := s.ListByWallet(wallet, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, execution := range executions {
		if !execution.Status.Terminal() {
			return execution, nil
		}
	}
	return nil, ErrNotFound
}

// LatestForWallet returns the wallet's most recent execution.
func (s *MemoryStore) LatestForWallet(wallet string) (*models.Execution, error) {
	executions, err := s.ListByWallet(wallet, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, ErrNotFound
	}
	return executions[0], nil
}

// SetTrigger inserts or replaces the wallet's trigger configuration.
func (s *MemoryStore) SetTrigger(config *models.TriggerConfig) error {
	cp := *config

	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers[cp.WalletAddress] = &cp
	return nil
}

// GetTrigger returns the wallet's trigger configuration.
func (s *MemoryStore) GetTrigger(wallet string) (*models.TriggerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	config, ok := s.triggers[wallet]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *config
	return &cp, nil
}

// ListTriggers returns all trigger configurations.
func (s *MemoryStore) ListTriggers() ([]*models.TriggerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.TriggerConfig, 0, len(s.triggers))
	for _, config := range s.triggers {
		cp := *config
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WalletAddress < out[j].WalletAddress
	})
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *MemoryStore) Close() error { return nil }
