// Package engine contains the execution coordinator: the state machine that
// drives a rebalance plan through signing, submission and confirmation on
// each involved chain.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/cache"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/chainadapter"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/circuitbreaker"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/metrics"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/store"
)

// SignatureClient is the signing-service surface the coordinator depends on.
type SignatureClient interface {
	RequestSignature(ctx context.Context, payload []byte, chainPath string) (string, error)
	WaitForSignature(ctx context.Context, requestID string, maxAttempts int, pollInterval time.Duration) (string, error)
}

// AdapterRegistry resolves the chain adapter for a chain name.
type AdapterRegistry interface {
	Get(chain string) (chainadapter.Adapter, error)
}

// Config holds the coordinator's tuning knobs.
type Config struct {
	// Workers is the number of concurrent execution drivers.
	Workers int
	// QueueSize bounds the number of executions waiting for a driver.
	QueueSize int
	// SignMaxAttempts and SignPollInterval bound the signature wait.
	SignMaxAttempts  int
	SignPollInterval time.Duration
	// TerminalCacheTTL is how long finished executions are served from
	// the cache. Terminal executions never change, so this is purely a
	// memory bound.
	TerminalCacheTTL time.Duration
}

// Service drives executions to completion. One driver goroutine owns each
// in-flight execution; everything external reads snapshots from the store.
type Service struct {
	cfg       Config
	signer    SignatureClient
	adapters  AdapterRegistry
	store     store.ExecutionStore
	breakers  map[string]*circuitbreaker.CircuitBreaker
	notifier  Notifier
	logger    logger.Logger
	execCache *cache.Cache[*models.Execution]

	pendingJobs chan *models.Execution
	wg          sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewService creates the coordinator. breakers may be nil when circuit
// breaking is disabled.
func NewService(
	cfg Config,
	signerClient SignatureClient,
	adapters AdapterRegistry,
	executionStore store.ExecutionStore,
	breakers map[string]*circuitbreaker.CircuitBreaker,
	notifier Notifier,
	log logger.Logger,
) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.SignMaxAttempts <= 0 {
		cfg.SignMaxAttempts = 30
	}
	if cfg.SignPollInterval <= 0 {
		cfg.SignPollInterval = 2 * time.Second
	}
	if cfg.TerminalCacheTTL <= 0 {
		cfg.TerminalCacheTTL = time.Hour
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: log}
	}
	return &Service{
		cfg:         cfg,
		signer:      signerClient,
		adapters:    adapters,
		store:       executionStore,
		breakers:    breakers,
		notifier:    notifier,
		logger:      log,
		execCache:   cache.New[*models.Execution](),
		pendingJobs: make(chan *models.Execution, cfg.QueueSize),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Start launches the driver pool. It returns immediately; workers shut down
// when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting %d execution driver goroutines", s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		go s.driver(ctx, i)
	}
	s.execCache.StartSweeper(ctx, 10*time.Minute)
}

// Drain blocks until all in-flight executions have reached a terminal state.
func (s *Service) Drain() {
	s.wg.Wait()
}

func (s *Service) driver(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Execution driver %d shutting down", id)
			return
		case execution := <-s.pendingJobs:
			s.runExecution(ctx, execution)
			s.wg.Done()
		}
	}
}

// CreateExecution validates the plan and either simulates it (dryRun) or
// enqueues it for a driver. The returned execution is a snapshot.
func (s *Service) CreateExecution(wallet, strategy string, plan []models.Action, dryRun bool) (*models.Execution, error) {
	if wallet == "" {
		return nil, validationErrorf("wallet address is required")
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	execution := &models.Execution{
		ID:            uuid.NewString(),
		WalletAddress: wallet,
		Strategy:      strategy,
		DryRun:        dryRun,
		Plan:          append([]models.Action(nil), plan...),
		Status:        models.ExecutionPending,
		Records:       make(map[string]*models.ActionRecord, len(plan)),
		StartedAt:     time.Now(),
	}
	for _, action := range plan {
		execution.Record(action.ID)
	}

	if dryRun {
		s.simulate(execution)
		if err := s.store.Put(execution); err != nil {
			return nil, fmt.Errorf("failed to persist dry-run execution: %v", err)
		}
		return execution.Clone(), nil
	}

	if err := s.store.Put(execution); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %v", err)
	}

	// Snapshot before enqueueing: a driver may start mutating the
	// execution the moment it lands on the channel.
	snapshot := execution.Clone()

	s.wg.Add(1)
	select {
	case s.pendingJobs <- execution:
	default:
		s.wg.Done()
		execution.Status = models.ExecutionFailed
		execution.Error = ErrQueueFull.Error()
		now := time.Now()
		execution.CompletedAt = &now
		_ = s.store.Put(execution)
		return nil, ErrQueueFull
	}

	metrics.ExecutionsStarted.Inc()
	s.logger.Info("Execution %s enqueued for wallet %s (%d actions, strategy %s)",
		snapshot.ID, wallet, len(plan), strategy)
	return snapshot, nil
}

// simulate walks the plan as a dry run: every action is marked confirmed
// with a simulated transaction hash, no signer or adapter is contacted, and
// the projected cost is the sum of the plan's estimates.
func (s *Service) simulate(execution *models.Execution) {
	now := time.Now()
	for _, action := range execution.Plan {
		rec := execution.Record(action.ID)
		rec.Status = models.ActionConfirmed
		rec.TransactionHash = "simulated"
		rec.CostIncurred = action.EstimatedCost
		rec.StartedAt = &now
		rec.FinishedAt = &now
	}
	execution.Status = models.ExecutionCompleted
	execution.CompletedAt = &now
	s.logger.Debug("Execution %s simulated (%d actions)", execution.ID, len(execution.Plan))
}

// GetExecution returns a snapshot of the execution. Terminal executions are
// served from the cache; they are immutable once finished, so the cached
// copy can never be stale.
func (s *Service) GetExecution(id string) (*models.Execution, error) {
	if execution, ok := s.execCache.Get(id); ok {
		return execution.Clone(), nil
	}

	execution, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if execution.Status.Terminal() {
		s.execCache.Set(id, execution.Clone(), s.cfg.TerminalCacheTTL)
	}
	return execution, nil
}

// ListExecutions returns the wallet's executions, newest first.
func (s *Service) ListExecutions(wallet string, limit, offset int) ([]*models.Execution, error) {
	return s.store.ListByWallet(wallet, limit, offset)
}

// LatestExecution returns the wallet's most recent execution of any status,
// or store.ErrNotFound when the wallet has no history.
func (s *Service) LatestExecution(wallet string) (*models.Execution, error) {
	return s.store.LatestForWallet(wallet)
}

// HasActiveExecution reports whether the wallet has an execution that is
// still pending or executing.
func (s *Service) HasActiveExecution(wallet string) (bool, error) {
	_, err := s.store.ActiveForWallet(wallet)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CancelExecution requests cooperative cancellation of a running execution.
// In-flight signature polls and confirmation waits observe the signal and
// return promptly; already-confirmed actions stay confirmed.
func (s *Service) CancelExecution(id string) error {
	s.mu.Lock()
	cancel, running := s.cancels[id]
	s.mu.Unlock()

	if running {
		cancel()
		s.logger.Notice("Execution %s cancellation requested", id)
		return nil
	}

	execution, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return fmt.Errorf("execution %s already %s", id, execution.Status)
	}
	// Pending but not picked up by a driver yet: fail it before it starts.
	execution.Status = models.ExecutionFailed
	execution.Error = "cancelled"
	now := time.Now()
	execution.CompletedAt = &now
	for _, action := range execution.Plan {
		rec := execution.Record(action.ID)
		if !rec.Status.Terminal() {
			rec.Status = models.ActionFailed
			rec.Error = "cancelled"
			rec.FinishedAt = &now
		}
	}
	if err := s.store.Put(execution); err != nil {
		return err
	}

	// A driver may have dequeued the execution between the map check and the
	// store write. Drivers register their cancel func before reading the
	// stored status, so by now it either observes the terminal snapshot
	// above or is present in the map and gets signalled here.
	s.mu.Lock()
	cancel, running = s.cancels[id]
	s.mu.Unlock()
	if running {
		cancel()
	}
	return nil
}

func (s *Service) registerCancel(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()
}

func (s *Service) unregisterCancel(id string) {
	s.mu.Lock()
	delete(s.cancels, id)
	s.mu.Unlock()
}

func (s *Service) breakerFor(chain string) *circuitbreaker.CircuitBreaker {
	if s.breakers == nil {
		return nil
	}
	return s.breakers[chain]
}
