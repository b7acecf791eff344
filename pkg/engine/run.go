package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/chainadapter"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/metrics"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

// actionUpdate is how action goroutines report progress back to the driver.
// Only the driver loop applies updates to the execution's records, so record
// mutation is single-writer by construction.
type actionUpdate struct {
	actionID           string
	status             models.ActionStatus
	signatureRequestID string
	txHash             string
	cost               string
	errMsg             string
	at                 time.Time
}

// runExecution drives one execution to a terminal state. Independent actions
// run concurrently; an action is launched only once every dependency is
// confirmed, and is failed without being attempted when a dependency fails.
func (s *Service) runExecution(ctx context.Context, execution *models.Execution) {
	// The cancel func is registered before the stored-status check: a
	// cancellation racing this pickup either sees the terminal snapshot it
	// wrote or finds the registered func and signals the context.
	execCtx, cancel := context.WithCancel(ctx)
	s.registerCancel(execution.ID, cancel)
	defer func() {
		cancel()
		s.unregisterCancel(execution.ID)
	}()

	// Cancelled while still queued: the stored copy is already terminal.
	if stored, err := s.store.Get(execution.ID); err == nil && stored.Status.Terminal() {
		s.logger.Debug("Execution %s already terminal, skipping", execution.ID)
		return
	}

	execution.Status = models.ExecutionExecuting
	if err := s.store.Put(execution); err != nil {
		s.logger.Error("Failed to persist execution %s: %v", execution.ID, err)
	}
	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	s.logger.Info("Execution %s started: %d actions for wallet %s",
		execution.ID, len(execution.Plan), execution.WalletAddress)

	updates := make(chan actionUpdate)
	launched := make(map[string]bool, len(execution.Plan))
	running := 0
	cancelled := false
	done := execCtx.Done()

	for {
		running += s.launchReady(execCtx, execution, launched, updates, cancelled)

		if running == 0 && allTerminal(execution) {
			break
		}

		select {
		case <-done:
			// First cancellation signal: stop selecting on Done and let
			// in-flight actions observe the context and report back.
			cancelled = true
			done = nil
		case update := <-updates:
			if s.applyUpdate(execution, update) {
				running--
			}
			if err := s.store.Put(execution); err != nil {
				s.logger.Error("Failed to persist execution %s: %v", execution.ID, err)
			}
		}
	}

	s.finalize(execution)
}

// launchReady walks the plan in execution order and, for every action not yet
// launched: fails it immediately if a dependency failed or the execution was
// cancelled, or starts its goroutine if all dependencies are confirmed.
// It returns the number of goroutines started.
func (s *Service) launchReady(ctx context.Context, execution *models.Execution, launched map[string]bool, updates chan<- actionUpdate, cancelled bool) int {
	order, err := executionOrder(execution.Plan)
	if err != nil {
		// Plans are validated before they reach a driver.
		s.logger.Error("Execution %s has an invalid plan: %v", execution.ID, err)
		return 0
	}

	started := 0
	// Dependency failures cascade, so keep sweeping until nothing changes.
	for changed := true; changed; {
		changed = false
		for _, action := range order {
			if launched[action.ID] || execution.Record(action.ID).Status.Terminal() {
				continue
			}

			if cancelled {
				s.failAction(execution, action, "cancelled")
				changed = true
				continue
			}

			ready := true
			for _, dep := range action.DependsOn {
				depRec := execution.Record(dep)
				if depRec.Status == models.ActionFailed {
					depErr := &DependencyFailedError{
						ActionID:     action.ID,
						DependencyID: dep,
						Cancelled:    isCancellation(depRec.Error),
					}
					s.failAction(execution, action, depErr.Error())
					metrics.DependencyFailures.WithLabelValues(action.Chain()).Inc()
					changed = true
					ready = false
					break
				}
				if depRec.Status != models.ActionConfirmed {
					ready = false
				}
			}
			if !ready || execution.Record(action.ID).Status.Terminal() {
				continue
			}

			launched[action.ID] = true
			started++
			go s.runAction(ctx, execution.ID, execution.WalletAddress, action, updates)
		}
	}
	return started
}

// failAction marks an action failed without attempting it. No signature
// request or transaction is ever issued for such an action.
func (s *Service) failAction(execution *models.Execution, action models.Action, reason string) {
	now := time.Now()
	rec := execution.Record(action.ID)
	rec.Status = models.ActionFailed
	rec.Error = reason
	rec.FinishedAt = &now
	metrics.ActionsProcessed.WithLabelValues(action.Chain(), string(action.Kind), "failed").Inc()
	s.logger.InfoWithChain(action.Chain(), "Action %s skipped: %s", action.ID, reason)
}

// applyUpdate copies one progress report into the execution's record and
// reports whether the action reached a terminal sub-state.
func (s *Service) applyUpdate(execution *models.Execution, update actionUpdate) bool {
	rec := execution.Record(update.actionID)
	rec.Status = update.status
	if update.signatureRequestID != "" {
		rec.SignatureRequestID = update.signatureRequestID
	}
	if update.txHash != "" {
		rec.TransactionHash = update.txHash
	}
	if update.cost != "" {
		rec.CostIncurred = update.cost
	}
	if update.errMsg != "" {
		rec.Error = update.errMsg
	}
	at := update.at
	switch update.status {
	case models.ActionAwaitingSignature:
		if rec.StartedAt == nil {
			rec.StartedAt = &at
		}
	case models.ActionConfirmed, models.ActionFailed:
		rec.FinishedAt = &at
		return true
	}
	return false
}

// signPayload is the canonical byte payload submitted to the threshold
// signer for one action.
type signPayload struct {
	ExecutionID    string            `json:"execution_id"`
	ActionID       string            `json:"action_id"`
	Wallet         string            `json:"wallet"`
	Kind           models.ActionKind `json:"kind"`
	SourceProtocol string            `json:"source_protocol,omitempty"`
	TargetProtocol string            `json:"target_protocol"`
	Asset          string            `json:"asset"`
	Amount         string            `json:"amount"`
	Chain          string            `json:"chain"`
}

// runAction drives one action through signing, submission and confirmation,
// reporting every transition on the updates channel.
func (s *Service) runAction(ctx context.Context, executionID, wallet string, action models.Action, updates chan<- actionUpdate) {
	chain := action.Chain()
	start := time.Now()

	fail := func(err error) {
		updates <- actionUpdate{
			actionID: action.ID,
			status:   models.ActionFailed,
			errMsg:   err.Error(),
			at:       time.Now(),
		}
		metrics.ActionsProcessed.WithLabelValues(chain, string(action.Kind), "failed").Inc()
		metrics.ActionProcessingTime.WithLabelValues(chain).Observe(time.Since(start).Seconds())
		s.logger.ErrorWithChain(chain, "Action %s (%s) failed: %v", action.ID, action.Kind, err)
	}

	adapter, err := s.adapters.Get(chain)
	if err != nil {
		fail(err)
		return
	}
	submit, err := dispatchFor(adapter, action.Kind)
	if err != nil {
		fail(err)
		return
	}

	if breaker := s.breakerFor(chain); breaker != nil && breaker.IsOpen() {
		fail(fmt.Errorf("circuit breaker open for chain %s", chain))
		return
	}

	updates <- actionUpdate{actionID: action.ID, status: models.ActionAwaitingSignature, at: time.Now()}

	payload, err := json.Marshal(signPayload{
		ExecutionID:    executionID,
		ActionID:       action.ID,
		Wallet:         wallet,
		Kind:           action.Kind,
		SourceProtocol: action.SourceProtocol,
		TargetProtocol: action.TargetProtocol,
		Asset:          action.Asset,
		Amount:         action.Amount,
		Chain:          chain,
	})
	if err != nil {
		fail(fmt.Errorf("failed to encode signing payload: %v", err))
		return
	}

	requestID, err := s.signer.RequestSignature(ctx, payload, chainPath(action))
	if err != nil {
		fail(fmt.Errorf("signature request failed: %w", err))
		return
	}
	// Record the request ID before waiting: a non-idempotent signing job
	// must be resumable, never re-requested.
	updates <- actionUpdate{
		actionID:           action.ID,
		status:             models.ActionAwaitingSignature,
		signatureRequestID: requestID,
		at:                 time.Now(),
	}

	signature, err := s.signer.WaitForSignature(ctx, requestID, s.cfg.SignMaxAttempts, s.cfg.SignPollInterval)
	if err != nil {
		fail(err)
		return
	}

	amount, err := action.AmountBig()
	if err != nil {
		fail(err)
		return
	}
	result, err := submit(ctx, chainadapter.TxRequest{
		Wallet:         wallet,
		SourceProtocol: action.SourceProtocol,
		TargetProtocol: action.TargetProtocol,
		Asset:          action.Asset,
		Amount:         amount,
		Signature:      signature,
	})
	if err != nil {
		if breaker := s.breakerFor(chain); breaker != nil {
			breaker.RecordFailure()
		}
		fail(err)
		return
	}

	updates <- actionUpdate{
		actionID: action.ID,
		status:   models.ActionAwaitingConfirmation,
		txHash:   result.TransactionHash,
		at:       time.Now(),
	}

	confirmed, err := adapter.WaitForConfirmation(ctx, result.TransactionHash)
	if err != nil {
		if breaker := s.breakerFor(chain); breaker != nil && !errors.Is(err, context.Canceled) {
			breaker.RecordFailure()
		}
		fail(err)
		return
	}

	updates <- actionUpdate{
		actionID: action.ID,
		status:   models.ActionConfirmed,
		cost:     confirmed.CostIncurred,
		at:       time.Now(),
	}
	metrics.ActionsProcessed.WithLabelValues(chain, string(action.Kind), "confirmed").Inc()
	metrics.ActionProcessingTime.WithLabelValues(chain).Observe(time.Since(start).Seconds())
	s.logger.InfoWithChain(chain, "Action %s (%s) confirmed: tx %s", action.ID, action.Kind, confirmed.TransactionHash)
}

// dispatchFor resolves the adapter method for an action kind once, up front.
func dispatchFor(adapter chainadapter.Adapter, kind models.ActionKind) (func(context.Context, chainadapter.TxRequest) (*chainadapter.TxResult, error), error) {
	switch kind {
	case models.ActionWithdraw:
		return adapter.Withdraw, nil
	case models.ActionDeposit:
		return adapter.Deposit, nil
	case models.ActionSwap:
		return adapter.Swap, nil
	case models.ActionMigrate:
		return adapter.Migrate, nil
	default:
		return nil, fmt.Errorf("no dispatch for action kind %q", kind)
	}
}

// chainPath is the signer's key-derivation hint: source and target chain for
// cross-chain actions, a single chain otherwise.
func chainPath(action models.Action) string {
	if action.SourceChain != "" && action.TargetChain != "" && action.SourceChain != action.TargetChain {
		return action.SourceChain + ":" + action.TargetChain
	}
	return action.Chain()
}

// finalize derives the terminal status from the records, persists it and
// notifies.
func (s *Service) finalize(execution *models.Execution) {
	execution.Status = execution.DeriveStatus()
	now := time.Now()
	execution.CompletedAt = &now

	if execution.Status != models.ExecutionCompleted {
		execution.Error = summarizeFailures(execution)
	}

	if err := s.store.Put(execution); err != nil {
		s.logger.Error("Failed to persist finished execution %s: %v", execution.ID, err)
	}
	s.execCache.Set(execution.ID, execution.Clone(), s.cfg.TerminalCacheTTL)

	metrics.ExecutionsFinished.WithLabelValues(string(execution.Status)).Inc()
	s.notifier.ExecutionFinished(execution.Clone())
}

// summarizeFailures builds the execution-level error from the failed records,
// in plan order.
func summarizeFailures(execution *models.Execution) string {
	summary := ""
	for _, action := range execution.Plan {
		rec := execution.Record(action.ID)
		if rec.Status != models.ActionFailed {
			continue
		}
		if summary != "" {
			summary += "; "
		}
		summary += fmt.Sprintf("%s: %s", action.ID, rec.Error)
	}
	return summary
}

func allTerminal(execution *models.Execution) bool {
	for _, action := range execution.Plan {
		if !execution.Record(action.ID).Status.Terminal() {
			return false
		}
	}
	return true
}

func isCancellation(errMsg string) bool {
	return errMsg == "cancelled" || errMsg == context.Canceled.Error()
}
