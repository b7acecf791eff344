// Package trigger watches configured wallets and starts rebalances
// automatically when a wallet's policy says so.
package trigger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/metrics"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/planner"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/store"
)

// Fire reasons, used as metric labels and log text.
const (
	ReasonInterval   = "interval"
	ReasonAPYFloor   = "apy_floor"
	ReasonValueDrift = "value_drift"
)

// RebalanceStarter is the engine surface the monitor drives.
type RebalanceStarter interface {
	CreateExecution(wallet, strategy string, plan []models.Action, dryRun bool) (*models.Execution, error)
	HasActiveExecution(wallet string) (bool, error)
	LatestExecution(wallet string) (*models.Execution, error)
}

// walletState is the monitor's memory of a wallet between ticks.
type walletState struct {
	lastFired time.Time
	lastValue float64
	hasValue  bool
}

// Monitor evaluates every enabled TriggerConfig on a fixed schedule and
// enqueues at most one execution per wallet per tick.
type Monitor struct {
	triggers  store.TriggerStore
	engine    RebalanceStarter
	positions planner.PositionSource
	planner   planner.PlanGenerator
	logger    logger.Logger

	cron    *cron.Cron
	tick    time.Duration
	timeout time.Duration

	mu     sync.Mutex
	states map[string]*walletState
}

// NewMonitor creates a trigger monitor that evaluates every tick.
func NewMonitor(
	triggers store.TriggerStore,
	engine RebalanceStarter,
	positions planner.PositionSource,
	planGenerator planner.PlanGenerator,
	tick time.Duration,
	log logger.Logger,
) *Monitor {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Monitor{
		triggers:  triggers,
		engine:    engine,
		positions: positions,
		planner:   planGenerator,
		logger:    log,
		cron:      cron.New(),
		tick:      tick,
		timeout:   30 * time.Second,
		states:    make(map[string]*walletState),
	}
}

// Start schedules the evaluation loop. Stop it with Stop.
func (m *Monitor) Start() error {
	spec := fmt.Sprintf("@every %s", m.tick)
	if _, err := m.cron.AddFunc(spec, m.tickOnce); err != nil {
		return fmt.Errorf("failed to schedule trigger evaluation: %v", err)
	}
	m.cron.Start()
	m.logger.Info("Trigger monitor started, evaluating every %s", m.tick)
	return nil
}

// Stop halts the schedule and waits for a running evaluation to finish.
func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

func (m *Monitor) tickOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.EvaluateAll(ctx)
}

// EvaluateAll runs one evaluation pass over every stored trigger config.
func (m *Monitor) EvaluateAll(ctx context.Context) {
	configs, err := m.triggers.ListTriggers()
	if err != nil {
		m.logger.Error("Trigger monitor: failed to list configs: %v", err)
		return
	}

	for _, config := range configs {
		if !config.Enabled {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		m.evaluateWallet(ctx, config)
	}
}

// evaluateWallet checks one wallet's predicates and enqueues a rebalance
// when the first one fires. Wallets with an execution still in flight are
// skipped so the monitor never stacks a second run on top.
func (m *Monitor) evaluateWallet(ctx context.Context, config *models.TriggerConfig) {
	metrics.TriggerEvaluations.Inc()
	wallet := config.WalletAddress

	active, err := m.engine.HasActiveExecution(wallet)
	if err != nil {
		m.logger.Error("Trigger monitor: active-execution check failed for %s: %v", wallet, err)
		metrics.TriggersSkipped.WithLabelValues("store_error").Inc()
		return
	}
	if active {
		m.logger.Debug("Trigger monitor: wallet %s has an execution in flight, skipping", wallet)
		metrics.TriggersSkipped.WithLabelValues("active_execution").Inc()
		return
	}

	positions, err := m.positions.GetPositions(ctx, wallet)
	if err != nil {
		m.logger.Error("Trigger monitor: failed to fetch positions for %s: %v", wallet, err)
		metrics.TriggersSkipped.WithLabelValues("positions_error").Inc()
		return
	}
	value, apy := portfolioSummary(positions)

	state := m.stateFor(wallet)
	reason := evaluatePredicates(config, state, value, apy, time.Now())

	// The drift baseline moves on every evaluation, fired or not.
	m.mu.Lock()
	state.lastValue = value
	state.hasValue = true
	m.mu.Unlock()

	if reason == "" {
		return
	}

	plan, err := m.planner.GeneratePlan(ctx, planner.PlanRequest{
		WalletAddress: wallet,
		Strategy:      config.Strategy,
		MaxSlippage:   config.MaxSlippage,
	})
	if err != nil {
		m.logger.Error("Trigger monitor: plan generation failed for %s: %v", wallet, err)
		metrics.TriggersSkipped.WithLabelValues("planner_error").Inc()
		return
	}
	if len(plan) == 0 {
		m.logger.Debug("Trigger monitor: planner returned no actions for %s", wallet)
		metrics.TriggersSkipped.WithLabelValues("empty_plan").Inc()
		return
	}

	execution, err := m.engine.CreateExecution(wallet, config.Strategy, plan, false)
	if err != nil {
		m.logger.Error("Trigger monitor: failed to start execution for %s: %v", wallet, err)
		metrics.TriggersSkipped.WithLabelValues("engine_error").Inc()
		return
	}

	m.mu.Lock()
	state.lastFired = time.Now()
	m.mu.Unlock()

	metrics.TriggersFired.WithLabelValues(reason).Inc()
	m.logger.Notice("Trigger monitor: started execution %s for wallet %s (%s)",
		execution.ID, wallet, reason)
}

func (m *Monitor) stateFor(wallet string) *walletState {
	m.mu.Lock()
	state, ok := m.states[wallet]
	m.mu.Unlock()
	if ok {
		return state
	}

	// First sight of this wallet since the process started. The interval
	// baseline comes from the stored execution history, so a restart does
	// not make every configured wallet fire on the next tick.
	state = &walletState{}
	if latest, err := m.engine.LatestExecution(wallet); err == nil {
		state.lastFired = latest.StartedAt
	}

	m.mu.Lock()
	if existing, ok := m.states[wallet]; ok {
		state = existing
	} else {
		m.states[wallet] = state
	}
	m.mu.Unlock()
	return state
}

// evaluatePredicates checks the wallet's predicates in a fixed order and
// returns the reason of the first one that fires, or "" when none does.
// Order: elapsed interval, APY floor, portfolio value drift.
func evaluatePredicates(config *models.TriggerConfig, state *walletState, value, apy float64, now time.Time) string {
	if config.Interval > 0 {
		if state.lastFired.IsZero() || now.Sub(state.lastFired) >= config.Interval {
			return ReasonInterval
		}
	}

	if config.MinAPY > 0 && value > 0 && apy < config.MinAPY {
		return ReasonAPYFloor
	}

	if config.ValueChangeThreshold > 0 && state.hasValue && state.lastValue > 0 {
		drift := math.Abs(value-state.lastValue) / state.lastValue
		if drift >= config.ValueChangeThreshold {
			return ReasonValueDrift
		}
	}

	return ""
}

// portfolioSummary reduces positions to total value and value-weighted APY.
func portfolioSummary(positions []models.Position) (value, apy float64) {
	for _, p := range positions {
		value += p.Value
		apy += p.APY * p.Value
	}
	if value > 0 {
		apy /= value
	}
	return value, apy
}
