package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/planner"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/store"
)

type stubStarter struct {
	mu      sync.Mutex
	started []string
	active  map[string]bool
	latest  map[string]*models.Execution
	err     error
}

func (s *stubStarter) CreateExecution(wallet, _ string, _ []models.Action, _ bool) (*models.Execution, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	s.started = append(s.started, wallet)
	s.mu.Unlock()
	return &models.Execution{ID: "exec-" + wallet, WalletAddress: wallet}, nil
}

func (s *stubStarter) HasActiveExecution(wallet string) (bool, error) {
	return s.active[wallet], nil
}

func (s *stubStarter) LatestExecution(wallet string) (*models.Execution, error) {
	if execution, ok := s.latest[wallet]; ok {
		return execution, nil
	}
	return nil, store.ErrNotFound
}

func (s *stubStarter) startedWallets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

type stubPositions struct {
	positions map[string][]models.Position
}

func (s *stubPositions) GetPositions(_ context.Context, wallet string) ([]models.Position, error) {
	return s.positions[wallet], nil
}

type stubPlanner struct {
	plan []models.Action
}

func (s *stubPlanner) GeneratePlan(_ context.Context, _ planner.PlanRequest) ([]models.Action, error) {
	return s.plan, nil
}

func defaultPlan() []models.Action {
	return []models.Action{
		{ID: "a1", Kind: models.ActionWithdraw, TargetProtocol: "aave", TargetChain: "ethereum", Asset: "USDC", Amount: "1000"},
	}
}

func newTestMonitor(t *testing.T, starter *stubStarter, positions *stubPositions, configs ...*models.TriggerConfig) *Monitor {
	t.Helper()
	triggers := store.NewMemoryStore()
	for _, config := range configs {
		require.NoError(t, triggers.SetTrigger(config))
	}
	return NewMonitor(triggers, starter, positions, &stubPlanner{plan: defaultPlan()}, time.Minute, &logger.EmptyLogger{})
}

func TestEvaluatePredicatesOrder(t *testing.T) {
	now := time.Now()

	t.Run("interval fires first for a never-fired wallet", func(t *testing.T) {
		config := &models.TriggerConfig{Interval: time.Hour, MinAPY: 10}
		reason := evaluatePredicates(config, &walletState{}, 1000, 1, now)
		assert.Equal(t, ReasonInterval, reason)
	})

	t.Run("interval respects last fire time", func(t *testing.T) {
		config := &models.TriggerConfig{Interval: time.Hour}
		state := &walletState{lastFired: now.Add(-30 * time.Minute)}
		assert.Empty(t, evaluatePredicates(config, state, 1000, 5, now))

		state.lastFired = now.Add(-2 * time.Hour)
		assert.Equal(t, ReasonInterval, evaluatePredicates(config, state, 1000, 5, now))
	})

	t.Run("apy floor fires when portfolio yield drops below minimum", func(t *testing.T) {
		config := &models.TriggerConfig{MinAPY: 4.0}
		state := &walletState{lastFired: now}
		assert.Equal(t, ReasonAPYFloor, evaluatePredicates(config, state, 1000, 3.5, now))
		assert.Empty(t, evaluatePredicates(config, state, 1000, 4.5, now))
	})

	t.Run("apy floor ignores empty portfolios", func(t *testing.T) {
		config := &models.TriggerConfig{MinAPY: 4.0}
		assert.Empty(t, evaluatePredicates(config, &walletState{lastFired: now}, 0, 0, now))
	})

	t.Run("value drift compares against the previous evaluation", func(t *testing.T) {
		config := &models.TriggerConfig{ValueChangeThreshold: 0.1}
		state := &walletState{lastFired: now, lastValue: 1000, hasValue: true}
		assert.Equal(t, ReasonValueDrift, evaluatePredicates(config, state, 880, 5, now))
		assert.Equal(t, ReasonValueDrift, evaluatePredicates(config, state, 1150, 5, now))
		assert.Empty(t, evaluatePredicates(config, state, 1050, 5, now))
	})

	t.Run("value drift needs a baseline", func(t *testing.T) {
		config := &models.TriggerConfig{ValueChangeThreshold: 0.1}
		assert.Empty(t, evaluatePredicates(config, &walletState{lastFired: now}, 500, 5, now))
	})

	t.Run("disabled predicates never fire", func(t *testing.T) {
		config := &models.TriggerConfig{}
		state := &walletState{lastValue: 1000, hasValue: true}
		assert.Empty(t, evaluatePredicates(config, state, 1, 0.1, now))
	})
}

func TestPortfolioSummary(t *testing.T) {
	value, apy := portfolioSummary([]models.Position{
		{Value: 1000, APY: 4},
		{Value: 3000, APY: 8},
	})
	assert.Equal(t, 4000.0, value)
	assert.InDelta(t, 7.0, apy, 1e-9)

	value, apy = portfolioSummary(nil)
	assert.Zero(t, value)
	assert.Zero(t, apy)
}

func TestEvaluateAllFiresForEligibleWallet(t *testing.T) {
	starter := &stubStarter{active: map[string]bool{}}
	positions := &stubPositions{positions: map[string][]models.Position{
		"0xwallet": {{Value: 1000, APY: 5}},
	}}
	monitor := newTestMonitor(t, starter, positions,
		&models.TriggerConfig{WalletAddress: "0xwallet", Strategy: "max-apy", Enabled: true, Interval: time.Hour},
	)

	monitor.EvaluateAll(context.Background())
	assert.Equal(t, []string{"0xwallet"}, starter.startedWallets())

	// Second pass inside the interval: nothing new fires.
	monitor.EvaluateAll(context.Background())
	assert.Equal(t, []string{"0xwallet"}, starter.startedWallets())
}

func TestEvaluateAllSkipsDisabledAndActiveWallets(t *testing.T) {
	starter := &stubStarter{active: map[string]bool{"0xbusy": true}}
	positions := &stubPositions{positions: map[string][]models.Position{
		"0xbusy": {{Value: 1000, APY: 5}},
		"0xoff":  {{Value: 1000, APY: 5}},
	}}
	monitor := newTestMonitor(t, starter, positions,
		&models.TriggerConfig{WalletAddress: "0xbusy", Enabled: true, Interval: time.Hour},
		&models.TriggerConfig{WalletAddress: "0xoff", Enabled: false, Interval: time.Hour},
	)

	monitor.EvaluateAll(context.Background())
	assert.Empty(t, starter.startedWallets())
}

func TestIntervalBaselineSeededFromExecutionHistory(t *testing.T) {
	positions := &stubPositions{positions: map[string][]models.Position{
		"0xwallet": {{Value: 1000, APY: 5}},
	}}
	config := &models.TriggerConfig{WalletAddress: "0xwallet", Strategy: "max-apy", Enabled: true, Interval: time.Hour}

	// A freshly constructed monitor stands in for a restarted process: its
	// in-memory state is empty, but the store still has the last run.
	starter := &stubStarter{active: map[string]bool{}, latest: map[string]*models.Execution{
		"0xwallet": {ID: "exec-prev", WalletAddress: "0xwallet", StartedAt: time.Now().Add(-30 * time.Minute)},
	}}
	monitor := newTestMonitor(t, starter, positions, config)
	monitor.EvaluateAll(context.Background())
	assert.Empty(t, starter.startedWallets(), "a run 30m ago is inside the 1h interval")

	// With the last run outside the interval, the restarted monitor fires.
	starter = &stubStarter{active: map[string]bool{}, latest: map[string]*models.Execution{
		"0xwallet": {ID: "exec-prev", WalletAddress: "0xwallet", StartedAt: time.Now().Add(-2 * time.Hour)},
	}}
	monitor = newTestMonitor(t, starter, positions, config)
	monitor.EvaluateAll(context.Background())
	assert.Equal(t, []string{"0xwallet"}, starter.startedWallets())
}

func TestEvaluateAllUpdatesDriftBaseline(t *testing.T) {
	starter := &stubStarter{active: map[string]bool{}}
	positions := &stubPositions{positions: map[string][]models.Position{
		"0xwallet": {{Value: 1000, APY: 5}},
	}}
	monitor := newTestMonitor(t, starter, positions,
		&models.TriggerConfig{WalletAddress: "0xwallet", Enabled: true, ValueChangeThreshold: 0.1},
	)

	// First pass establishes the baseline without firing.
	monitor.EvaluateAll(context.Background())
	assert.Empty(t, starter.startedWallets())

	// Value moves 20%: drift predicate fires.
	positions.positions["0xwallet"] = []models.Position{{Value: 1200, APY: 5}}
	monitor.EvaluateAll(context.Background())
	assert.Equal(t, []string{"0xwallet"}, starter.startedWallets())
}
