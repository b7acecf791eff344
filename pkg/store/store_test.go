package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

func newExecution(id, wallet string, status models.ExecutionStatus, startedAt time.Time) *models.Execution {
	execution := &models.Execution{
		ID:            id,
		WalletAddress: wallet,
		Strategy:      "max-apy",
		Status:        status,
		StartedAt:     startedAt,
		Plan: []models.Action{
			{ID: "a1", Kind: models.ActionWithdraw, TargetProtocol: "aave", TargetChain: "ethereum", Asset: "USDC", Amount: "1000", Priority: 1},
		},
	}
	execution.Record("a1").Status = models.ActionNotStarted
	return execution
}

// backends returns both store implementations so every test runs against each.
func backends(t *testing.T) map[string]interface {
	ExecutionStore
	TriggerStore
} {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]interface {
		ExecutionStore
		TriggerStore
	}{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestPutGetExecution(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			execution := newExecution("ex-1", "0xwallet", models.ExecutionPending, time.Now())
			require.NoError(t, s.Put(execution))

			got, err := s.Get("ex-1")
			require.NoError(t, err)
			assert.Equal(t, "ex-1", got.ID)
			assert.Equal(t, "0xwallet", got.WalletAddress)
			assert.Equal(t, models.ExecutionPending, got.Status)
			require.Len(t, got.Plan, 1)
			assert.Equal(t, models.ActionWithdraw, got.Plan[0].Kind)
			require.Contains(t, got.Records, "a1")

			_, err = s.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPutIsSnapshot(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			execution := newExecution("ex-snap", "0xwallet", models.ExecutionExecuting, time.Now())
			require.NoError(t, s.Put(execution))

			// Mutations after Put must not leak into the stored snapshot.
			execution.Record("a1").Status = models.ActionConfirmed
			execution.Status = models.ExecutionCompleted

			got, err := s.Get("ex-snap")
			require.NoError(t, err)
			assert.Equal(t, models.ExecutionExecuting, got.Status)
			assert.Equal(t, models.ActionNotStarted, got.Records["a1"].Status)
		})
	}
}

func TestListByWalletOrderingAndPagination(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().Add(-time.Hour)
			for i, id := range []string{"old", "mid", "new"} {
				execution := newExecution(id, "0xwallet", models.ExecutionCompleted, base.Add(time.Duration(i)*time.Minute))
				require.NoError(t, s.Put(execution))
			}
			require.NoError(t, s.Put(newExecution("other", "0xother", models.ExecutionCompleted, base)))

			all, err := s.ListByWallet("0xwallet", 0, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "new", all[0].ID)
			assert.Equal(t, "old", all[2].ID)

			page, err := s.ListByWallet("0xwallet", 1, 1)
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, "mid", page[0].ID)

			empty, err := s.ListByWallet("0xwallet", 10, 10)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestActiveForWallet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Now().Add(-time.Hour)
			require.NoError(t, s.Put(newExecution("done", "0xwallet", models.ExecutionCompleted, base)))

			_, err := s.ActiveForWallet("0xwallet")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(newExecution("running", "0xwallet", models.ExecutionExecuting, base.Add(time.Minute))))

			active, err := s.ActiveForWallet("0xwallet")
			require.NoError(t, err)
			assert.Equal(t, "running", active.ID)
		})
	}
}

func TestLatestForWallet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.LatestForWallet("0xwallet")
			assert.ErrorIs(t, err, ErrNotFound)

			base := time.Now().Add(-time.Hour)
			require.NoError(t, s.Put(newExecution("first", "0xwallet", models.ExecutionCompleted, base)))
			require.NoError(t, s.Put(newExecution("second", "0xwallet", models.ExecutionFailed, base.Add(time.Minute))))

			latest, err := s.LatestForWallet("0xwallet")
			require.NoError(t, err)
			assert.Equal(t, "second", latest.ID)
		})
	}
}

func TestTriggerRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			config := &models.TriggerConfig{
				WalletAddress:        "0xwallet",
				Strategy:             "max-apy",
				Enabled:              true,
				Interval:             6 * time.Hour,
				MinAPY:               4.5,
				ValueChangeThreshold: 0.1,
				MaxSlippage:          0.005,
			}
			require.NoError(t, s.SetTrigger(config))

			got, err := s.GetTrigger("0xwallet")
			require.NoError(t, err)
			assert.Equal(t, config.Strategy, got.Strategy)
			assert.Equal(t, config.Interval, got.Interval)
			assert.Equal(t, config.MinAPY, got.MinAPY)
			assert.True(t, got.Enabled)

			_, err = s.GetTrigger("0xunknown")
			assert.ErrorIs(t, err, ErrNotFound)

			// Update in place.
			config.Enabled = false
			require.NoError(t, s.SetTrigger(config))
			got, err = s.GetTrigger("0xwallet")
			require.NoError(t, err)
			assert.False(t, got.Enabled)

			configs, err := s.ListTriggers()
			require.NoError(t, err)
			assert.Len(t, configs, 1)
		})
	}
}
