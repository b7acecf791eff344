package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

func action(id string, kind models.ActionKind, priority int, deps ...string) models.Action {
	return models.Action{
		ID:             id,
		Kind:           kind,
		TargetProtocol: "aave",
		TargetChain:    "ethereum",
		Asset:          "USDC",
		Amount:         "1000",
		Priority:       priority,
		DependsOn:      deps,
	}
}

func TestValidatePlanRejectsMalformedPlans(t *testing.T) {
	cases := map[string][]models.Action{
		"empty plan": {},
		"missing id": {
			{Kind: models.ActionDeposit, TargetProtocol: "aave", TargetChain: "ethereum", Asset: "USDC", Amount: "1"},
		},
		"duplicate id": {
			action("a1", models.ActionWithdraw, 1),
			action("a1", models.ActionDeposit, 2),
		},
		"unknown kind": {
			{ID: "a1", Kind: "teleport", TargetProtocol: "aave", TargetChain: "ethereum", Asset: "USDC", Amount: "1"},
		},
		"missing chain": {
			{ID: "a1", Kind: models.ActionDeposit, TargetProtocol: "aave", Asset: "USDC", Amount: "1"},
		},
		"unsupported chain": {
			{ID: "a1", Kind: models.ActionDeposit, TargetProtocol: "aave", TargetChain: "dogechain", Asset: "USDC", Amount: "1"},
		},
		"zero amount": {
			{ID: "a1", Kind: models.ActionDeposit, TargetProtocol: "aave", TargetChain: "ethereum", Asset: "USDC", Amount: "0"},
		},
		"non-numeric amount": {
			{ID: "a1", Kind: models.ActionDeposit, TargetProtocol: "aave", TargetChain: "ethereum", Asset: "USDC", Amount: "ten"},
		},
		"unknown dependency": {
			action("a1", models.ActionWithdraw, 1, "ghost"),
		},
		"self dependency": {
			action("a1", models.ActionWithdraw, 1, "a1"),
		},
		"two-node cycle": {
			action("a1", models.ActionWithdraw, 1, "a2"),
			action("a2", models.ActionDeposit, 2, "a1"),
		},
		"three-node cycle": {
			action("a1", models.ActionWithdraw, 1, "a3"),
			action("a2", models.ActionSwap, 2, "a1"),
			action("a3", models.ActionDeposit, 3, "a2"),
		},
	}

	for name, plan := range cases {
		t.Run(name, func(t *testing.T) {
			err := validatePlan(plan)
			require.Error(t, err)
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}
}

func TestValidatePlanAcceptsValidPlan(t *testing.T) {
	plan := []models.Action{
		action("a1", models.ActionWithdraw, 1),
		action("a2", models.ActionSwap, 2, "a1"),
		action("a3", models.ActionDeposit, 3, "a2"),
	}
	assert.NoError(t, validatePlan(plan))
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	plan := []models.Action{
		action("deposit", models.ActionDeposit, 1, "withdraw"),
		action("withdraw", models.ActionWithdraw, 5),
	}

	order, err := executionOrder(plan)
	require.NoError(t, err)
	require.Len(t, order, 2)
	// The dependency runs first regardless of priority.
	assert.Equal(t, "withdraw", order[0].ID)
	assert.Equal(t, "deposit", order[1].ID)
}

func TestExecutionOrderPriorityBreaksTies(t *testing.T) {
	plan := []models.Action{
		action("low-priority", models.ActionWithdraw, 9),
		action("high-priority", models.ActionWithdraw, 1),
		action("same-priority", models.ActionWithdraw, 9),
	}

	order, err := executionOrder(plan)
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, "high-priority", order[0].ID)
	// Equal priorities keep plan order.
	assert.Equal(t, "low-priority", order[1].ID)
	assert.Equal(t, "same-priority", order[2].ID)
}

func TestExecutionOrderDetectsCycle(t *testing.T) {
	plan := []models.Action{
		action("a1", models.ActionWithdraw, 1, "a2"),
		action("a2", models.ActionDeposit, 2, "a1"),
	}
	_, err := executionOrder(plan)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}
