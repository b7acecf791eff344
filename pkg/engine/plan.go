package engine

import (
	"sort"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/chains"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

// validatePlan checks a plan before anything is executed: IDs must be unique
// and non-empty, kinds known, amounts positive decimal quantities, every
// dependsOn entry must reference an action in the same plan, and the
// dependency graph must be acyclic.
func validatePlan(plan []models.Action) error {
	if len(plan) == 0 {
		return validationErrorf("plan is empty")
	}

	index := make(map[string]int, len(plan))
	for i, action := range plan {
		if action.ID == "" {
			return validationErrorf("action at position %d has no id", i)
		}
		if _, dup := index[action.ID]; dup {
			return validationErrorf("duplicate action id %s", action.ID)
		}
		index[action.ID] = i

		if !action.Kind.Valid() {
			return validationErrorf("action %s has unknown kind %q", action.ID, action.Kind)
		}
		if action.TargetProtocol == "" {
			return validationErrorf("action %s has no target protocol", action.ID)
		}
		if action.Chain() == "" {
			return validationErrorf("action %s has no chain", action.ID)
		}
		if !chains.IsSupported(action.Chain()) {
			return validationErrorf("action %s targets unsupported chain %q", action.ID, action.Chain())
		}
		if _, err := action.AmountBig(); err != nil {
			return validationErrorf("action %s: %v", action.ID, err)
		}
	}

	for _, action := range plan {
		for _, dep := range action.DependsOn {
			if dep == action.ID {
				return validationErrorf("action %s depends on itself", action.ID)
			}
			if _, ok := index[dep]; !ok {
				return validationErrorf("action %s depends on unknown action %s", action.ID, dep)
			}
		}
	}

	if _, err := executionOrder(plan); err != nil {
		return err
	}
	return nil
}

// executionOrder computes a topological order over the plan's dependency
// graph using Kahn's algorithm. Among actions whose dependencies are all
// satisfied, lower priority executes first, ties broken by plan position.
// A cycle yields a ValidationError.
func executionOrder(plan []models.Action) ([]models.Action, error) {
	position := make(map[string]int, len(plan))
	indegree := make(map[string]int, len(plan))
	dependents := make(map[string][]string, len(plan))

	for i, action := range plan {
		position[action.ID] = i
		indegree[action.ID] = len(action.DependsOn)
		for _, dep := range action.DependsOn {
			dependents[dep] = append(dependents[dep], action.ID)
		}
	}

	ready := make([]string, 0, len(plan))
	for _, action := range plan {
		if indegree[action.ID] == 0 {
			ready = append(ready, action.ID)
		}
	}

	byID := make(map[string]models.Action, len(plan))
	for _, action := range plan {
		byID[action.ID] = action
	}

	sortReady := func() {
		sort.Slice(ready, func(i, j int) bool {
			a, b := byID[ready[i]], byID[ready[j]]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return position[a.ID] < position[b.ID]
		})
	}

	order := make([]models.Action, 0, len(plan))
	for len(ready) > 0 {
		sortReady()
		next := ready[0]
		ready = ready[1:]
		order = append(order, byID[next])

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(plan) {
		return nil, validationErrorf("dependency graph contains a cycle")
	}
	return order, nil
}
