package engine

import (
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
	"github.com/flowyield-hq/flowyield-rebalancer/pkg/models"
)

// Notifier receives a callback whenever an execution reaches a terminal
// state. Implementations must not block; the coordinator calls them inline.
type Notifier interface {
	ExecutionFinished(execution *models.Execution)
}

// LogNotifier reports finished executions through the logger. It is the
// default when no other notifier is configured.
type LogNotifier struct {
	Logger logger.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func (n *LogNotifier) ExecutionFinished(execution *models.Execution) {
	confirmed := 0
	for _, rec := range execution.Records {
		if rec.Status == models.ActionConfirmed {
			confirmed++
		}
	}
	switch execution.Status {
	case models.ExecutionCompleted:
		n.Logger.Notice("Execution %s completed: %d/%d actions confirmed",
			execution.ID, confirmed, len(execution.Plan))
	case models.ExecutionPartial:
		n.Logger.Notice("Execution %s partial: %d/%d actions confirmed: %s",
			execution.ID, confirmed, len(execution.Plan), execution.Error)
	default:
		n.Logger.Error("Execution %s failed: %s", execution.ID, execution.Error)
	}
}
