package models

import (
	"time"
)

// ActionStatus is the per-action sub-state within an execution.
type ActionStatus string

const (
	ActionNotStarted           ActionStatus = "not_started"
	ActionAwaitingSignature    ActionStatus = "awaiting_signature"
	ActionAwaitingConfirmation ActionStatus = "awaiting_confirmation"
	ActionConfirmed            ActionStatus = "confirmed"
	ActionFailed               ActionStatus = "failed"
)

// Terminal reports whether the status is a terminal sub-state.
func (s ActionStatus) Terminal() bool {
	return s == ActionConfirmed || s == ActionFailed
}

// ExecutionStatus is the state of an execution as a whole.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionExecuting ExecutionStatus = "executing"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPartial   ExecutionStatus = "partial"
)

// Terminal reports whether the execution reached a terminal state.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionPartial
}

// ActionRecord is the runtime outcome of one action within one execution.
type ActionRecord struct {
	ActionID           string       `json:"action_id"`
	Status             ActionStatus `json:"status"`
	SignatureRequestID string       `json:"signature_request_id,omitempty"`
	TransactionHash    string       `json:"transaction_hash,omitempty"`
	CostIncurred       string       `json:"cost_incurred,omitempty"`
	Error              string       `json:"error,omitempty"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	FinishedAt         *time.Time   `json:"finished_at,omitempty"`
}

// Execution is one rebalance run for one wallet. The plan is immutable after
// creation; only records, status, completedAt and error are updated while the
// coordinator drives the run.
type Execution struct {
	ID            string                   `json:"id"`
	WalletAddress string                   `json:"wallet_address"`
	Strategy      string                   `json:"strategy"`
	DryRun        bool                     `json:"dry_run,omitempty"`
	Plan          []Action                 `json:"plan"`
	Status        ExecutionStatus          `json:"status"`
	Records       map[string]*ActionRecord `json:"records"`
	StartedAt     time.Time                `json:"started_at"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// Record returns the record for an action ID, creating it lazily.
func (e *Execution) Record(actionID string) *ActionRecord {
	if e.Records == nil {
		e.Records = make(map[string]*ActionRecord)
	}
	rec, ok := e.Records[actionID]
	if !ok {
		rec = &ActionRecord{ActionID: actionID, Status: ActionNotStarted}
		e.Records[actionID] = rec
	}
	return rec
}

// Clone returns a deep copy safe to hand to external readers while the
// coordinator keeps mutating the original.
func (e *Execution) Clone() *Execution {
	cp := *e
	cp.Plan = append([]Action(nil), e.Plan...)
	cp.Records = make(map[string]*ActionRecord, len(e.Records))
	for id, rec := range e.Records {
		recCopy := *rec
		cp.Records[id] = &recCopy
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// DeriveStatus computes the terminal status from the per-action records:
// completed when every action confirmed, failed when none confirmed,
// partial otherwise.
func (e *Execution) DeriveStatus() ExecutionStatus {
	confirmed := 0
	for _, action := range e.Plan {
		if rec, ok := e.Records[action.ID]; ok && rec.Status == ActionConfirmed {
			confirmed++
		}
	}
	switch {
	case confirmed == len(e.Plan):
		return ExecutionCompleted
	case confirmed == 0:
		return ExecutionFailed
	default:
		return ExecutionPartial
	}
}
