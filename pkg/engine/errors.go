package engine

import "fmt"

// ValidationError indicates a malformed or cyclic plan. It is returned
// before any side effect: no signature request or transaction is ever
// issued for a plan that fails validation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan: %s", e.Reason)
}

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// DependencyFailedError marks an action that was never attempted because an
// upstream action in the same plan failed or was cancelled.
type DependencyFailedError struct {
	ActionID     string
	DependencyID string
	Cancelled    bool
}

func (e *DependencyFailedError) Error() string {
	if e.Cancelled {
		return "dependency cancelled"
	}
	return "dependency failed"
}

// ErrQueueFull is returned when the execution queue cannot accept more work.
var ErrQueueFull = fmt.Errorf("execution queue is full")
