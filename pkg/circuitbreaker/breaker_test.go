package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowyield-hq/flowyield-rebalancer/pkg/logger"
)

func TestTripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("ethereum", true, 3, time.Minute, time.Minute, &logger.EmptyLogger{})

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
	assert.Equal(t, 2, cb.FailureCount())

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())
}

func TestResetTimeoutClosesCircuit(t *testing.T) {
	cb := NewCircuitBreaker("polygon", true, 1, time.Minute, 10*time.Millisecond, &logger.EmptyLogger{})

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cb.IsOpen())
	assert.Zero(t, cb.FailureCount())
}

func TestManualReset(t *testing.T) {
	cb := NewCircuitBreaker("base", true, 1, time.Minute, time.Hour, &logger.EmptyLogger{})

	assert.True(t, cb.RecordFailure())
	cb.Reset()
	assert.False(t, cb.IsOpen())
	assert.Zero(t, cb.FailureCount())
}

func TestDisabledBreakerNeverOpens(t *testing.T) {
	cb := NewCircuitBreaker("arbitrum", false, 1, time.Minute, time.Minute, &logger.EmptyLogger{})

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}
