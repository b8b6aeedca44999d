package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T, clock *time.Time) *CircuitBreaker {
	t.Helper()
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 3, Cooldown: time.Minute})
	require.NoError(t, err)
	cb.now = func() time.Time { return *clock }
	return cb
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(t, &clock)

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Allow())
		assert.Equal(t, CircuitBreakerStateClosed, cb.RecordFailure())
	}
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitBreakerStateOpen, cb.RecordFailure())

	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, CircuitBreakerStateHalfOpen, cb.State())

	require.NoError(t, cb.Allow(), "first probe is admitted")
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen, "second concurrent probe is rejected")

	cb.RecordSuccess()
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := newTestBreaker(t, &clock)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	clock = clock.Add(2 * time.Minute)

	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitBreakerStateOpen, cb.RecordFailure())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
}

func TestCircuitBreakerInvalidConfig(t *testing.T) {
	_, err := NewCircuitBreaker(CircuitBreakerConfig{})
	assert.ErrorIs(t, err, ErrInvalidCircuitBreakerConfig)

	_, err = NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	assert.ErrorIs(t, err, ErrInvalidCircuitBreakerConfig)
}
