package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("test", Config{
		MaxRequests:      2,
		Timeout:          timeout,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func failUntilTripped(t *testing.T, cb *CircuitBreaker) {
	t.Helper()

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error {
			return errors.New("backend down")
		})
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestExecutePassesThroughWhenClosed(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	err := cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	failUntilTripped(t, cb)

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error { return errors.New("x") })
	}
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))

	// Two more failures stay under the threshold of three.
	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error { return errors.New("x") })
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	cb := newTestBreaker(20 * time.Millisecond)
	ctx := context.Background()
	failUntilTripped(t, cb)

	time.Sleep(30 * time.Millisecond)

	// First probe succeeds; breaker needs two to close.
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(20 * time.Millisecond)
	ctx := context.Background()
	failUntilTripped(t, cb)

	time.Sleep(30 * time.Millisecond)

	err := cb.Execute(ctx, func() error { return errors.New("still down") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
