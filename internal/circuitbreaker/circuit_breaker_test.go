package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 5
	cfg.Timeout = 100 * time.Millisecond
	cfg.Interval = 200 * time.Millisecond
	return cfg
}

func tripBreaker(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for cb.State() != StateOpen {
		err := cb.Execute(context.Background(), func() error {
			return errors.New("connection refused")
		})
		require.Error(t, err)
	}
}

func TestBreakerLifecycle(t *testing.T) {
	cb := NewCircuitBreaker("redis", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	require.Equal(t, StateClosed, cb.State())

	// Successes keep it closed.
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())

	// Consecutive failures at the threshold trip it.
	tripBreaker(t, cb)

	// Open rejects without running fn.
	ran := false
	err := cb.Execute(ctx, func() error { ran = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, ran)

	// After the cooldown it reads half-open and admits probes.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Enough probe successes close it again.
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenAllowance(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 2
	cfg.SuccessThreshold = 5 // keep it from closing during the test

	cb := NewCircuitBreaker("postgresql", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	tripBreaker(t, cb)
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}

	// The third probe in the same half-open generation exceeds the
	// allowance.
	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestBreakerCounts(t *testing.T) {
	cb := NewCircuitBreaker("tavily", testConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	cb.Execute(ctx, func() error { return nil })
	cb.Execute(ctx, func() error { return errors.New("timeout") })
	cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2

	var from, to State
	called := false
	cfg.OnStateChange = func(name string, f, t State) {
		called = true
		from, to = f, t
	}

	cb := NewCircuitBreaker("redis", cfg, zaptest.NewLogger(t))
	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), func() error { return errors.New("connection reset") })
	}

	require.True(t, called)
	assert.Equal(t, StateClosed, from)
	assert.Equal(t, StateOpen, to)
}

func TestBreakerRejectsExpiredContext(t *testing.T) {
	cb := NewCircuitBreaker("redis", testConfig(), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := cb.Execute(ctx, func() error { ran = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
	assert.Equal(t, uint32(0), cb.Counts().Requests, "rejected request must not consume a slot")
}

// A run hitting its wall-clock budget mid-call must not trip the breaker
// on a healthy backend.
func TestBreakerForgivesCallerDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2
	cb := NewCircuitBreaker("tavily", cfg, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		err := cb.Execute(ctx, func() error {
			<-ctx.Done()
			return ctx.Err()
		})
		cancel()
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	assert.Equal(t, StateClosed, cb.State())
	counts := cb.Counts()
	assert.Equal(t, uint32(0), counts.TotalFailures)
	assert.Equal(t, uint32(0), counts.Requests, "forgiven requests release their slot")
}
