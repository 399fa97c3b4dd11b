package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VX1D/ralphy/internal/ralphyerr"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	attempts := 0

	err := WithRetry(ctx, Options{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 3}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return ralphyerr.New(ralphyerr.CodeNetwork, "connection refused", nil)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnFatalError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	attempts := 0

	err := WithRetry(ctx, Options{BaseDelay: time.Millisecond, MaxRetries: 3}, func(ctx context.Context) error {
		attempts++
		return ralphyerr.New(ralphyerr.CodeAuth, "unauthorized", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsMaxRetries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	attempts := 0

	err := WithRetry(ctx, Options{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxRetries: 2}, func(ctx context.Context) error {
		attempts++
		return ralphyerr.New(ralphyerr.CodeNetwork, "timeout", nil)
	})
	require.Error(t, err)
	require.Equal(t, 3, attempts) // initial attempt + 2 retries
}

// TestCircuitBreakerBlocksAfterThreeFailures verifies the breaker opens
// after three consecutive connection failures and blocks further attempts
// without invoking fn.
func TestCircuitBreakerBlocksAfterThreeFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cb := NewCircuitBreaker()
	calls := 0

	for i := 0; i < 3; i++ {
		_ = WithRetry(ctx, Options{BaseDelay: time.Millisecond, MaxRetries: 0, Breaker: cb}, func(ctx context.Context) error {
			calls++
			return ralphyerr.New(ralphyerr.CodeNetwork, "ECONNRESET", nil)
		})
	}
	require.Equal(t, StateOpen, cb.State())

	calledAfterOpen := false
	err := WithRetry(ctx, Options{BaseDelay: time.Millisecond, MaxRetries: 0, Breaker: cb}, func(ctx context.Context) error {
		calledAfterOpen = true
		return nil
	})
	require.Error(t, err)
	require.False(t, calledAfterOpen)

	// After the cooldown, exactly one trial is admitted; success closes
	// the circuit and resets the failure count.
	cb.mu.Lock()
	cb.lastFailureTime = time.Now().Add(-31 * time.Second)
	cb.mu.Unlock()

	err = WithRetry(ctx, Options{BaseDelay: time.Millisecond, MaxRetries: 0, Breaker: cb}, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StateClosed, cb.State())
	require.Equal(t, 0, cb.ConsecutiveFailures())
}
