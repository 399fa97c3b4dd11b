package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/VX1D/ralphy/internal/ralphyerr"
)

// Options configures WithRetry. Zero values fall back to the defaults:
// baseDelay 1s, maxDelay 30s, maxRetries 3.
type Options struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int

	// Breaker gates admission of every attempt and records failures
	// classified as network/connection. Nil disables circuit-breaker
	// interaction.
	Breaker *CircuitBreaker
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}

// newBackoff builds a cenkalti/backoff ExponentialBackOff configured so
// NextBackOff() reproduces baseDelay × 2^(attempt−1) clamped to maxDelay,
// with up to 25% jitter.
func newBackoff(opts Options) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.BaseDelay
	b.MaxInterval = opts.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0 // this package enforces MaxRetries itself
	b.Reset()
	return b
}

// WithRetry runs fn, classifying any returned error via ralphyerr and
// retrying retryable failures with exponential backoff and jitter, up to
// opts.MaxRetries times. A non-retryable error, or the circuit breaker
// refusing admission, is returned immediately without further attempts.
func WithRetry(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	opts = opts.withDefaults()
	b := newBackoff(opts)

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries+1; attempt++ {
		if opts.Breaker != nil {
			ok, err := opts.Breaker.CanAttempt()
			if !ok {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			if opts.Breaker != nil {
				opts.Breaker.RecordSuccess()
			}
			return nil
		}

		normalized := ralphyerr.Normalize(err)
		lastErr = normalized

		if isConnectionClassified(normalized) && opts.Breaker != nil {
			opts.Breaker.RecordConnectionFailure()
		}

		if !ralphyerr.IsRetryable(normalized) {
			return normalized
		}
		if attempt > opts.MaxRetries {
			break
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// isConnectionClassified reports whether err should feed the circuit
// breaker's connection-failure counter: network and timeout errors do,
// rate limits and processes do not — the breaker tracks network/connection
// failures specifically.
func isConnectionClassified(err *ralphyerr.Error) bool {
	if err == nil {
		return false
	}
	return err.Code == ralphyerr.CodeNetwork || err.Code == ralphyerr.CodeTimeout
}
