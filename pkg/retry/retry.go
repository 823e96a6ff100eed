// Package retry runs store operations with exponential backoff.
//
// Only errors matching core.ErrStoreUnavailable are retried. Contract errors
// such as core.ErrInvalidTransition or core.ErrLeaseExpired are returned on
// the first attempt.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
)

// Config holds configuration for retry with backoff.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial one).
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 5s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier applied to backoff after each attempt.
	// Default: 2.0
	BackoffMultiplier float64

	// JitterFraction is the fraction of backoff to randomize (0.0 to 1.0).
	// Default: 0.1 (10% jitter)
	JitterFraction float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
	}
}

// Fixed returns a config that sleeps interval between attempts with no growth.
func Fixed(attempts int, interval time.Duration) Config {
	return Config{
		MaxAttempts:       attempts,
		InitialBackoff:    interval,
		MaxBackoff:        interval,
		BackoffMultiplier: 1.0,
	}
}

// Do executes op until it succeeds, returns a non-retryable error, or the
// attempts run out. It returns the last error.
func Do(ctx context.Context, cfg Config, op func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt >= attempts {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(jittered(backoff, cfg.JitterFraction)):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return lastErr
}

// Value is Do for operations that return a value.
func Value[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return core.IsTransient(err)
}

func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	jitter := time.Duration(float64(d) * fraction * (rand.Float64()*2 - 1))
	if d+jitter < 0 {
		return d
	}
	return d + jitter
}
