// Package resilience provides small operation wrappers for retry and timeout
// policy. Components wrap the operations they call instead of embedding retry
// loops of their own.
package resilience

import (
	"context"
	"log/slog"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     bool // exponential: delay doubles per failed attempt
}

func DefaultRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: time.Second, Backoff: true}
}

// Retry runs op until it succeeds, attempts are exhausted, or ctx is done.
// The last error is returned unwrapped so callers can still inspect it.
func Retry(ctx context.Context, cfg RetryConfig, op func(context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.Delay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Warn("operation failed, retrying",
			"attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if cfg.Backoff {
			delay *= 2
		}
	}

	return lastErr
}

// WithTimeout bounds op to d. The operation observes cancellation through its
// context; a timed-out operation reports context.DeadlineExceeded.
func WithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return op(tctx)
}
