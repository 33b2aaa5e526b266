package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry(t *testing.T) {
	ctx := context.Background()
	errTransient := errors.New("transient")

	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns last error once attempts are spent", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, func(context.Context) error {
			attempts++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops when context is cancelled between attempts", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		attempts := 0
		err := Retry(cctx, RetryConfig{MaxAttempts: 5, Delay: 50 * time.Millisecond}, func(context.Context) error {
			attempts++
			cancel()
			return errTransient
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})

	t.Run("zero attempts still runs once", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, RetryConfig{}, func(context.Context) error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})
}

func TestWithTimeout(t *testing.T) {
	t.Run("propagates deadline to the operation", func(t *testing.T) {
		err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("fast operation passes through", func(t *testing.T) {
		err := WithTimeout(context.Background(), time.Second, func(context.Context) error {
			return nil
		})
		require.NoError(t, err)
	})
}
