package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryExecutor_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	executor := NewRetryExecutor(RetryOptions{
		MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
		Retryable: func(err error) bool { return true },
	})

	err := executor.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExecutor_StopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	executor := NewRetryExecutor(RetryOptions{
		MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
		Retryable: func(err error) bool { return false },
	})

	err := executor.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("permanent")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExecutor_ExhaustsAttemptsAndWraps(t *testing.T) {
	executor := NewRetryExecutor(RetryOptions{
		MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
		Retryable: func(err error) bool { return true },
	})

	err := executor.Run(context.Background(), func(ctx context.Context) error {
		return errors.New("always fails")
	})

	require.Error(t, err)
	var retryErr *RetryError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, 3, retryErr.Attempts)
}

func TestIsRetryableError_RecognizesTimeoutMarkers(t *testing.T) {
	assert.True(t, IsRetryableError(errors.New("dial tcp: connection refused")))
	assert.True(t, IsRetryableError(errors.New("upstream returned 503")))
	assert.False(t, IsRetryableError(errors.New("invalid parcel number")))
}
