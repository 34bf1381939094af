package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/service"
)

var errSentinel = errors.New("the backend said no")

func fastRetry() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	}
}

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return &RetryableError{Err: errSentinel, Retryable: true}
		}
		return nil
	}, fastRetry())

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return &RetryableError{Err: errSentinel, Retryable: false}
	}, fastRetry())

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable errors must not be retried")
}

func TestRetryableErrorPreservesChain(t *testing.T) {
	// Callers decide what to do based on the sentinel inside the wrapper,
	// so the wrapper has to stay unwrappable on both exit paths.
	err := WithRetry(context.Background(), func() error {
		return &RetryableError{Err: errSentinel, Retryable: false}
	}, fastRetry())
	assert.ErrorIs(t, err, errSentinel)

	err = WithRetry(context.Background(), func() error {
		return &RetryableError{Err: errSentinel, Retryable: true}
	}, fastRetry())
	assert.ErrorIs(t, err, errSentinel)
	assert.ErrorIs(t, err, ErrMaxRetries)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimit))
	assert.True(t, IsRetryable(&RetryableError{Err: errSentinel, Retryable: true}))
	assert.False(t, IsRetryable(&RetryableError{Err: errSentinel, Retryable: false}))
	assert.False(t, IsRetryable(errSentinel))
}
