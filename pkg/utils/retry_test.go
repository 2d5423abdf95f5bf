package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	wantErr := errors.New("down")
	err := Retry(context.Background(), fastRetryConfig(), func() error {
		attempts++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, attempts)
}

func TestRetrySkipsNonRetryableError(t *testing.T) {
	sentinel := errors.New("transient")
	fatal := errors.New("rejected")
	cfg := fastRetryConfig()
	cfg.RetryableErrors = []error{sentinel}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return fatal
	})

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetryLimitedToRetryableSet(t *testing.T) {
	sentinel := errors.New("transient")
	cfg := fastRetryConfig()
	cfg.RetryableErrors = []error{sentinel}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, cfg.MaxAttempts, attempts)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, fastRetryConfig(), func() error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResultReturnsValue(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestCalculateBackoffIsCapped(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second

	assert.Equal(t, initial, CalculateBackoff(0, initial, max, 2.0))
	assert.Equal(t, 200*time.Millisecond, CalculateBackoff(1, initial, max, 2.0))
	assert.Equal(t, max, CalculateBackoff(10, initial, max, 2.0))
}
