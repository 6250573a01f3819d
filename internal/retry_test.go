package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = RetryPolicy{
	MaxAttempts:    3,
	AttemptTimeout: 50 * time.Millisecond,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	attempts := 0
	var notified []int

	value, err := Retry(context.Background(), fastPolicy,
		func(attempt int, err error, wait time.Duration) { notified = append(notified, attempt) },
		func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	cause := errors.New("still failing")

	_, err := Retry(context.Background(), fastPolicy, nil, func(ctx context.Context) (int, error) {
		attempts++
		return 0, cause
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, cause)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	cause := errors.New("rejected")

	_, err := Retry(context.Background(), fastPolicy, nil, func(ctx context.Context) (int, error) {
		attempts++
		return 0, Permanent(cause)
	})

	assert.Equal(t, 1, attempts)
	assert.Equal(t, cause, err)
}

func TestRetryBoundsEachAttempt(t *testing.T) {
	policy := fastPolicy
	policy.AttemptTimeout = 5 * time.Millisecond

	_, err := Retry(context.Background(), policy, nil, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	assert.ErrorIs(t, err, ErrRetryExhausted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryHonoursCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	attempts := 0
	start := time.Now()
	_, err := Retry(ctx, policy, func(int, error, time.Duration) { cancel() }, func(ctx context.Context) (int, error) {
		attempts++
		return 0, ErrAttestationNotReady
	})

	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrRetryExhausted)
}

func TestRetryUnboundedUntilContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	attempts := 0
	_, err := Retry(ctx, RetryPolicy{InitialBackoff: time.Millisecond}, nil, func(ctx context.Context) (int, error) {
		attempts++
		return 0, ErrReceiptPending
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts, 1)
}
