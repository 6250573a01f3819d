package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds Retry. MaxAttempts <= 0 retries until ctx is done.
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryNotify is called after a failed attempt, before waiting.
type RetryNotify func(attempt int, err error, wait time.Duration)

// Retry runs op until it succeeds, returns a Permanent error, ctx is done or
// the policy's attempts are spent. Each attempt gets its own timeout and the
// wait between attempts grows by 1.5x up to MaxBackoff.
func Retry[T any](ctx context.Context, policy RetryPolicy, notify RetryNotify, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = policy.InitialBackoff
	schedule.MaxInterval = max(policy.MaxBackoff, policy.InitialBackoff)
	schedule.Multiplier = 1.5
	schedule.RandomizationFactor = 0.1
	schedule.MaxElapsedTime = 0
	schedule.Reset()

	var lastErr error
	for attempt := 0; policy.MaxAttempts <= 0 || attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, interrupted(err, lastErr)
		}

		value, err := runAttempt(ctx, policy.AttemptTimeout, op)
		if err == nil {
			return value, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, interrupted(ctx.Err(), lastErr)
		}
		if policy.MaxAttempts > 0 && attempt+1 >= policy.MaxAttempts {
			break
		}

		wait := time.Duration(0)
		if policy.InitialBackoff > 0 {
			wait = schedule.NextBackOff()
		}
		if notify != nil {
			notify(attempt+1, err, wait)
		}
		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, interrupted(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return zero, &RetryExhaustedError{Attempts: policy.MaxAttempts, Last: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func interrupted(ctxErr, lastErr error) error {
	if lastErr == nil {
		return ctxErr
	}
	return fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
}
