// Package throttle paces calls to unreliable external services: a randomized
// pre-call delay, exponential-backoff retry, and a FIFO concurrency gate.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Throttle sleeps a uniformly random duration in [minDelay, maxDelay] and
// then invokes fn. Cancelling ctx aborts the sleep.
func Throttle[T any](ctx context.Context, fn func(context.Context) (T, error), minDelay, maxDelay time.Duration) (T, error) {
	if err := Sleep(ctx, Jitter(minDelay, maxDelay)); err != nil {
		var zero T
		return zero, err
	}
	return fn(ctx)
}

// Jitter returns a uniformly random duration in [minDelay, maxDelay].
func Jitter(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay <= minDelay {
		return max(minDelay, 0)
	}
	return minDelay + time.Duration(rand.Int64N(int64(maxDelay-minDelay)+1))
}

// Retry invokes fn and, on failure, retries up to maxAttempts additional
// times, sleeping baseDelay * 2^attempt before each retry. The last failure
// is returned once attempts are exhausted. Errors wrapped with Permanent are
// returned immediately.
func Retry[T any](ctx context.Context, fn func(context.Context) (T, error), maxAttempts int, baseDelay time.Duration) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		if attempt > 0 {
			if err := Sleep(ctx, Backoff(baseDelay, attempt-1)); err != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
		}
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if isPermanent(err) || ctx.Err() != nil {
			break
		}
	}
	return zero, lastErr
}

// Backoff returns baseDelay * 2^attempt.
func Backoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}
	return baseDelay << attempt
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
