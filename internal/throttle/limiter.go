package throttle

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// RateLimiter admits at most N concurrent executions of a guarded function.
// Callers beyond the limit wait in FIFO order and are released as slots free
// up. Each instance owns its state; there is no package-level limiter.
type RateLimiter struct {
	sem *semaphore.Weighted
	max int

	mu      sync.Mutex
	active  int
	waiting int
	peak    int
}

// NewRateLimiter returns a limiter admitting maxConcurrent callers at once.
func NewRateLimiter(maxConcurrent int) *RateLimiter {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &RateLimiter{
		sem: semaphore.NewWeighted(int64(maxConcurrent)),
		max: maxConcurrent,
	}
}

// Do runs fn once a slot is available. A caller still queued when ctx is
// done leaves the queue and gets ctx.Err() without running fn.
func (l *RateLimiter) Do(ctx context.Context, fn func(context.Context) error) error {
	l.mu.Lock()
	l.waiting++
	l.mu.Unlock()

	err := l.sem.Acquire(ctx, 1)

	l.mu.Lock()
	l.waiting--
	if err == nil {
		l.active++
		if l.active > l.peak {
			l.peak = l.active
		}
	}
	l.mu.Unlock()
	if err != nil {
		return err
	}

	defer func() {
		l.mu.Lock()
		l.active--
		l.mu.Unlock()
		l.sem.Release(1)
	}()
	return fn(ctx)
}

// Max returns the configured concurrency ceiling.
func (l *RateLimiter) Max() int { return l.max }

// Active returns the number of callers currently running.
func (l *RateLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Waiting returns the number of callers queued for a slot.
func (l *RateLimiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

// Peak returns the highest concurrency observed since creation.
func (l *RateLimiter) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}
