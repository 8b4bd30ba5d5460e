package queue

import (
	"time"

	"jobmate/pipeline/internal/throttle"
)

// Backoff selects how retry delays grow.
type Backoff int

const (
	BackoffFixed Backoff = iota
	BackoffExponential
)

// Policy is the retry and retention policy of a task kind.
type Policy struct {
	Attempts      int // total attempts, first run included
	Backoff       Backoff
	Delay         time.Duration
	KeepCompleted time.Duration
	KeepFailed    time.Duration
	// Lease is how long an active task may go without a heartbeat before
	// it is taken back and counted as a failed attempt.
	Lease time.Duration
}

var policies = map[Kind]Policy{
	KindScrape:      {Attempts: 3, Backoff: BackoffExponential, Delay: 30 * time.Second, KeepCompleted: time.Hour, KeepFailed: 24 * time.Hour, Lease: 10 * time.Minute},
	KindBatchScrape: {Attempts: 2, Backoff: BackoffFixed, Delay: time.Minute, KeepCompleted: time.Hour, KeepFailed: 24 * time.Hour, Lease: 5 * time.Minute},
	KindAIMatch:     {Attempts: 3, Backoff: BackoffExponential, Delay: 10 * time.Second, KeepCompleted: time.Hour, KeepFailed: 72 * time.Hour, Lease: 10 * time.Minute},
	KindSendEmail:   {Attempts: 5, Backoff: BackoffExponential, Delay: time.Minute, KeepCompleted: 24 * time.Hour, KeepFailed: 7 * 24 * time.Hour, Lease: 5 * time.Minute},
}

// PolicyFor returns the policy of kind. Unknown kinds get a single attempt.
func PolicyFor(kind Kind) Policy {
	if p, ok := policies[kind]; ok {
		return p
	}
	return Policy{Attempts: 1, KeepCompleted: time.Hour, KeepFailed: 24 * time.Hour, Lease: 10 * time.Minute}
}

// RetryDelay returns the wait before the next attempt once attempts have
// been made.
func (p Policy) RetryDelay(attempts int) time.Duration {
	if p.Backoff == BackoffFixed {
		return p.Delay
	}
	return throttle.Backoff(p.Delay, attempts-1)
}

// afterFailure decides where a failed active task goes next.
func afterFailure(t *Task, cause error, now time.Time) (Status, time.Time) {
	p := PolicyFor(t.Kind)
	if IsUnrecoverable(cause) || t.Attempts >= t.MaxAttempts {
		return StatusFailed, time.Time{}
	}
	return StatusDelayed, now.Add(p.RetryDelay(t.Attempts))
}
