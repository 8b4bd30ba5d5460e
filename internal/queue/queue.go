package queue

import (
	"context"
	"errors"
)

// ErrTaskNotFound is returned for an id the backend does not know, including
// tasks whose retention has expired.
var ErrTaskNotFound = errors.New("task not found")

// ErrLeaseExpired is recorded as the last error of a task whose worker
// stopped renewing its lease.
var ErrLeaseExpired = errors.New("lease expired")

// ErrLeaseLost is returned by Extend when the task is no longer held by the
// caller, typically because its lease expired and it was taken back.
var ErrLeaseLost = errors.New("lease lost")

// Counts is the per-status size of one kind's queue.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Queue is implemented by RedisQueue and MemoryQueue.
//
// Enqueue never deduplicates: two identical payloads are two tasks, and a
// task may run more than once if a worker dies mid-flight. A dequeued task
// holds a lease of its kind's Policy.Lease; once that passes without Extend
// the task is failed with ErrLeaseExpired and retried like any other failure.
type Queue interface {
	Enqueue(ctx context.Context, kind Kind, payload any) (Task, error)
	// Dequeue moves the oldest waiting task of kind to active, first taking
	// back expired leases and promoting due delayed tasks. It returns nil,
	// nil when nothing is ready.
	Dequeue(ctx context.Context, kind Kind) (*Task, error)
	// Extend renews the lease of an active task.
	Extend(ctx context.Context, t *Task) error
	Complete(ctx context.Context, t *Task) error
	// Fail records cause and moves t to delayed or failed per its policy.
	Fail(ctx context.Context, t *Task, cause error) (Status, error)
	Get(ctx context.Context, id string) (*Task, error)
	Stats(ctx context.Context) (map[Kind]Counts, error)
}
