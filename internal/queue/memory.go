package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/antigloss/go/concurrent/container/queue"
)

// MemoryQueue is an in-process Queue. Tasks are lost on restart; it backs
// offline runs and tests.
type MemoryQueue struct {
	fifo map[Kind]*queue.LockfreeQueue // task ids

	mu     sync.Mutex
	tasks  map[string]*Task
	leases map[string]time.Time // active task id → lease deadline
	done   map[string]time.Time // terminal task id → expiry
	now    func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		fifo:   make(map[Kind]*queue.LockfreeQueue),
		tasks:  make(map[string]*Task),
		leases: make(map[string]time.Time),
		done:   make(map[string]time.Time),
		now:    time.Now,
	}
	for _, k := range Kinds() {
		q.fifo[k] = queue.NewLockfreeQueue()
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, kind Kind, payload any) (Task, error) {
	t, err := newTask(kind, payload, q.now())
	if err != nil {
		return Task{}, err
	}
	q.mu.Lock()
	stored := t
	q.tasks[t.ID] = &stored
	q.mu.Unlock()

	q.fifo[kind].Push(t.ID)
	return t, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, kind Kind) (*Task, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.promote(kind)

	for {
		v := q.fifo[kind].Pop()
		if v == nil {
			return nil, nil
		}
		id := v.(string)

		q.mu.Lock()
		t, ok := q.tasks[id]
		if !ok || t.Status != StatusWaiting {
			q.mu.Unlock()
			continue
		}
		now := q.now()
		t.Status = StatusActive
		t.Attempts++
		t.UpdatedAt = now
		q.leases[id] = now.Add(PolicyFor(kind).Lease)
		out := *t
		q.mu.Unlock()
		return &out, nil
	}
}

func (q *MemoryQueue) Extend(_ context.Context, t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.leases[t.ID]; !ok {
		return fmt.Errorf("extend %s: %w", t.ID, ErrLeaseLost)
	}
	q.leases[t.ID] = q.now().Add(PolicyFor(t.Kind).Lease)
	return nil
}

// promote fails active tasks of kind whose lease expired, as of their
// deadline, then moves due delayed tasks back to waiting.
func (q *MemoryQueue) promote(kind Kind) {
	now := q.now()
	var due []string

	q.mu.Lock()
	for id, deadline := range q.leases {
		t := q.tasks[id]
		if t == nil || t.Kind != kind || !deadline.Before(now) {
			continue
		}
		delete(q.leases, id)
		q.settle(t, ErrLeaseExpired, deadline, now)
	}
	for id, t := range q.tasks {
		if t.Kind == kind && t.Status == StatusDelayed && !t.RunAt.After(now) {
			t.Status = StatusWaiting
			t.UpdatedAt = now
			due = append(due, id)
		}
	}
	q.mu.Unlock()

	for _, id := range due {
		q.fifo[kind].Push(id)
	}
}

func (q *MemoryQueue) Complete(_ context.Context, t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.tasks[t.ID]
	if !ok {
		return ErrTaskNotFound
	}
	if err := checkTransition(t.ID, stored.Status, StatusCompleted); err != nil {
		return err
	}
	now := q.now()
	delete(q.leases, t.ID)
	stored.Status = StatusCompleted
	stored.UpdatedAt = now
	q.done[t.ID] = now.Add(PolicyFor(stored.Kind).KeepCompleted)
	*t = *stored
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, t *Task, cause error) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, ok := q.tasks[t.ID]
	if !ok {
		return "", ErrTaskNotFound
	}
	// Only active tasks can fail; settle picks delayed or failed.
	if err := checkTransition(t.ID, stored.Status, StatusFailed); err != nil {
		return "", err
	}
	delete(q.leases, t.ID)
	now := q.now()
	next := q.settle(stored, cause, now, now)
	*t = *stored
	return next, nil
}

// settle records an attempt of an active task that failed at failedAt.
// Callers hold mu.
func (q *MemoryQueue) settle(t *Task, cause error, failedAt, now time.Time) Status {
	next, runAt := afterFailure(t, cause, failedAt)
	t.Status = next
	t.RunAt = runAt
	t.UpdatedAt = now
	if cause != nil {
		t.LastError = cause.Error()
	}
	if next == StatusFailed {
		q.done[t.ID] = now.Add(PolicyFor(t.Kind).KeepFailed)
	}
	return next
}

func (q *MemoryQueue) Get(_ context.Context, id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expire()
	t, ok := q.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out := *t
	return &out, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (map[Kind]Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expire()

	out := make(map[Kind]Counts, len(Kinds()))
	for _, k := range Kinds() {
		out[k] = Counts{}
	}
	for _, t := range q.tasks {
		c := out[t.Kind]
		switch t.Status {
		case StatusWaiting:
			c.Waiting++
		case StatusActive:
			c.Active++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusDelayed:
			c.Delayed++
		}
		out[t.Kind] = c
	}
	return out, nil
}

// expire drops terminal tasks past their retention. Callers hold mu.
func (q *MemoryQueue) expire() {
	now := q.now()
	for id, until := range q.done {
		if now.After(until) {
			delete(q.done, id)
			delete(q.tasks, id)
		}
	}
}
