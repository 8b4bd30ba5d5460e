package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/throttle"
)

// Handler processes one task. A returned error fails the attempt; wrap it
// with Unrecoverable to skip the remaining retries.
type Handler func(ctx context.Context, t *Task) error

// Worker polls a Queue and dispatches tasks to the registered handlers.
type Worker struct {
	q           Queue
	log         *logging.Logger
	handlers    map[Kind]Handler
	concurrency int
	poll        time.Duration
	heartbeat   time.Duration // 0: a third of the kind's lease
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets how many tasks of each kind may run at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets the idle wait between empty polls.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithHeartbeat sets how often a running task renews its lease.
func WithHeartbeat(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.heartbeat = d
		}
	}
}

func NewWorker(q Queue, log *logging.Logger, opts ...WorkerOption) *Worker {
	if log == nil {
		log = logging.NewNop()
	}
	w := &Worker{
		q:           q,
		log:         log,
		handlers:    make(map[Kind]Handler),
		concurrency: 2,
		poll:        time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Handle registers h for kind, replacing any previous handler.
func (w *Worker) Handle(kind Kind, h Handler) {
	w.handlers[kind] = h
}

// Run processes tasks until ctx is cancelled, then waits for in-flight
// handlers to return.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for kind := range w.handlers {
		for i := 0; i < w.concurrency; i++ {
			wg.Add(1)
			go func(kind Kind) {
				defer wg.Done()
				w.loop(ctx, kind)
			}(kind)
		}
	}
	w.log.Info("worker started", "kinds", len(w.handlers), "concurrency", w.concurrency)
	wg.Wait()
	w.log.Info("worker stopped")
}

func (w *Worker) loop(ctx context.Context, kind Kind) {
	for ctx.Err() == nil {
		ran, err := w.RunOnce(ctx, kind)
		if err != nil && ctx.Err() == nil {
			w.log.Warn("poll failed", "kind", kind, "err", err)
		}
		if !ran {
			if throttle.Sleep(ctx, w.poll) != nil {
				return
			}
		}
	}
}

// RunOnce takes at most one ready task of kind and processes it. It reports
// whether a task was processed.
func (w *Worker) RunOnce(ctx context.Context, kind Kind) (bool, error) {
	h, ok := w.handlers[kind]
	if !ok {
		return false, fmt.Errorf("%w %q: no handler", ErrUnknownKind, kind)
	}
	t, err := w.q.Dequeue(ctx, kind)
	if err != nil || t == nil {
		return false, err
	}

	log := w.log.With("task", t.ID, "kind", t.Kind, "attempt", t.Attempts)
	start := time.Now()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func(leased Task) {
		defer close(hbDone)
		w.renew(hbCtx, &leased, log)
	}(*t)
	herr := safeHandle(ctx, h, t)
	stopHeartbeat()
	<-hbDone

	if herr != nil {
		// Record the outcome even when ctx was cancelled mid-handler.
		next, err := w.q.Fail(context.WithoutCancel(ctx), t, herr)
		if err != nil {
			return true, fmt.Errorf("record failure of %s: %w", t.ID, err)
		}
		if next == StatusFailed {
			log.Error("task failed", "err", herr)
		} else {
			log.Warn("task attempt failed, retrying", "err", herr, "runAt", t.RunAt)
		}
		return true, nil
	}

	if err := w.q.Complete(context.WithoutCancel(ctx), t); err != nil {
		return true, fmt.Errorf("complete %s: %w", t.ID, err)
	}
	log.Debug("task completed", "took", time.Since(start))
	return true, nil
}

// renew extends t's lease until ctx is done or the lease is lost.
func (w *Worker) renew(ctx context.Context, t *Task, log *logging.Logger) {
	every := w.heartbeat
	if every <= 0 {
		every = PolicyFor(t.Kind).Lease / 3
	}
	if every <= 0 {
		return
	}
	for throttle.Sleep(ctx, every) == nil {
		if err := w.q.Extend(ctx, t); err != nil {
			if errors.Is(err, ErrLeaseLost) {
				log.Warn("lease lost, task may run twice", "err", err)
				return
			}
			if ctx.Err() == nil {
				log.Warn("lease renewal failed", "err", err)
			}
		}
	}
}

func safeHandle(ctx context.Context, h Handler, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, t)
}
