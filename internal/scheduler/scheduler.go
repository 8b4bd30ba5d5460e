// Package scheduler wires up the cron job that periodically triggers a
// batch scrape of all active search configs.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/queue"
)

// Scheduler wraps robfig/cron. Each tick enqueues one batch-scrape task; the
// fan-out to per-config scrapes happens in the worker.
type Scheduler struct {
	cron *cron.Cron
	q    queue.Queue
	log  *logging.Logger
	spec string // cron spec, e.g. "@every 6h"
}

// New creates a Scheduler that fires every intervalHours hours.
func New(q queue.Queue, log *logging.Logger, intervalHours int) *Scheduler {
	if log == nil {
		log = logging.NewNop()
	}
	log = log.Component("scheduler")
	return &Scheduler{
		cron: cron.New(cron.WithLogger(log.Cron())),
		q:    q,
		log:  log,
		spec: fmt.Sprintf("@every %dh", intervalHours),
	}
}

// Start registers the job and starts the scheduler. It also enqueues one
// batch immediately so the feed is populated without waiting for the first
// tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.trigger(ctx, "cron")
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.log.Info("cron started", "spec", s.spec)

	s.trigger(ctx, "startup")
	return nil
}

// Stop halts the cron and waits for a running trigger to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("cron stopped")
}

func (s *Scheduler) trigger(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	t, err := s.q.Enqueue(ctx, queue.KindBatchScrape, queue.BatchScrapePayload{Trigger: reason})
	if err != nil {
		s.log.Error("enqueue batch-scrape failed", "trigger", reason, "err", err)
		return
	}
	s.log.Info("batch-scrape enqueued", "trigger", reason, "task", t.ID)
}
