package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/throttle"
)

// PostingStore persists discovered postings. Upsert reports whether a new row
// was inserted; an existing (url, user) pair is left untouched.
type PostingStore interface {
	Upsert(ctx context.Context, p model.Posting, userID string) (bool, error)
}

// Orchestrator runs one scrape cycle for a ScrapeConfig: it fans out to
// every enabled source, filters red flags, deduplicates by URL and hands the
// survivors to the PostingStore.
type Orchestrator struct {
	boards  []BoardSource
	company CompanySource
	store   PostingStore
	limiter *throttle.RateLimiter
	log     *logging.Logger

	minDelay  time.Duration
	maxDelay  time.Duration
	attempts  int
	retryBase time.Duration
	timeout   time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBoards registers job-board sources.
func WithBoards(b ...BoardSource) Option {
	return func(o *Orchestrator) { o.boards = append(o.boards, b...) }
}

// WithCompanySource registers the career-page source.
func WithCompanySource(c CompanySource) Option {
	return func(o *Orchestrator) { o.company = c }
}

// WithLimiter shares a concurrency gate across all fetches.
func WithLimiter(l *throttle.RateLimiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithLogger sets the run logger. Runs are silent without one.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithDelays sets the random pre-call delay bounds.
func WithDelays(minDelay, maxDelay time.Duration) Option {
	return func(o *Orchestrator) { o.minDelay, o.maxDelay = minDelay, maxDelay }
}

// WithRetry sets how many extra attempts a failed fetch gets and the base of
// the exponential backoff between them.
func WithRetry(attempts int, base time.Duration) Option {
	return func(o *Orchestrator) { o.attempts, o.retryBase = attempts, base }
}

// WithFetchTimeout bounds every single adapter call.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator constructs an Orchestrator persisting into store.
func NewOrchestrator(store PostingStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		minDelay:  time.Second,
		maxDelay:  3 * time.Second,
		attempts:  2,
		retryBase: 2 * time.Second,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.limiter == nil {
		o.limiter = throttle.NewRateLimiter(3)
	}
	if o.log == nil {
		o.log = logging.NewNop()
	}
	return o
}

// fetch is one adapter call of a source run.
type fetch struct {
	target string
	call   func(context.Context) ([]model.Posting, error)
}

type sourceRun struct {
	name    model.Source
	fetches []fetch
}

// sourceOutcome is what one source goroutine hands back.
type sourceOutcome struct {
	postings []model.Posting
	errs     []string
}

// Run executes one scrape cycle. Only an invalid config is fatal; fetch and
// persistence failures are reported through the result.
func (o *Orchestrator) Run(ctx context.Context, cfg model.ScrapeConfig) (model.ScrapeResult, error) {
	if err := cfg.Validate(); err != nil {
		return model.ScrapeResult{}, err
	}
	cfg = cfg.WithDefaults()
	log := o.log.With("user", cfg.UserID)

	runs := o.plan(cfg)
	log.Info("scrape started", "sources", len(runs), "queries", len(cfg.Queries), "locations", cfg.Locations)

	outcomes := make([]sourceOutcome, len(runs))
	var wg sync.WaitGroup
	for i, run := range runs {
		wg.Add(1)
		go func(i int, run sourceRun) {
			defer wg.Done()
			outcomes[i] = o.runSource(ctx, run)
		}(i, run)
	}
	wg.Wait()

	res := model.ScrapeResult{BySource: make(map[model.Source]int, len(runs)), Errors: []string{}}
	var found []model.Posting
	for i, out := range outcomes {
		kept, dropped := filterRedFlags(out.postings, cfg.RedFlags)
		res.Filtered += dropped
		res.BySource[runs[i].name] += len(kept)
		res.Errors = append(res.Errors, out.errs...)
		found = append(found, kept...)
	}
	res.JobsFound = len(found)

	unique := Deduplicate(found)
	for _, p := range unique {
		p.ID = PostingID(p.URL)
		inserted, err := o.store.Upsert(ctx, p, cfg.UserID)
		if err != nil {
			log.Warn("upsert failed, skipping posting", "url", p.URL, "err", err)
			continue
		}
		if inserted {
			res.JobsSaved++
		}
	}

	log.Info("scrape done",
		"found", res.JobsFound, "unique", len(unique), "saved", res.JobsSaved,
		"filtered", res.Filtered, "errors", len(res.Errors))
	return res, nil
}

// plan lists, per enabled source, the calls to make in order.
func (o *Orchestrator) plan(cfg model.ScrapeConfig) []sourceRun {
	var runs []sourceRun
	for _, b := range o.boards {
		if !cfg.Enabled(b.Name()) {
			continue
		}
		run := sourceRun{name: b.Name()}
		for _, q := range cfg.Queries {
			for _, loc := range cfg.Locations {
				run.fetches = append(run.fetches, fetch{
					target: q + "@" + loc,
					call: func(ctx context.Context) ([]model.Posting, error) {
						return b.Search(ctx, q, loc)
					},
				})
			}
		}
		runs = append(runs, run)
	}

	if o.company != nil && len(cfg.Companies) > 0 && cfg.Enabled(o.company.Name()) {
		run := sourceRun{name: o.company.Name()}
		for _, c := range cfg.Companies {
			run.fetches = append(run.fetches, fetch{
				target: c.Name,
				call: func(ctx context.Context) ([]model.Posting, error) {
					return o.company.Careers(ctx, c)
				},
			})
		}
		runs = append(runs, run)
	}
	return runs
}

// runSource performs a source's fetches sequentially. A failed fetch is
// recorded and the source moves on to its next target.
func (o *Orchestrator) runSource(ctx context.Context, run sourceRun) sourceOutcome {
	var out sourceOutcome
	for _, f := range run.fetches {
		if ctx.Err() != nil {
			out.errs = append(out.errs, (&SourceError{Source: run.name, Target: f.target, Err: ctx.Err()}).Error())
			continue
		}
		postings, err := o.guarded(ctx, f.call)
		if err != nil {
			serr := &SourceError{Source: run.name, Target: f.target, Err: err}
			o.log.Warn("fetch failed, continuing", "source", run.name, "target", f.target, "err", err)
			out.errs = append(out.errs, serr.Error())
			continue
		}
		out.postings = append(out.postings, postings...)
	}
	return out
}

// guarded wraps an adapter call in delay, retry, the shared limiter and a
// per-call timeout.
func (o *Orchestrator) guarded(ctx context.Context, call func(context.Context) ([]model.Posting, error)) ([]model.Posting, error) {
	attempt := func(ctx context.Context) ([]model.Posting, error) {
		var postings []model.Posting
		err := o.limiter.Do(ctx, func(ctx context.Context) error {
			cctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()
			var err error
			postings, err = safeCall(cctx, call)
			return err
		})
		return postings, err
	}
	return throttle.Throttle(ctx, func(ctx context.Context) ([]model.Posting, error) {
		return throttle.Retry(ctx, attempt, o.attempts, o.retryBase)
	}, o.minDelay, o.maxDelay)
}

// safeCall turns an adapter panic into a permanent error.
func safeCall(ctx context.Context, call func(context.Context) ([]model.Posting, error)) (postings []model.Posting, err error) {
	defer func() {
		if r := recover(); r != nil {
			postings, err = nil, throttle.Permanent(fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return call(ctx)
}
