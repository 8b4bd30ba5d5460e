// Package matching scores postings against a user's preferences: a cache in
// front of a batched completion service, with a deterministic heuristic when
// the service fails.
package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/throttle"
)

// Options tune one BatchMatch call.
type Options struct {
	BatchSize   int
	Parallelism int // batches in flight per group
	UseCache    bool
	GroupDelay  time.Duration
	Threshold   float64 // service scores must exceed it to be retained
	CacheTTL    time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:   20,
		Parallelism: 3,
		UseCache:    true,
		GroupDelay:  time.Second,
		Threshold:   0.5,
		CacheTTL:    DefaultCacheTTL,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Parallelism <= 0 {
		o.Parallelism = d.Parallelism
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = d.CacheTTL
	}
	return o
}

// Processor runs batched matching.
type Processor struct {
	completer Completer
	cache     Cache
	log       *logging.Logger
}

// NewProcessor returns a Processor. cache may be nil, which disables caching.
func NewProcessor(completer Completer, cache Cache, log *logging.Logger) *Processor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Processor{completer: completer, cache: cache, log: log}
}

// BatchMatch scores postings for userID and returns the retained results,
// best score first. It fails only when ctx is cancelled between groups.
func (p *Processor) BatchMatch(ctx context.Context, postings []model.Posting, prefs model.Preferences, userID string, opts Options) ([]model.MatchResult, error) {
	opts = opts.withDefaults()

	var batches [][]model.Posting
	for i := 0; i < len(postings); i += opts.BatchSize {
		batches = append(batches, postings[i:min(i+opts.BatchSize, len(postings))])
	}

	perBatch := make([][]model.MatchResult, len(batches))
	for g := 0; g < len(batches); g += opts.Parallelism {
		if g > 0 {
			if err := throttle.Sleep(ctx, opts.GroupDelay); err != nil {
				return nil, err
			}
		}
		var wg sync.WaitGroup
		for i := g; i < min(g+opts.Parallelism, len(batches)); i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				perBatch[i] = p.matchBatch(ctx, batches[i], prefs, userID, opts)
			}(i)
		}
		wg.Wait()
	}

	var out []model.MatchResult
	for _, rs := range perBatch {
		out = append(out, rs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	p.log.Info("batch match done", "user", userID, "postings", len(postings), "batches", len(batches), "retained", len(out))
	return out, nil
}

func (p *Processor) matchBatch(ctx context.Context, batch []model.Posting, prefs model.Preferences, userID string, opts Options) []model.MatchResult {
	var (
		out    []model.MatchResult
		misses []model.Posting
	)
	for _, posting := range batch {
		if cached, ok := p.cached(ctx, posting.ID, userID, opts); ok {
			if cached.Retained {
				out = append(out, cached.Result)
			}
			continue
		}
		misses = append(misses, posting)
	}
	if len(misses) == 0 {
		return out
	}

	summaries := make([]Summary, len(misses))
	for i, m := range misses {
		summaries[i] = summarize(m)
	}

	scores, err := p.completer.Complete(ctx, prefs, summaries)
	if err != nil {
		p.log.Warn("completion failed, using heuristic", "user", userID, "postings", len(misses), "err", err)
		for _, m := range misses {
			out = append(out, HeuristicScore(m, prefs))
		}
		return out
	}

	for _, m := range misses {
		s, ok := scores[m.ID]
		if !ok {
			s = Score{Reasons: []string{}}
		}
		e := Entry{Result: model.MatchResult{Posting: m, Score: clamp01(s.Score), Reasons: s.Reasons}}
		e.Retained = e.Result.Score > opts.Threshold
		if opts.UseCache && p.cache != nil {
			if err := p.cache.Set(ctx, m.ID, userID, e, opts.CacheTTL); err != nil {
				p.log.Warn("cache write failed", "posting", m.ID, "err", err)
			}
		}
		if e.Retained {
			out = append(out, e.Result)
		}
	}
	return out
}

func (p *Processor) cached(ctx context.Context, postingID, userID string, opts Options) (*Entry, bool) {
	if !opts.UseCache || p.cache == nil {
		return nil, false
	}
	e, ok, err := p.cache.Get(ctx, postingID, userID)
	if err != nil {
		p.log.Warn("cache read failed, treating as miss", "posting", postingID, "err", err)
		return nil, false
	}
	return e, ok
}
