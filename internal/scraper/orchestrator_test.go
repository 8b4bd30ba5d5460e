package scraper_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/scraper"
	"jobmate/pipeline/internal/throttle"
)

// ── fakes ──────────────────────────────────────────────────────────────────

type boardFake struct {
	name     model.Source
	SearchFn func(ctx context.Context, query, location string) ([]model.Posting, error)
	calls    atomic.Int32
}

func (b *boardFake) Name() model.Source { return b.name }

func (b *boardFake) Search(ctx context.Context, query, location string) ([]model.Posting, error) {
	b.calls.Add(1)
	return b.SearchFn(ctx, query, location)
}

type companyFake struct {
	CareersFn func(ctx context.Context, c model.Company) ([]model.Posting, error)
}

func (c *companyFake) Name() model.Source { return model.SourceCompany }

func (c *companyFake) Careers(ctx context.Context, co model.Company) ([]model.Posting, error) {
	return c.CareersFn(ctx, co)
}

// memStore mimics ON CONFLICT (url, user_id) DO NOTHING.
type memStore struct {
	mu   sync.Mutex
	rows map[string]model.Posting
	fail map[string]bool
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]model.Posting{}, fail: map[string]bool{}}
}

func (s *memStore) Upsert(_ context.Context, p model.Posting, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[p.URL] {
		return false, errors.New("constraint violation")
	}
	key := userID + "|" + p.URL
	if _, ok := s.rows[key]; ok {
		return false, nil
	}
	s.rows[key] = p
	return true, nil
}

func postings(src model.Source, n int, prefix string) []model.Posting {
	out := make([]model.Posting, n)
	for i := range out {
		out[i] = model.Posting{
			Title:   fmt.Sprintf("Engineer %d", i),
			Company: "Acme",
			URL:     fmt.Sprintf("https://jobs.example.com/%s/%d", prefix, i),
			Source:  src,
		}
	}
	return out
}

func fastOrchestrator(store scraper.PostingStore, opts ...scraper.Option) *scraper.Orchestrator {
	base := []scraper.Option{
		scraper.WithDelays(0, 0),
		scraper.WithRetry(0, time.Millisecond),
		scraper.WithFetchTimeout(time.Second),
	}
	return scraper.NewOrchestrator(store, append(base, opts...)...)
}

// ── Run ────────────────────────────────────────────────────────────────────

func TestRun_PartialFailure(t *testing.T) {
	ok := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		return postings(model.SourceAdzuna, 5, "a"), nil
	}}
	broken := &boardFake{name: model.SourceReddit, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		return nil, errors.New("503 service unavailable")
	}}

	store := newMemStore()
	o := fastOrchestrator(store, scraper.WithBoards(ok, broken))

	res, err := o.Run(context.Background(), model.ScrapeConfig{UserID: "u1", Queries: []string{"go developer"}})
	require.NoError(t, err)

	assert.Equal(t, 5, res.JobsFound)
	assert.Equal(t, 5, res.JobsSaved)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "reddit: go developer@Remote")
	assert.Equal(t, 5, res.BySource[model.SourceAdzuna])
	assert.Equal(t, 0, res.BySource[model.SourceReddit])
}

func TestRun_TwoSourcesCountsAndDedup(t *testing.T) {
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		return postings(model.SourceAdzuna, 3, "shared"), nil
	}}
	r := &boardFake{name: model.SourceReddit, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		// Same URLs as adzuna with case and trailing-slash noise, plus one new.
		ps := postings(model.SourceReddit, 3, "SHARED")
		ps[0].URL += "/"
		return append(ps, postings(model.SourceReddit, 1, "only-reddit")...), nil
	}}

	store := newMemStore()
	res, err := fastOrchestrator(store, scraper.WithBoards(a, r)).
		Run(context.Background(), model.ScrapeConfig{UserID: "u1", Queries: []string{"go"}})
	require.NoError(t, err)

	assert.Equal(t, 7, res.JobsFound, "found is counted before deduplication")
	assert.Equal(t, 4, res.JobsSaved)
	assert.Empty(t, res.Errors)
	assert.Equal(t, map[model.Source]int{model.SourceAdzuna: 3, model.SourceReddit: 4}, res.BySource)
}

func TestRun_SecondRunSavesNothing(t *testing.T) {
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		return postings(model.SourceAdzuna, 4, "a"), nil
	}}
	store := newMemStore()
	o := fastOrchestrator(store, scraper.WithBoards(a))
	cfg := model.ScrapeConfig{UserID: "u1", Queries: []string{"go"}}

	first, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, 4, first.JobsSaved)
	assert.Equal(t, 4, second.JobsFound)
	assert.Equal(t, 0, second.JobsSaved)
}

func TestRun_InvalidConfigFailsBeforeFetch(t *testing.T) {
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		t.Fatal("no fetch expected")
		return nil, nil
	}}
	o := fastOrchestrator(newMemStore(), scraper.WithBoards(a))

	_, err := o.Run(context.Background(), model.ScrapeConfig{UserID: "u1"})

	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "queries", cfgErr.Field)
	assert.Zero(t, a.calls.Load())
}

func TestRun_DisabledSourceNotInvoked(t *testing.T) {
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		return postings(model.SourceAdzuna, 1, "a"), nil
	}}
	r := &boardFake{name: model.SourceReddit, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		return postings(model.SourceReddit, 1, "r"), nil
	}}
	o := fastOrchestrator(newMemStore(), scraper.WithBoards(a, r))

	res, err := o.Run(context.Background(), model.ScrapeConfig{
		UserID:  "u1",
		Queries: []string{"go"},
		Sources: []model.Source{model.SourceReddit},
	})
	require.NoError(t, err)

	assert.Zero(t, a.calls.Load())
	assert.EqualValues(t, 1, r.calls.Load())
	assert.Equal(t, 1, res.JobsFound)
}

func TestRun_QueryLocationPairsInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(_ context.Context, q, loc string) ([]model.Posting, error) {
		mu.Lock()
		seen = append(seen, q+"@"+loc)
		mu.Unlock()
		return nil, nil
	}}
	o := fastOrchestrator(newMemStore(), scraper.WithBoards(a))

	res, err := o.Run(context.Background(), model.ScrapeConfig{
		UserID:    "u1",
		Queries:   []string{"go", "rust"},
		Locations: []string{"Paris", "Lyon"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"go@Paris", "go@Lyon", "rust@Paris", "rust@Lyon"}, seen)
	assert.Zero(t, res.JobsFound)
	assert.Empty(t, res.Errors)
}

func TestRun_CompanyFailureAndPanicAreSoft(t *testing.T) {
	c := &companyFake{CareersFn: func(_ context.Context, co model.Company) ([]model.Posting, error) {
		switch co.Name {
		case "Down":
			return nil, errors.New("connection refused")
		case "Buggy":
			panic("nil map")
		}
		return postings(model.SourceCompany, 2, co.Name), nil
	}}
	o := fastOrchestrator(newMemStore(), scraper.WithCompanySource(c))

	res, err := o.Run(context.Background(), model.ScrapeConfig{
		UserID:  "u1",
		Queries: []string{"go"},
		Companies: []model.Company{
			{Name: "Up", CareerURL: "https://up.example.com/careers"},
			{Name: "Down", CareerURL: "https://down.example.com/careers"},
			{Name: "Buggy", CareerURL: "https://buggy.example.com/careers"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.JobsSaved)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "company Down: connection refused", res.Errors[0])
	assert.Contains(t, res.Errors[1], "company Buggy: adapter panic")
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	var n atomic.Int32
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		if n.Add(1) < 3 {
			return nil, errors.New("timeout")
		}
		return postings(model.SourceAdzuna, 2, "a"), nil
	}}
	o := fastOrchestrator(newMemStore(), scraper.WithBoards(a), scraper.WithRetry(2, time.Millisecond))

	res, err := o.Run(context.Background(), model.ScrapeConfig{UserID: "u1", Queries: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.JobsSaved)
	assert.Empty(t, res.Errors)
	assert.EqualValues(t, 3, a.calls.Load())
}

func TestRun_RedFlagsFiltered(t *testing.T) {
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		ps := postings(model.SourceAdzuna, 3, "a")
		ps[1].Description = "Unpaid internship, equity only"
		return ps, nil
	}}
	res, err := fastOrchestrator(newMemStore(), scraper.WithBoards(a)).Run(context.Background(), model.ScrapeConfig{
		UserID:   "u1",
		Queries:  []string{"go"},
		RedFlags: []string{"unpaid"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 2, res.JobsFound)
	assert.Equal(t, 2, res.JobsSaved)
}

func TestRun_StoreErrorsAreSkipped(t *testing.T) {
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		return postings(model.SourceAdzuna, 3, "a"), nil
	}}
	store := newMemStore()
	store.fail["https://jobs.example.com/a/1"] = true

	res, err := fastOrchestrator(store, scraper.WithBoards(a)).
		Run(context.Background(), model.ScrapeConfig{UserID: "u1", Queries: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.JobsFound)
	assert.Equal(t, 2, res.JobsSaved)
	assert.Empty(t, res.Errors)
}

func TestRun_AssignsStableIDs(t *testing.T) {
	a := &boardFake{name: model.SourceAdzuna, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
		return postings(model.SourceAdzuna, 1, "a"), nil
	}}
	store := newMemStore()
	_, err := fastOrchestrator(store, scraper.WithBoards(a)).
		Run(context.Background(), model.ScrapeConfig{UserID: "u1", Queries: []string{"go"}})
	require.NoError(t, err)

	got := store.rows["u1|https://jobs.example.com/a/0"]
	assert.Equal(t, scraper.PostingID("https://JOBS.example.com/a/0/"), got.ID)
}

func TestRun_SharedLimiterBoundsConcurrency(t *testing.T) {
	limiter := throttle.NewRateLimiter(1)
	slow := func(src model.Source) *boardFake {
		return &boardFake{name: src, SearchFn: func(context.Context, string, string) ([]model.Posting, error) {
			time.Sleep(20 * time.Millisecond)
			return nil, nil
		}}
	}
	o := fastOrchestrator(newMemStore(),
		scraper.WithBoards(slow(model.SourceAdzuna), slow(model.SourceReddit), slow(model.SourceOffline)),
		scraper.WithLimiter(limiter))

	_, err := o.Run(context.Background(), model.ScrapeConfig{UserID: "u1", Queries: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.Peak())
}
