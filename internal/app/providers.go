// Package app assembles the pipeline from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"jobmate/pipeline/internal/admin"
	"jobmate/pipeline/internal/config"
	"jobmate/pipeline/internal/db"
	"jobmate/pipeline/internal/grpcserver"
	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/matching"
	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/pipeline"
	"jobmate/pipeline/internal/queue"
	"jobmate/pipeline/internal/scheduler"
	"jobmate/pipeline/internal/scraper"
	"jobmate/pipeline/internal/store"
	"jobmate/pipeline/internal/throttle"
)

// Version is reported by /health.
const Version = "1.0.0"

// App is the fully wired service.
type App struct {
	Worker    *queue.Worker
	Scheduler *scheduler.Scheduler
	Admin     *admin.Handler
	Health    *grpcserver.Server
}

func newApp(w *queue.Worker, s *scheduler.Scheduler, a *admin.Handler, h *grpcserver.Server) *App {
	return &App{Worker: w, Scheduler: s, Admin: a, Health: h}
}

// ─── Infrastructure ───────────────────────────────────────────────────────────

func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	return pool, pool.Close, nil
}

// provideRedis returns a nil client when REDIS_URL is unset, which config
// only allows together with the memory queue.
func provideRedis(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

func provideStore(ctx context.Context, pool *pgxpool.Pool) (*store.PostgresStore, error) {
	s := store.NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ─── Discovery ────────────────────────────────────────────────────────────────

// provideBoards registers one adapter per job board. Offline mode swaps each
// for its network-free twin; a live adapter that cannot be built is skipped.
func provideBoards(cfg *config.Config, log *logging.Logger) []scraper.BoardSource {
	if cfg.Offline() {
		log.Warn("scraper running offline, postings are synthetic")
		return []scraper.BoardSource{
			scraper.NewOfflineSource(model.SourceAdzuna, 0),
			scraper.NewOfflineSource(model.SourceReddit, 0),
		}
	}

	var boards []scraper.BoardSource
	adz, err := scraper.NewAdzunaSource(scraper.AdzunaConfig{
		AppID:   cfg.Adzuna.AppID,
		AppKey:  cfg.Adzuna.AppKey,
		Country: cfg.Adzuna.Country,
	})
	if err != nil {
		log.Warn("adzuna source disabled", "err", err)
	} else {
		boards = append(boards, adz)
		log.Info("adzuna source enabled", "country", cfg.Adzuna.Country)
	}

	rd, err := scraper.NewRedditSource(scraper.RedditConfig{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		Username:     cfg.Reddit.Username,
		Password:     cfg.Reddit.Password,
		UserAgent:    cfg.Reddit.UserAgent,
		Subreddits:   cfg.Reddit.Subreddits,
	})
	if err != nil {
		log.Warn("reddit source disabled", "err", err)
	} else {
		boards = append(boards, rd)
		log.Info("reddit source enabled", "subreddits", cfg.Reddit.Subreddits, "authenticated", cfg.Reddit.ClientID != "")
	}
	return boards
}

func provideCompanySource(cfg *config.Config) (scraper.CompanySource, error) {
	if cfg.Offline() {
		return scraper.NewOfflineSource(model.SourceCompany, 0), nil
	}
	return scraper.NewCareerPageSource(scraper.CareerPageConfig{
		Timeout:     cfg.Scrape.FetchTimeout,
		Delay:       cfg.Scrape.MinDelay,
		RandomDelay: cfg.Scrape.MaxDelay - cfg.Scrape.MinDelay,
	})
}

func provideLimiter(cfg *config.Config) *throttle.RateLimiter {
	return throttle.NewRateLimiter(cfg.Scrape.Concurrency)
}

func provideOrchestrator(
	s *store.PostgresStore,
	boards []scraper.BoardSource,
	company scraper.CompanySource,
	limiter *throttle.RateLimiter,
	cfg *config.Config,
	log *logging.Logger,
) *scraper.Orchestrator {
	return scraper.NewOrchestrator(s,
		scraper.WithBoards(boards...),
		scraper.WithCompanySource(company),
		scraper.WithLimiter(limiter),
		scraper.WithDelays(cfg.Scrape.MinDelay, cfg.Scrape.MaxDelay),
		scraper.WithRetry(cfg.Scrape.Attempts, cfg.Scrape.RetryBase),
		scraper.WithFetchTimeout(cfg.Scrape.FetchTimeout),
		scraper.WithLogger(log.Component("orchestrator")),
	)
}

// ─── Matching ─────────────────────────────────────────────────────────────────

func provideCache(rdb *redis.Client) matching.Cache {
	if rdb == nil {
		return matching.NewMemoryCache()
	}
	return matching.NewRedisCache(rdb)
}

// provideCompleter falls back to the always-failing completer without an API
// key, so every batch is scored by the heuristic.
func provideCompleter(cfg *config.Config, log *logging.Logger) matching.Completer {
	if cfg.OpenAI.APIKey == "" {
		log.Warn("OPENAI_API_KEY not set, matching uses the heuristic scorer")
		return matching.Unavailable{}
	}
	return matching.NewOpenAICompleter(matching.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
	})
}

func provideProcessor(c matching.Completer, cache matching.Cache, log *logging.Logger) *matching.Processor {
	return matching.NewProcessor(c, cache, log.Component("matching"))
}

// ─── Queue & handlers ─────────────────────────────────────────────────────────

func provideQueue(cfg *config.Config, rdb *redis.Client) queue.Queue {
	if cfg.QueueBackend == config.QueueMemory || rdb == nil {
		return queue.NewMemoryQueue()
	}
	return queue.NewRedisQueue(rdb)
}

func provideNotifier(rdb *redis.Client, log *logging.Logger) pipeline.Notifier {
	if rdb == nil {
		return pipeline.LogNotifier{Log: log.Component("notifier")}
	}
	return pipeline.NewRedisNotifier(rdb)
}

func provideHandlers(
	s *store.PostgresStore,
	orch *scraper.Orchestrator,
	proc *matching.Processor,
	n pipeline.Notifier,
	q queue.Queue,
	cfg *config.Config,
	log *logging.Logger,
) *pipeline.Handlers {
	opts := matching.DefaultOptions()
	opts.CacheTTL = cfg.MatchCacheTTL
	return &pipeline.Handlers{
		Configs:      s,
		Feed:         s,
		Scraper:      orch,
		Matcher:      proc,
		Notifier:     n,
		Queue:        q,
		MatchOptions: opts,
		Log:          log.Component("pipeline"),
	}
}

func provideWorker(q queue.Queue, h *pipeline.Handlers, cfg *config.Config, log *logging.Logger) *queue.Worker {
	w := queue.NewWorker(q, log.Component("worker"), queue.WithConcurrency(cfg.WorkerConcurrency))
	h.Register(w)
	return w
}

func provideScheduler(q queue.Queue, cfg *config.Config, log *logging.Logger) *scheduler.Scheduler {
	return scheduler.New(q, log, cfg.ScrapeIntervalHours)
}

// ─── Operator surfaces ────────────────────────────────────────────────────────

func readiness(pool *pgxpool.Pool, rdb *redis.Client) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"postgres": pool.Ping,
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

func provideAdmin(q queue.Queue, pool *pgxpool.Pool, rdb *redis.Client, log *logging.Logger) *admin.Handler {
	checks := make(map[string]admin.Check)
	for name, fn := range readiness(pool, rdb) {
		checks[name] = fn
	}
	return admin.NewHandler(q, log, Version, checks)
}

func provideHealth(pool *pgxpool.Pool, rdb *redis.Client, log *logging.Logger) *grpcserver.Server {
	checks := make(map[string]grpcserver.Check)
	for name, fn := range readiness(pool, rdb) {
		checks[name] = fn
	}
	return grpcserver.NewServer(checks, log)
}
