// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing or malformed, Load returns an
// error and the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ModeLive    = "live"
	ModeOffline = "offline"

	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// Config holds all runtime configuration for the pipeline service.
type Config struct {
	Port                string
	GRPCPort            string
	LogLevel            string
	DatabaseURL         string
	DBMaxConns          int
	RedisURL            string
	ScrapeIntervalHours int    // How often the cron job fires
	ScraperMode         string // live | offline
	QueueBackend        string // redis | memory
	WorkerConcurrency   int

	Adzuna struct {
		AppID   string
		AppKey  string
		Country string // e.g. "fr", "gb", "us"
	}

	Reddit struct {
		ClientID     string
		ClientSecret string
		Username     string
		Password     string
		UserAgent    string
		Subreddits   []string
	}

	OpenAI struct {
		APIKey  string
		Model   string
		BaseURL string
	}

	Scrape struct {
		MinDelay     time.Duration
		MaxDelay     time.Duration
		Concurrency  int
		FetchTimeout time.Duration
		Attempts     int
		RetryBase    time.Duration
	}

	MatchCacheTTL time.Duration
}

// Offline reports whether adapters run in their degraded, network-free mode.
func (c *Config) Offline() bool { return c.ScraperMode == ModeOffline }

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        envString("DISCOVERY_PORT", "8081"),
		GRPCPort:    envString("GRPC_PORT", "9091"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.ScrapeIntervalHours, err = envPositiveInt("SCRAPE_INTERVAL_HOURS", 6); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = envPositiveInt("WORKER_CONCURRENCY", 2); err != nil {
		return nil, err
	}
	if cfg.DBMaxConns, err = envPositiveInt("DB_MAX_CONNS", 10); err != nil {
		return nil, err
	}

	cfg.ScraperMode = strings.ToLower(envString("SCRAPER_MODE", ModeLive))
	if cfg.ScraperMode != ModeLive && cfg.ScraperMode != ModeOffline {
		return nil, fmt.Errorf("SCRAPER_MODE must be %q or %q, got %q", ModeLive, ModeOffline, cfg.ScraperMode)
	}
	cfg.QueueBackend = strings.ToLower(envString("QUEUE_BACKEND", QueueRedis))
	if cfg.QueueBackend != QueueRedis && cfg.QueueBackend != QueueMemory {
		return nil, fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueRedis, QueueMemory, cfg.QueueBackend)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" && cfg.QueueBackend == QueueRedis {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.Adzuna.AppID = os.Getenv("ADZUNA_APP_ID")
	cfg.Adzuna.AppKey = os.Getenv("ADZUNA_APP_KEY")
	cfg.Adzuna.Country = envString("ADZUNA_COUNTRY", "fr")

	cfg.Reddit.ClientID = os.Getenv("REDDIT_CLIENT_ID")
	cfg.Reddit.ClientSecret = os.Getenv("REDDIT_CLIENT_SECRET")
	cfg.Reddit.Username = os.Getenv("REDDIT_USERNAME")
	cfg.Reddit.Password = os.Getenv("REDDIT_PASSWORD")
	cfg.Reddit.UserAgent = envString("REDDIT_USER_AGENT", "jobmate-pipeline/1.0")
	cfg.Reddit.Subreddits = envList("REDDIT_SUBREDDITS", []string{"forhire", "remotejs", "jobbit"})

	cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAI.Model = envString("OPENAI_MODEL", "gpt-4o-mini")
	cfg.OpenAI.BaseURL = os.Getenv("OPENAI_BASE_URL")

	minMs, err := envPositiveInt("SCRAPE_MIN_DELAY_MS", 1000)
	if err != nil {
		return nil, err
	}
	maxMs, err := envPositiveInt("SCRAPE_MAX_DELAY_MS", 3000)
	if err != nil {
		return nil, err
	}
	if maxMs < minMs {
		return nil, fmt.Errorf("SCRAPE_MAX_DELAY_MS (%d) must be >= SCRAPE_MIN_DELAY_MS (%d)", maxMs, minMs)
	}
	cfg.Scrape.MinDelay = time.Duration(minMs) * time.Millisecond
	cfg.Scrape.MaxDelay = time.Duration(maxMs) * time.Millisecond
	if cfg.Scrape.Concurrency, err = envPositiveInt("SCRAPE_CONCURRENCY", 3); err != nil {
		return nil, err
	}
	if cfg.Scrape.Attempts, err = envPositiveInt("SCRAPE_RETRY_ATTEMPTS", 2); err != nil {
		return nil, err
	}
	if cfg.Scrape.FetchTimeout, err = envDuration("FETCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Scrape.RetryBase, err = envDuration("SCRAPE_RETRY_BASE", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.MatchCacheTTL, err = envDuration("MATCH_CACHE_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envPositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, s)
	}
	return v, nil
}

func envList(key string, def []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
