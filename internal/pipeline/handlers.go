// Package pipeline implements the queue task handlers that chain discovery,
// matching and notification:
//
//	batch-scrape → one scrape per active search config
//	scrape       → orchestrated fetch + persist, then ai-match
//	ai-match     → score unscored postings, then send-email when anything matched
//	send-email   → publish EVENT_MATCHES_READY and mark the postings notified
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/matching"
	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/queue"
	"jobmate/pipeline/internal/store"
)

// DefaultMatchLimit caps how many unscored postings one ai-match task loads.
const DefaultMatchLimit = 200

// ConfigStore reads search configs.
type ConfigStore interface {
	ActiveConfigs(ctx context.Context) ([]model.SearchConfig, error)
	ConfigByID(ctx context.Context, id string) (model.SearchConfig, error)
}

// FeedStore reads and updates the per-user job feed.
type FeedStore interface {
	UnscoredPostings(ctx context.Context, userID string, limit int) ([]model.Posting, error)
	SaveScores(ctx context.Context, userID string, considered []string, results []model.MatchResult) error
	PendingNotifications(ctx context.Context, userID string) ([]model.MatchResult, error)
	MarkNotified(ctx context.Context, userID string, postingIDs []string) (int64, error)
}

// Scraper runs one discovery pass.
type Scraper interface {
	Run(ctx context.Context, cfg model.ScrapeConfig) (model.ScrapeResult, error)
}

// Matcher scores postings against preferences.
type Matcher interface {
	BatchMatch(ctx context.Context, postings []model.Posting, prefs model.Preferences, userID string, opts matching.Options) ([]model.MatchResult, error)
}

// Enqueuer is the producing half of a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload any) (queue.Task, error)
}

// Handlers holds the dependencies shared by all task handlers.
type Handlers struct {
	Configs  ConfigStore
	Feed     FeedStore
	Scraper  Scraper
	Matcher  Matcher
	Notifier Notifier
	Queue    Enqueuer

	MatchOptions matching.Options
	MatchLimit   int

	Log *logging.Logger
}

// Register mounts every handler on w.
func (h *Handlers) Register(w *queue.Worker) {
	w.Handle(queue.KindBatchScrape, h.BatchScrape)
	w.Handle(queue.KindScrape, h.Scrape)
	w.Handle(queue.KindAIMatch, h.AIMatch)
	w.Handle(queue.KindSendEmail, h.SendEmail)
}

func (h *Handlers) logger() *logging.Logger {
	if h.Log == nil {
		return logging.NewNop()
	}
	return h.Log
}

// BatchScrape fans out one scrape task per active search config.
func (h *Handlers) BatchScrape(ctx context.Context, t *queue.Task) error {
	var p queue.BatchScrapePayload
	if err := t.Decode(&p); err != nil {
		return err
	}

	configs, err := h.Configs.ActiveConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load active configs: %w", err)
	}
	if len(configs) == 0 {
		h.logger().Info("no active search configs, nothing to scrape", "trigger", p.Trigger)
		return nil
	}

	for _, cfg := range configs {
		payload := queue.ScrapePayload{UserID: cfg.UserID, SearchConfigID: cfg.ID}
		if _, err := h.Queue.Enqueue(ctx, queue.KindScrape, payload); err != nil {
			return fmt.Errorf("enqueue scrape for config %s: %w", cfg.ID, err)
		}
	}
	h.logger().Info("scrape tasks enqueued", "trigger", p.Trigger, "configs", len(configs))
	return nil
}

// Scrape runs discovery for one search config and hands new postings to
// matching.
func (h *Handlers) Scrape(ctx context.Context, t *queue.Task) error {
	var p queue.ScrapePayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	cfg, err := h.config(ctx, p.SearchConfigID, p.UserID)
	if err != nil {
		return err
	}

	res, err := h.Scraper.Run(ctx, cfg.ScrapeConfig())
	var cerr *model.ConfigError
	if errors.As(err, &cerr) {
		return queue.Unrecoverable(fmt.Errorf("config %s: %w", cfg.ID, err))
	}
	if err != nil {
		return fmt.Errorf("scrape config %s: %w", cfg.ID, err)
	}

	log := h.logger().With("user", cfg.UserID, "config", cfg.ID)
	log.Info("scrape finished",
		"found", res.JobsFound, "saved", res.JobsSaved, "filtered", res.Filtered,
		"bySource", res.BySource, "errors", len(res.Errors))
	for _, e := range res.Errors {
		log.Warn("source failure", "err", e)
	}

	// Nothing came back and something failed: the sources were unreachable,
	// not empty.
	if res.JobsFound == 0 && len(res.Errors) > 0 {
		return fmt.Errorf("scrape config %s: all fetches failed: %s", cfg.ID, res.Errors[0])
	}
	if res.JobsSaved == 0 {
		return nil
	}

	_, err = h.Queue.Enqueue(ctx, queue.KindAIMatch, queue.AIMatchPayload{UserID: cfg.UserID, SearchConfigID: cfg.ID})
	if err != nil {
		return fmt.Errorf("enqueue ai-match: %w", err)
	}
	return nil
}

// AIMatch scores the user's unscored postings and persists the outcome.
func (h *Handlers) AIMatch(ctx context.Context, t *queue.Task) error {
	var p queue.AIMatchPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	cfg, err := h.config(ctx, p.SearchConfigID, p.UserID)
	if err != nil {
		return err
	}

	limit := h.MatchLimit
	if limit <= 0 {
		limit = DefaultMatchLimit
	}
	postings, err := h.Feed.UnscoredPostings(ctx, cfg.UserID, limit)
	if err != nil {
		return fmt.Errorf("load unscored postings: %w", err)
	}
	if len(postings) == 0 {
		return nil
	}

	results, err := h.Matcher.BatchMatch(ctx, postings, cfg.Preferences(), cfg.UserID, h.MatchOptions)
	if err != nil {
		return fmt.Errorf("batch match: %w", err)
	}

	considered := make([]string, len(postings))
	for i, posting := range postings {
		considered[i] = posting.ID
	}
	if err := h.Feed.SaveScores(ctx, cfg.UserID, considered, results); err != nil {
		return err
	}
	h.logger().Info("matching finished", "user", cfg.UserID, "config", cfg.ID, "scored", len(postings), "matched", len(results))

	next := queue.SendEmailPayload{UserID: cfg.UserID, SearchConfigID: cfg.ID}
	if len(results) > 0 {
		if _, err := h.Queue.Enqueue(ctx, queue.KindSendEmail, next); err != nil {
			return fmt.Errorf("enqueue send-email: %w", err)
		}
	}
	// A full page means more may be waiting.
	if len(postings) == limit {
		if _, err := h.Queue.Enqueue(ctx, queue.KindAIMatch, p); err != nil {
			return fmt.Errorf("enqueue ai-match continuation: %w", err)
		}
	}
	return nil
}

// SendEmail hands the user's pending matches to the notifier.
func (h *Handlers) SendEmail(ctx context.Context, t *queue.Task) error {
	var p queue.SendEmailPayload
	if err := t.Decode(&p); err != nil {
		return err
	}
	if p.UserID == "" {
		return queue.Unrecoverable(errors.New("send-email: missing userId"))
	}

	matches, err := h.Feed.PendingNotifications(ctx, p.UserID)
	if err != nil {
		return fmt.Errorf("load pending notifications: %w", err)
	}
	if len(matches) == 0 {
		return nil
	}

	if err := h.Notifier.MatchesReady(ctx, p.UserID, p.SearchConfigID, matches); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	n, err := h.Feed.MarkNotified(ctx, p.UserID, ids)
	if err != nil {
		return err
	}
	h.logger().Info("matches notified", "user", p.UserID, "count", n)
	return nil
}

// config loads a search config and checks it belongs to userID. Missing or
// foreign configs are not worth retrying.
func (h *Handlers) config(ctx context.Context, id, userID string) (model.SearchConfig, error) {
	if id == "" {
		return model.SearchConfig{}, queue.Unrecoverable(errors.New("missing searchConfigId"))
	}
	cfg, err := h.Configs.ConfigByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.SearchConfig{}, queue.Unrecoverable(fmt.Errorf("search config %s: %w", id, err))
	}
	if err != nil {
		return model.SearchConfig{}, fmt.Errorf("load search config %s: %w", id, err)
	}
	if userID != "" && cfg.UserID != userID {
		return model.SearchConfig{}, queue.Unrecoverable(fmt.Errorf("search config %s does not belong to user %s", id, userID))
	}
	return cfg, nil
}
