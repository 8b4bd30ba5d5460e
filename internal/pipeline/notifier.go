package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/model"
)

// ChannelMatchesReady is the Redis channel the notification subsystem
// listens on.
const ChannelMatchesReady = "EVENT_MATCHES_READY"

// maxEventMatches caps how many matches are inlined in one event.
const maxEventMatches = 10

// Notifier announces that matched postings are ready for a user.
type Notifier interface {
	MatchesReady(ctx context.Context, userID, searchConfigID string, matches []model.MatchResult) error
}

// MatchSummary is the per-posting shape carried in the event.
type MatchSummary struct {
	PostingID string   `json:"postingId"`
	Title     string   `json:"title"`
	Company   string   `json:"company"`
	URL       string   `json:"url"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons"`
}

// MatchesReadyEvent is published on ChannelMatchesReady.
type MatchesReadyEvent struct {
	Type           string         `json:"type"`
	UserID         string         `json:"userId"`
	SearchConfigID string         `json:"searchConfigId,omitempty"`
	Count          int            `json:"count"`
	Top            []MatchSummary `json:"top"`
}

// RedisNotifier publishes events over Redis pub/sub. Delivery to the user is
// owned by the subscriber.
type RedisNotifier struct {
	rdb redis.Cmdable
}

func NewRedisNotifier(rdb redis.Cmdable) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

// MatchesReady publishes one event. matches are expected best first.
func (n *RedisNotifier) MatchesReady(ctx context.Context, userID, searchConfigID string, matches []model.MatchResult) error {
	top := matches
	if len(top) > maxEventMatches {
		top = top[:maxEventMatches]
	}
	ev := MatchesReadyEvent{
		Type:           ChannelMatchesReady,
		UserID:         userID,
		SearchConfigID: searchConfigID,
		Count:          len(matches),
		Top:            make([]MatchSummary, 0, len(top)),
	}
	for _, m := range top {
		ev.Top = append(ev.Top, MatchSummary{
			PostingID: m.ID,
			Title:     m.Title,
			Company:   m.Company,
			URL:       m.URL,
			Score:     m.Score,
			Reasons:   m.Reasons,
		})
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, ChannelMatchesReady, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ChannelMatchesReady, err)
	}
	return nil
}

// LogNotifier only logs. It stands in for RedisNotifier when no Redis is
// configured.
type LogNotifier struct {
	Log *logging.Logger
}

func (n LogNotifier) MatchesReady(_ context.Context, userID, searchConfigID string, matches []model.MatchResult) error {
	if n.Log != nil {
		n.Log.Info("matches ready", "user", userID, "config", searchConfigID, "count", len(matches))
	}
	return nil
}
