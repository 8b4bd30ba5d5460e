// Package queue is the pipeline's durable task queue: four task kinds with
// per-kind retry and retention policies, a Redis backend, an in-process
// backend, and the Worker that drains them.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a task type. Each kind has its own queue and Policy.
type Kind string

const (
	KindScrape      Kind = "scrape"
	KindBatchScrape Kind = "batch-scrape"
	KindAIMatch     Kind = "ai-match"
	KindSendEmail   Kind = "send-email"
)

// Kinds lists every task kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindScrape, KindBatchScrape, KindAIMatch, KindSendEmail}
}

// ErrUnknownKind is returned for a kind outside Kinds().
var ErrUnknownKind = errors.New("unknown task kind")

// ParseKind converts a raw string to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownKind, s)
}

// Task is one unit of queued work. Payloads carry identifiers only; handlers
// reload whatever else they need.
type Task struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError,omitempty"`
	RunAt       time.Time       `json:"runAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return Unrecoverable(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}

// ScrapePayload asks for one scrape run of a search config.
type ScrapePayload struct {
	UserID         string `json:"userId"`
	SearchConfigID string `json:"searchConfigId"`
}

// BatchScrapePayload fans out a scrape task per active search config.
type BatchScrapePayload struct {
	Trigger string `json:"trigger,omitempty"` // "cron", "startup", "admin"
}

// AIMatchPayload asks for the unscored postings of a user to be matched.
type AIMatchPayload struct {
	UserID         string `json:"userId"`
	SearchConfigID string `json:"searchConfigId"`
}

// SendEmailPayload asks for a user's pending matches to be notified.
type SendEmailPayload struct {
	UserID         string `json:"userId"`
	SearchConfigID string `json:"searchConfigId,omitempty"`
}

func newTask(kind Kind, payload any, now time.Time) (Task, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return Task{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode payload: %w", err)
	}
	return Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		Status:      StatusWaiting,
		MaxAttempts: PolicyFor(kind).Attempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

type unrecoverableError struct{ err error }

func (e *unrecoverableError) Error() string { return e.err.Error() }
func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable marks a handler error as not worth retrying: the task fails
// immediately whatever attempts remain.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err was marked with Unrecoverable.
func IsUnrecoverable(err error) bool {
	var u *unrecoverableError
	return errors.As(err, &u)
}
