// Package store is the persistence gateway of the pipeline: discovered
// postings, search configs and match scores, all in PostgreSQL.
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"jobmate/pipeline/internal/model"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Feed row statuses.
const (
	StatusPending  = "PENDING"  // discovered, not scored yet
	StatusScored   = "SCORED"   // scored below the match threshold
	StatusMatched  = "MATCHED"  // retained match, awaiting notification
	StatusNotified = "NOTIFIED" // notification queued
)

//go:embed schema.sql
var schema string

// DBTX is the subset of *pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore implements the pipeline's persistence on pgx.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore returns a store backed by db (usually a *pgxpool.Pool).
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the pipeline tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const upsertPostingSQL = `
	INSERT INTO job_feed (posting_id, user_id, url, source, raw_data, status)
	VALUES ($1, $2, $3, $4, $5::jsonb, 'PENDING')
	ON CONFLICT (posting_id, user_id) DO NOTHING`

// Upsert inserts p for userID unless the user already has a row for p.ID.
// p.ID carries the posting's identity (see scraper.PostingID), so URLs that
// differ only in query string or fragment land on the same row. It reports
// whether a row was inserted.
func (s *PostgresStore) Upsert(ctx context.Context, p model.Posting, userID string) (bool, error) {
	if p.ID == "" {
		return false, fmt.Errorf("insert job_feed: posting %q has no id", p.URL)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("marshal posting: %w", err)
	}
	tag, err := s.db.Exec(ctx, upsertPostingSQL, p.ID, userID, p.URL, string(p.Source), string(raw))
	if err != nil {
		return false, fmt.Errorf("insert job_feed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const configColumns = `id, user_id, job_titles, locations, remote_policy, keywords, red_flags,
	       seniority, salary_min, salary_max, companies, sources`

// ActiveConfigs fetches all is_active = true search configs.
func (s *PostgresStore) ActiveConfigs(ctx context.Context) ([]model.SearchConfig, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+configColumns+`
		 FROM search_configs
		 WHERE is_active = true
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query search_configs: %w", err)
	}
	defer rows.Close()

	var configs []model.SearchConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// ConfigByID loads one search config, active or not.
func (s *PostgresStore) ConfigByID(ctx context.Context, id string) (model.SearchConfig, error) {
	row := s.db.QueryRow(ctx, `SELECT `+configColumns+` FROM search_configs WHERE id = $1`, id)
	c, err := scanConfig(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SearchConfig{}, ErrNotFound
	}
	return c, err
}

func scanConfig(row pgx.Row) (model.SearchConfig, error) {
	var (
		c         model.SearchConfig
		companies []byte
		sources   []string
	)
	if err := row.Scan(
		&c.ID, &c.UserID, &c.JobTitles, &c.Locations,
		&c.RemotePolicy, &c.Keywords, &c.RedFlags,
		&c.Seniority, &c.SalaryMin, &c.SalaryMax, &companies, &sources,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan search_config: %w", err)
	}
	if len(companies) > 0 {
		if err := json.Unmarshal(companies, &c.Companies); err != nil {
			return c, fmt.Errorf("search_config %s companies: %w", c.ID, err)
		}
	}
	for _, src := range sources {
		c.Sources = append(c.Sources, model.Source(src))
	}
	return c, nil
}

// UnscoredPostings returns up to limit postings of userID still waiting for a
// match score, oldest first.
func (s *PostgresStore) UnscoredPostings(ctx context.Context, userID string, limit int) ([]model.Posting, error) {
	rows, err := s.db.Query(ctx,
		`SELECT raw_data
		 FROM job_feed
		 WHERE user_id = $1 AND status = 'PENDING'
		 ORDER BY created_at
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unscored: %w", err)
	}
	defer rows.Close()

	postings := make([]model.Posting, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan unscored: %w", err)
		}
		var p model.Posting
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode posting: %w", err)
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

// SaveScores records the outcome of a matching pass: retained results are
// marked MATCHED with their score and reasons, every other considered
// posting is marked SCORED so it is not submitted again.
func (s *PostgresStore) SaveScores(ctx context.Context, userID string, considered []string, results []model.MatchResult) error {
	b := scoreBatch(userID, considered, results, time.Now().UTC())
	if b.Len() == 0 {
		return nil
	}

	br := s.db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("save scores: %w", err)
		}
	}
	return br.Close()
}

func scoreBatch(userID string, considered []string, results []model.MatchResult, now time.Time) *pgx.Batch {
	b := &pgx.Batch{}
	matched := make(map[string]struct{}, len(results))
	for _, r := range results {
		matched[r.ID] = struct{}{}
		reasons, _ := json.Marshal(r.Reasons)
		b.Queue(
			`UPDATE job_feed
			 SET status = 'MATCHED', match_score = $1, match_reasons = $2::jsonb, scored_at = $3
			 WHERE user_id = $4 AND posting_id = $5 AND status = 'PENDING'`,
			r.Score, string(reasons), now, userID, r.ID,
		)
	}

	var rest []string
	for _, id := range considered {
		if _, ok := matched[id]; !ok {
			rest = append(rest, id)
		}
	}
	if len(rest) > 0 {
		b.Queue(
			`UPDATE job_feed
			 SET status = 'SCORED', scored_at = $1
			 WHERE user_id = $2 AND posting_id = ANY($3) AND status = 'PENDING'`,
			now, userID, rest,
		)
	}
	return b
}

// PendingNotifications returns matched postings of userID not yet notified,
// best score first.
func (s *PostgresStore) PendingNotifications(ctx context.Context, userID string) ([]model.MatchResult, error) {
	rows, err := s.db.Query(ctx,
		`SELECT raw_data, COALESCE(match_score, 0), COALESCE(match_reasons, '[]'::jsonb)
		 FROM job_feed
		 WHERE user_id = $1 AND status = 'MATCHED'
		 ORDER BY match_score DESC, created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()

	out := make([]model.MatchResult, 0)
	for rows.Next() {
		var (
			raw, reasons []byte
			m            model.MatchResult
		)
		if err := rows.Scan(&raw, &m.Score, &reasons); err != nil {
			return nil, fmt.Errorf("scan pending notification: %w", err)
		}
		if err := json.Unmarshal(raw, &m.Posting); err != nil {
			return nil, fmt.Errorf("decode posting: %w", err)
		}
		_ = json.Unmarshal(reasons, &m.Reasons)
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkNotified flags the given postings as handed to the notifier.
func (s *PostgresStore) MarkNotified(ctx context.Context, userID string, postingIDs []string) (int64, error) {
	if len(postingIDs) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE job_feed
		 SET status = 'NOTIFIED', notified_at = NOW()
		 WHERE user_id = $1 AND posting_id = ANY($2) AND status = 'MATCHED'`,
		userID, postingIDs,
	)
	if err != nil {
		return 0, fmt.Errorf("mark notified: %w", err)
	}
	return tag.RowsAffected(), nil
}
