// Package scraper implements job posting discovery: source adapters, the
// scrape orchestrator, red-flag filtering and URL-based deduplication.
package scraper

import (
	"context"
	"fmt"

	"jobmate/pipeline/internal/model"
)

// BoardSource searches a job board by query and location.
//
// An empty slice means "searched, found none"; an error means the board could
// not be searched.
type BoardSource interface {
	Name() model.Source
	Search(ctx context.Context, query, location string) ([]model.Posting, error)
}

// CompanySource lists the openings published on one company's pages.
type CompanySource interface {
	Name() model.Source
	Careers(ctx context.Context, company model.Company) ([]model.Posting, error)
}

// SourceError records a soft failure of one fetch. It never aborts a run.
type SourceError struct {
	Source model.Source
	Target string // "query@location" or the company name
	Err    error
}

func (e *SourceError) Error() string {
	if e.Source == model.SourceCompany {
		return fmt.Sprintf("company %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Target, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

const maxDescriptionRunes = 5000

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
