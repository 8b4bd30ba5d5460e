// Package model defines shared data structures for the discovery pipeline.
package model

import (
	"time"
)

// Source identifies the adapter that produced a Posting.
type Source string

const (
	SourceAdzuna  Source = "adzuna"
	SourceReddit  Source = "reddit"
	SourceCompany Source = "company"
	SourceOffline Source = "offline"
)

// ParseSource converts a raw string to a Source, returning an error for
// unknown values.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	switch src {
	case SourceAdzuna, SourceReddit, SourceCompany, SourceOffline:
		return src, nil
	}
	return "", &ConfigError{Field: "sources", Msg: "unknown source " + s}
}

// SearchConfig mirrors the search_configs table row relevant to scraping
// and matching.
type SearchConfig struct {
	ID           string
	UserID       string
	JobTitles    []string
	Locations    []string
	RemotePolicy string // "REMOTE", "HYBRID", "ONSITE" or ""
	Keywords     []string
	RedFlags     []string // exclusion terms; any match discards the offer
	Seniority    string
	SalaryMin    *int
	SalaryMax    *int
	Companies    []Company
	Sources      []Source
}

// ScrapeConfig converts the stored search config into the input of one
// orchestration run.
func (c SearchConfig) ScrapeConfig() ScrapeConfig {
	return ScrapeConfig{
		UserID:    c.UserID,
		Queries:   c.JobTitles,
		Locations: c.Locations,
		Companies: c.Companies,
		Sources:   c.Sources,
		RedFlags:  c.RedFlags,
	}
}

// Preferences extracts the matching preferences from the stored config.
func (c SearchConfig) Preferences() Preferences {
	return Preferences{
		JobTitles:  c.JobTitles,
		Locations:  c.Locations,
		RemoteOnly: c.RemotePolicy == "REMOTE",
		Seniority:  c.Seniority,
		Keywords:   c.Keywords,
		SalaryMin:  c.SalaryMin,
	}
}

// Company describes a company whose career page is scraped directly.
type Company struct {
	Name      string `json:"name"`
	CareerURL string `json:"careerUrl"`
	BoardURL  string `json:"boardUrl,omitempty"`
}

// Posting is a normalised job offer discovered from an external source.
type Posting struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	Location    string     `json:"location,omitempty"`
	Salary      *string    `json:"salary,omitempty"`
	PostedAt    *time.Time `json:"postedAt,omitempty"`
	Source      Source     `json:"source"`
}

// MatchResult is a Posting scored against one user's preferences.
type MatchResult struct {
	Posting
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Preferences are the user's stated matching criteria.
type Preferences struct {
	JobTitles  []string `json:"jobTitles"`
	Locations  []string `json:"locations,omitempty"`
	RemoteOnly bool     `json:"remoteOnly"`
	Seniority  string   `json:"seniority,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	SalaryMin  *int     `json:"salaryMin,omitempty"`
}

// ScrapeResult is the outcome of one orchestration run.
//
// JobsFound counts the aggregated pre-deduplication set, JobsSaved the rows
// actually inserted. Errors holds one entry per failed fetch.
type ScrapeResult struct {
	JobsFound int            `json:"jobsFound"`
	JobsSaved int            `json:"jobsSaved"`
	Filtered  int            `json:"filtered"`
	BySource  map[Source]int `json:"bySource"`
	Errors    []string       `json:"errors"`
}
