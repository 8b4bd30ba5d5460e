package model

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultLocation is used when a ScrapeConfig carries no locations.
const DefaultLocation = "Remote"

// ScrapeConfig is the input to one orchestration run.
type ScrapeConfig struct {
	UserID    string
	Queries   []string
	Locations []string
	Companies []Company
	Sources   []Source // empty means every registered source
	RedFlags  []string
}

// ConfigError reports an empty or invalid ScrapeConfig. It is fatal and is
// returned before any fetch is attempted.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid scrape config: %s: %s", e.Field, e.Msg)
}

// Validate checks the config invariants.
func (c ScrapeConfig) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return &ConfigError{Field: "userId", Msg: "is required"}
	}
	if len(c.Queries) == 0 {
		return &ConfigError{Field: "queries", Msg: "at least one query is required"}
	}
	for i, q := range c.Queries {
		if strings.TrimSpace(q) == "" {
			return &ConfigError{Field: "queries", Msg: fmt.Sprintf("query %d is blank", i)}
		}
	}
	for _, co := range c.Companies {
		if strings.TrimSpace(co.Name) == "" {
			return &ConfigError{Field: "companies", Msg: "company name is required"}
		}
		if _, err := url.ParseRequestURI(co.CareerURL); err != nil {
			return &ConfigError{Field: "companies", Msg: fmt.Sprintf("%s: invalid career url %q", co.Name, co.CareerURL)}
		}
	}
	for _, s := range c.Sources {
		if _, err := ParseSource(string(s)); err != nil {
			return err
		}
	}
	return nil
}

// WithDefaults returns a copy with absent optional fields filled in.
func (c ScrapeConfig) WithDefaults() ScrapeConfig {
	if len(c.Locations) == 0 {
		c.Locations = []string{DefaultLocation}
	}
	return c
}

// Enabled reports whether src may be invoked under this config.
func (c ScrapeConfig) Enabled(src Source) bool {
	if len(c.Sources) == 0 {
		return true
	}
	for _, s := range c.Sources {
		if s == src {
			return true
		}
	}
	return false
}
