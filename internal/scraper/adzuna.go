package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/throttle"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3 // max 150 results per (query × location) pair
)

// AdzunaSource searches the Adzuna public API.
//
// Degraded mode: without credentials the source cannot search at all, so
// NewAdzunaSource refuses to build one; callers register OfflineSource in its
// place when SCRAPER_MODE=offline.
type AdzunaSource struct {
	appID   string
	appKey  string
	country string // "fr", "gb", "us", …
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// AdzunaConfig defines Adzuna API client settings.
type AdzunaConfig struct {
	AppID      string
	AppKey     string
	Country    string
	BaseURL    string
	HTTPClient *http.Client
	// RequestsPerSecond paces page fetches; zero means one per second,
	// Adzuna's free-tier allowance.
	RequestsPerSecond float64
}

// NewAdzunaSource constructs a source with a shared HTTP client.
func NewAdzunaSource(cfg AdzunaConfig) (*AdzunaSource, error) {
	if cfg.AppID == "" || cfg.AppKey == "" {
		return nil, fmt.Errorf("adzuna: app_id and app_key are required")
	}
	if cfg.Country == "" {
		cfg.Country = "fr"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = adzunaBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	return &AdzunaSource{
		appID:   cfg.AppID,
		appKey:  cfg.AppKey,
		country: cfg.Country,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}, nil
}

// Name implements BoardSource.
func (a *AdzunaSource) Name() model.Source { return model.SourceAdzuna }

// adzunaResponse mirrors the top-level Adzuna JSON response.
type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

// adzunaResult mirrors a single Adzuna job listing.
type adzunaResult struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Company     adzunaCompany  `json:"company"`
	Location    adzunaLocation `json:"location"`
	SalaryMin   float64        `json:"salary_min"`
	SalaryMax   float64        `json:"salary_max"`
	RedirectURL string         `json:"redirect_url"`
	Created     string         `json:"created"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string `json:"display_name"`
}

// Search retrieves all available offers for a query and location,
// iterating through pages until no more results or adzunaMaxPages is reached.
func (a *AdzunaSource) Search(ctx context.Context, query, location string) ([]model.Posting, error) {
	var results []model.Posting

	for page := 1; page <= adzunaMaxPages; page++ {
		batch, err := a.fetchPage(ctx, query, location, page)
		if err != nil {
			if page > 1 && len(results) > 0 {
				// Keep what the earlier pages returned; the board was searched.
				return results, nil
			}
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		results = append(results, batch...)
		if len(batch) < adzunaPageSize {
			break // Last page
		}
	}

	return results, nil
}

func (a *AdzunaSource) fetchPage(ctx context.Context, query, location string, page int) ([]model.Posting, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/search/%d", a.baseURL, a.country, page)

	params := url.Values{}
	params.Set("app_id", a.appID)
	params.Set("app_key", a.appKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", query)
	if location != "" && !strings.EqualFold(location, model.DefaultLocation) {
		params.Set("where", location)
	}
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("adzuna returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, throttle.Permanent(err)
		}
		return nil, err
	}

	var apiResp adzunaResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}

	out := make([]model.Posting, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		p := model.Posting{
			Title:       strings.TrimSpace(r.Title),
			Company:     r.Company.DisplayName,
			Location:    r.Location.DisplayName,
			Description: truncate(PlainText(r.Description), maxDescriptionRunes),
			URL:         r.RedirectURL,
			Salary:      salaryRange(r.SalaryMin, r.SalaryMax),
			Source:      model.SourceAdzuna,
		}
		if p.URL == "" {
			p.URL = fmt.Sprintf("https://www.adzuna.com/details/%s", r.ID)
		}
		if ts, err := time.Parse(time.RFC3339, r.Created); err == nil {
			p.PostedAt = &ts
		}
		out = append(out, p)
	}

	return out, nil
}

func salaryRange(lo, hi float64) *string {
	var s string
	switch {
	case lo > 0 && hi > 0 && hi != lo:
		s = fmt.Sprintf("%.0f-%.0f", lo, hi)
	case lo > 0:
		s = fmt.Sprintf("%.0f", lo)
	case hi > 0:
		s = fmt.Sprintf("%.0f", hi)
	default:
		return nil
	}
	return &s
}
