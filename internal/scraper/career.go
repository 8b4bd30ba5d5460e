package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/throttle"
)

// jobLinkHints mark anchors that point at an individual opening.
var jobLinkHints = []string{"/job/", "/jobs/", "/careers/", "/positions/", "/openings/", "/o/", "gh_jid=", "lever.co/", "greenhouse.io/", "workable.com/", "ashbyhq.com/"}

// CareerPageSource scrapes a company's own career page. When the company also
// exposes a Greenhouse or Lever board, the board's JSON API is used instead
// since it carries locations and descriptions.
//
// Degraded mode: none beyond OfflineSource; an unreachable page is reported
// as an error so the run records it.
type CareerPageSource struct {
	base   *colly.Collector
	client *http.Client
}

// CareerPageConfig tunes politeness of the crawler.
type CareerPageConfig struct {
	UserAgent   string
	Timeout     time.Duration
	Delay       time.Duration // fixed per-domain delay
	RandomDelay time.Duration // extra random per-domain delay
	HTTPClient  *http.Client
}

// NewCareerPageSource builds the base collector every crawl is cloned from.
// Clones share the backend, hence the per-domain limit rules.
func NewCareerPageSource(cfg CareerPageConfig) (*CareerPageSource, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; jobmate-pipeline/1.0)"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.MaxDepth(1),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(cfg.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("career: limit rule: %w", err)
	}

	return &CareerPageSource{base: c, client: cfg.HTTPClient}, nil
}

// Name implements CompanySource.
func (s *CareerPageSource) Name() model.Source { return model.SourceCompany }

// Careers implements CompanySource.
func (s *CareerPageSource) Careers(ctx context.Context, company model.Company) ([]model.Posting, error) {
	if company.BoardURL != "" {
		if kind, token := boardAPI(company.BoardURL); kind != "" {
			return s.fetchBoard(ctx, company, kind, token)
		}
	}
	target := company.CareerURL
	if company.BoardURL != "" {
		target = company.BoardURL
	}
	return s.crawl(ctx, company, target)
}

// crawl visits one page and collects anchors that look like openings.
func (s *CareerPageSource) crawl(ctx context.Context, company model.Company, target string) ([]model.Posting, error) {
	c := s.base.Clone()

	var (
		out  []model.Posting
		seen = map[string]struct{}{}
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		title := strings.Join(strings.Fields(e.Text), " ")
		if link == "" || title == "" || !looksLikeJobLink(link, target) {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		out = append(out, model.Posting{
			Title:   truncate(title, 200),
			Company: company.Name,
			URL:     link,
			Source:  model.SourceCompany,
		})
	})

	if err := c.Visit(target); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("visit %s: %w", target, err)
	}
	c.Wait()
	return out, nil
}

func looksLikeJobLink(link, page string) bool {
	l := strings.ToLower(link)
	if strings.HasPrefix(l, "mailto:") || strings.HasPrefix(l, "javascript:") {
		return false
	}
	if NormalizeURL(l) == NormalizeURL(page) {
		return false
	}
	for _, h := range jobLinkHints {
		if strings.Contains(l, h) {
			return true
		}
	}
	return false
}

// boardAPI recognises hosted job boards with a public JSON API.
func boardAPI(boardURL string) (kind, token string) {
	u, err := url.Parse(boardURL)
	if err != nil {
		return "", ""
	}
	seg := strings.Split(strings.Trim(u.Path, "/"), "/")
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, "greenhouse.io") && seg[0] != "":
		if host == "boards-api.greenhouse.io" && len(seg) >= 3 && seg[0] == "v1" {
			return "greenhouse", seg[2]
		}
		return "greenhouse", seg[0]
	case host == "jobs.lever.co" && seg[0] != "":
		return "lever", seg[0]
	}
	return "", ""
}

type greenhouseJobs struct {
	Jobs []struct {
		Title       string `json:"title"`
		AbsoluteURL string `json:"absolute_url"`
		UpdatedAt   string `json:"updated_at"`
		Content     string `json:"content"`
		Location    struct {
			Name string `json:"name"`
		} `json:"location"`
	} `json:"jobs"`
}

type leverPosting struct {
	Text             string `json:"text"`
	HostedURL        string `json:"hostedUrl"`
	CreatedAt        int64  `json:"createdAt"` // epoch millis
	DescriptionPlain string `json:"descriptionPlain"`
	Categories       struct {
		Location string `json:"location"`
	} `json:"categories"`
	WorkplaceType string `json:"workplaceType"`
}

var (
	greenhouseAPI = "https://boards-api.greenhouse.io/v1/boards/%s/jobs?content=true"
	leverAPI      = "https://api.lever.co/v0/postings/%s?mode=json"
)

func (s *CareerPageSource) fetchBoard(ctx context.Context, company model.Company, kind, token string) ([]model.Posting, error) {
	endpoint := fmt.Sprintf(greenhouseAPI, url.PathEscape(token))
	if kind == "lever" {
		endpoint = fmt.Sprintf(leverAPI, url.PathEscape(token))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s board: %w", kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("%s board returned %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusNotFound {
			return nil, throttle.Permanent(err)
		}
		return nil, err
	}

	var out []model.Posting
	switch kind {
	case "greenhouse":
		var payload greenhouseJobs
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("greenhouse decode: %w", err)
		}
		for _, j := range payload.Jobs {
			p := model.Posting{
				Title:       j.Title,
				Company:     company.Name,
				Description: truncate(PlainText(j.Content), maxDescriptionRunes),
				URL:         j.AbsoluteURL,
				Location:    j.Location.Name,
				Source:      model.SourceCompany,
			}
			if ts, err := time.Parse(time.RFC3339, j.UpdatedAt); err == nil {
				p.PostedAt = &ts
			}
			out = append(out, p)
		}
	case "lever":
		var payload []leverPosting
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("lever decode: %w", err)
		}
		for _, j := range payload {
			loc := j.Categories.Location
			if strings.EqualFold(j.WorkplaceType, "remote") && !strings.Contains(strings.ToLower(loc), "remote") {
				loc = strings.TrimSpace(loc + " (Remote)")
			}
			p := model.Posting{
				Title:       j.Text,
				Company:     company.Name,
				Description: truncate(j.DescriptionPlain, maxDescriptionRunes),
				URL:         j.HostedURL,
				Location:    loc,
				Source:      model.SourceCompany,
			}
			if j.CreatedAt > 0 {
				ts := time.UnixMilli(j.CreatedAt).UTC()
				p.PostedAt = &ts
			}
			out = append(out, p)
		}
	}
	return out, nil
}
