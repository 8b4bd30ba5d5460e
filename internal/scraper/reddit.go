package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"golang.org/x/time/rate"

	"jobmate/pipeline/internal/model"
)

// postSearcher is the subset of reddit.SubredditService the source uses.
type postSearcher interface {
	SearchPosts(ctx context.Context, query string, subreddit string, opts *reddit.ListPostSearchOptions) ([]*reddit.Post, *reddit.Response, error)
}

// RedditSource searches hiring threads on job subreddits (r/forhire and
// friends). Only posts tagged as hiring are kept.
//
// Degraded mode: without OAuth credentials the source falls back to Reddit's
// read-only client, which is slower-paced but needs no account.
type RedditSource struct {
	search     postSearcher
	subreddits string // "forhire+remotejs"
	limit      int
	limiter    *rate.Limiter
}

// RedditConfig holds Reddit credentials and search scope.
type RedditConfig struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	Subreddits   []string
	Limit        int
}

// NewRedditSource builds an authenticated client when credentials are
// present, otherwise a read-only one.
func NewRedditSource(cfg RedditConfig) (*RedditSource, error) {
	if len(cfg.Subreddits) == 0 {
		return nil, fmt.Errorf("reddit: at least one subreddit is required")
	}

	var (
		client *reddit.Client
		err    error
		every  = 600 * time.Millisecond // 100 requests / 10 min
	)
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		creds := reddit.Credentials{ID: cfg.ClientID, Secret: cfg.ClientSecret, Username: cfg.Username, Password: cfg.Password}
		client, err = reddit.NewClient(creds, reddit.WithUserAgent(cfg.UserAgent))
	} else {
		client, err = reddit.NewReadonlyClient(reddit.WithUserAgent(cfg.UserAgent))
		every = 2 * time.Second
	}
	if err != nil {
		return nil, fmt.Errorf("reddit: new client: %w", err)
	}

	return newRedditSource(client.Subreddit, cfg.Subreddits, cfg.Limit, rate.Every(every)), nil
}

func newRedditSource(s postSearcher, subreddits []string, limit int, every rate.Limit) *RedditSource {
	if limit <= 0 {
		limit = 50
	}
	return &RedditSource{
		search:     s,
		subreddits: strings.Join(subreddits, "+"),
		limit:      limit,
		limiter:    rate.NewLimiter(every, 1),
	}
}

// Name implements BoardSource.
func (r *RedditSource) Name() model.Source { return model.SourceReddit }

// Search looks for recent hiring posts mentioning query (and location unless
// it is the default remote location, which most posts spell out anyway).
func (r *RedditSource) Search(ctx context.Context, query, location string) ([]model.Posting, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("hiring %s", query)
	if location != "" && !strings.EqualFold(location, model.DefaultLocation) {
		q += " " + location
	}

	opts := &reddit.ListPostSearchOptions{
		ListPostOptions: reddit.ListPostOptions{
			ListOptions: reddit.ListOptions{Limit: r.limit},
			Time:        "month",
		},
		Sort: "new",
	}
	posts, _, err := r.search.SearchPosts(ctx, q, r.subreddits, opts)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}

	out := make([]model.Posting, 0, len(posts))
	for _, p := range posts {
		if p == nil || !isHiringPost(p.Title) {
			continue
		}
		posting := model.Posting{
			Title:       cleanHiringTitle(p.Title),
			Company:     "u/" + p.Author,
			Description: truncate(strings.TrimSpace(p.Body), maxDescriptionRunes),
			URL:         "https://www.reddit.com" + p.Permalink,
			Location:    postLocation(p.Title+" "+p.Body, location),
			Source:      model.SourceReddit,
		}
		if p.Created != nil {
			ts := p.Created.Time
			posting.PostedAt = &ts
		}
		out = append(out, posting)
	}
	return out, nil
}

func isHiringPost(title string) bool {
	t := strings.ToLower(title)
	return strings.Contains(t, "[hiring]") || strings.HasPrefix(t, "hiring")
}

// cleanHiringTitle strips the subreddit flair tag.
func cleanHiringTitle(title string) string {
	t := title
	if i := strings.Index(strings.ToLower(t), "[hiring]"); i >= 0 {
		t = t[:i] + t[i+len("[hiring]"):]
	}
	return strings.Trim(strings.TrimSpace(t), "-:| ")
}

// postLocation reports the searched location when the post mentions it.
func postLocation(text, location string) string {
	lower := strings.ToLower(text)
	if location != "" && strings.Contains(lower, strings.ToLower(location)) {
		return location
	}
	if strings.Contains(lower, "remote") {
		return model.DefaultLocation
	}
	return ""
}
