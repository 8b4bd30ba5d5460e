package scraper

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"jobmate/pipeline/internal/model"
)

// postingNamespace seeds the deterministic posting ids.
var postingNamespace = uuid.MustParse("7b0c2f5e-3d1a-4c47-9a55-1f6f3d2b9e10")

// NormalizeURL returns the deduplication key of a posting URL: the URL is
// lower-cased, its path component taken, and a single trailing slash
// stripped. Query strings and fragments never take part in identity.
// A URL without a path keys on its lower-cased form minus query/fragment.
func NormalizeURL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))

	u, err := url.Parse(s)
	if err != nil {
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			s = s[:i]
		}
		return strings.TrimSuffix(s, "/")
	}

	p := strings.TrimSuffix(u.Path, "/")
	if p == "" {
		u.RawQuery, u.Fragment = "", ""
		return strings.TrimSuffix(u.String(), "/")
	}
	return p
}

// PostingID derives a stable id from the posting's dedup key, so the same
// posting keeps its id (and its cached match) across runs.
func PostingID(rawURL string) string {
	return uuid.NewSHA1(postingNamespace, []byte(NormalizeURL(rawURL))).String()
}

// Deduplicate keeps the first posting seen for each normalized URL key,
// preserving input order. It does not modify its input.
func Deduplicate(postings []model.Posting) []model.Posting {
	seen := make(map[string]struct{}, len(postings))
	out := make([]model.Posting, 0, len(postings))
	for _, p := range postings {
		key := NormalizeURL(p.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
