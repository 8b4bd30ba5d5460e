package scraper_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/scraper"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"https://x.com/Job/1/":             "/job/1",
		"https://x.com/job/1":              "/job/1",
		"https://X.COM/JOB/1?utm=feed#top": "/job/1",
		"https://x.com/":                   "https://x.com",
		"https://x.com?q=1":                "https://x.com",
		"/relative/path/":                  "/relative/path",
		"https://x.com/jobs/1//":           "/jobs/1/",
		"https://x.com/jobs/1/?ref=a":      "/jobs/1",
	}
	for in, want := range cases {
		assert.Equal(t, want, scraper.NormalizeURL(in), "NormalizeURL(%q)", in)
	}
}

func TestDeduplicate_TrailingSlashAndCase(t *testing.T) {
	in := []model.Posting{
		{Title: "first", URL: "https://x.com/Job/1/"},
		{Title: "second", URL: "https://x.com/job/1"},
	}
	out := scraper.Deduplicate(in)

	assert.Len(t, out, 1)
	assert.Equal(t, "first", out[0].Title)
}

func TestDeduplicate_KeepsOrderAndInput(t *testing.T) {
	in := []model.Posting{
		{Title: "a", URL: "https://x.com/a"},
		{Title: "b", URL: "https://y.com/b"},
		{Title: "a2", URL: "https://z.com/a"},
		{Title: "c", URL: "https://x.com/c"},
	}
	snapshot := append([]model.Posting(nil), in...)

	out := scraper.Deduplicate(in)

	titles := make([]string, len(out))
	for i, p := range out {
		titles[i] = p.Title
	}
	assert.Equal(t, []string{"a", "b", "c"}, titles)
	assert.Equal(t, snapshot, in)
}

func TestDeduplicate_Empty(t *testing.T) {
	assert.Empty(t, scraper.Deduplicate(nil))
}

func TestPostingID_StableAcrossURLNoise(t *testing.T) {
	a := scraper.PostingID("https://x.com/Job/1/")
	b := scraper.PostingID("https://x.com/job/1?ref=mail")
	c := scraper.PostingID("https://x.com/job/2")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestContainsRedFlag(t *testing.T) {
	p := model.Posting{Title: "Backend Engineer", Company: "Crypto Casino Ltd", Description: "Fast-paced"}

	assert.True(t, scraper.ContainsRedFlag(p, []string{"casino"}))
	assert.True(t, scraper.ContainsRedFlag(p, []string{"  FAST-PACED "}))
	assert.False(t, scraper.ContainsRedFlag(p, []string{"unpaid", ""}))
	assert.False(t, scraper.ContainsRedFlag(p, nil))
}

func TestPlainText(t *testing.T) {
	cases := map[string]string{
		"plain   text\n here":                                  "plain text here",
		"<p>Hello <b>world</b></p><p>Bye</p>":                  "Hello world Bye",
		"&lt;p&gt;Escaped &amp;amp; nested&lt;/p&gt;":          "Escaped & nested",
		"<div>Keep<script>drop()</script> this<style>x{}</style></div>": "Keep this",
	}
	for in, want := range cases {
		assert.Equal(t, want, scraper.PlainText(in), "PlainText(%q)", in)
	}
}
