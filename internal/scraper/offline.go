package scraper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"

	"jobmate/pipeline/internal/model"
)

const offlineBaseURL = "https://jobs.offline.invalid"

var (
	offlineCompanies = []string{"Acme Corp", "Globex", "Initech", "Umbrella Labs", "Hooli", "Stark Industries"}
	offlineLevels    = []string{"Junior", "", "Senior", "Lead", "Staff"}
)

// OfflineSource synthesises postings without any network access. It stands
// in for a live adapter under SCRAPER_MODE=offline and in tests; output is a
// pure function of the arguments, so repeated runs yield identical postings.
type OfflineSource struct {
	name    model.Source
	perCall int
	epoch   time.Time
}

// NewOfflineSource returns the offline twin of the named source.
func NewOfflineSource(replaces model.Source, perCall int) *OfflineSource {
	if perCall <= 0 {
		perCall = 4
	}
	return &OfflineSource{
		name:    replaces,
		perCall: perCall,
		epoch:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Name reports the source this adapter replaces, so ScrapeConfig.Sources
// keeps selecting it.
func (o *OfflineSource) Name() model.Source { return o.name }

// Search implements BoardSource.
func (o *OfflineSource) Search(ctx context.Context, query, location string) ([]model.Posting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := strings.ToLower(query + "|" + location)
	r := o.rng(key)

	out := make([]model.Posting, 0, o.perCall)
	for i := 0; i < o.perCall; i++ {
		level := offlineLevels[r.IntN(len(offlineLevels))]
		title := strings.TrimSpace(level + " " + query)
		company := offlineCompanies[r.IntN(len(offlineCompanies))]
		out = append(out, o.posting(
			fmt.Sprintf("%s/%s/%s/%s-%d", offlineBaseURL, o.name, slug(location), slug(query), i+1),
			title, company, location, r,
		))
	}
	return out, nil
}

// Careers implements CompanySource.
func (o *OfflineSource) Careers(ctx context.Context, company model.Company) ([]model.Posting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := o.rng(strings.ToLower(company.Name))

	roles := []string{"Backend Engineer", "Frontend Engineer", "Data Engineer", "Site Reliability Engineer"}
	n := 1 + r.IntN(o.perCall)
	out := make([]model.Posting, 0, n)
	for i := 0; i < n; i++ {
		title := roles[r.IntN(len(roles))]
		out = append(out, o.posting(
			fmt.Sprintf("%s/%s/%s/careers/%d", offlineBaseURL, o.name, slug(company.Name), i+1),
			title, company.Name, model.DefaultLocation, r,
		))
	}
	return out, nil
}

func (o *OfflineSource) posting(url, title, company, location string, r *rand.Rand) model.Posting {
	lo := 40000 + 5000*r.IntN(10)
	salary := fmt.Sprintf("%d-%d", lo, lo+15000)
	posted := o.epoch.Add(time.Duration(r.IntN(90*24)) * time.Hour)

	desc := fmt.Sprintf("%s is hiring a %s in %s. You will build and operate production services with a small team.", company, title, location)
	if r.IntN(2) == 0 {
		desc += " Fully remote friendly."
	}
	return model.Posting{
		Title:       title,
		Company:     company,
		Description: desc,
		URL:         url,
		Location:    location,
		Salary:      &salary,
		PostedAt:    &posted,
		Source:      model.SourceOffline,
	}
}

func (o *OfflineSource) rng(key string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(o.name) + "|" + key))
	sum := h.Sum64()
	return rand.New(rand.NewPCG(sum, sum>>1|1))
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	dash := false
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
