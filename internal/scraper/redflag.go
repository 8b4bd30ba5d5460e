package scraper

import (
	"strings"

	"jobmate/pipeline/internal/model"
)

// ContainsRedFlag returns true if any red flag term appears (case-insensitive)
// anywhere in the combined title + company + description text.
func ContainsRedFlag(p model.Posting, redFlags []string) bool {
	if len(redFlags) == 0 {
		return false
	}
	combined := strings.ToLower(p.Title + " " + p.Company + " " + p.Description)
	for _, flag := range redFlags {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}

// filterRedFlags drops flagged postings and returns how many were dropped.
func filterRedFlags(postings []model.Posting, redFlags []string) ([]model.Posting, int) {
	if len(redFlags) == 0 {
		return postings, 0
	}
	kept := postings[:0:0]
	for _, p := range postings {
		if ContainsRedFlag(p, redFlags) {
			continue
		}
		kept = append(kept, p)
	}
	return kept, len(postings) - len(kept)
}
