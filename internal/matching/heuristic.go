package matching

import (
	"fmt"
	"strings"

	"jobmate/pipeline/internal/model"
)

// Heuristic weights in percentage points.
const (
	weightTitle     = 40
	weightLocation  = 30
	weightRemote    = 20
	weightSeniority = 10
)

var seniorityLevels = []string{"senior", "junior", "lead", "principal", "staff", "mid"}

// HeuristicScore scores p against prefs without any external call. It is a
// pure function of its arguments.
//
// A remote-only preference also counts "Remote" as a preferred location.
func HeuristicScore(p model.Posting, prefs model.Preferences) model.MatchResult {
	var (
		points  int
		reasons = []string{}
		title   = strings.ToLower(p.Title)
	)

	if t, ok := overlap(title, prefs.JobTitles); ok {
		points += weightTitle
		reasons = append(reasons, fmt.Sprintf("title matches %q", t))
	}

	locations := prefs.Locations
	if prefs.RemoteOnly {
		locations = append(locations[:len(locations):len(locations)], model.DefaultLocation)
	}
	if loc := strings.ToLower(p.Location); loc != "" {
		if l, ok := overlap(loc, locations); ok {
			points += weightLocation
			reasons = append(reasons, fmt.Sprintf("location matches %q", l))
		}
	}

	if prefs.RemoteOnly {
		text := strings.ToLower(p.Location + " " + p.Title + " " + p.Description)
		if strings.Contains(text, "remote") {
			points += weightRemote
			reasons = append(reasons, "remote position")
		}
	}

	wanted := strings.ToLower(prefs.Seniority + " " + strings.Join(prefs.JobTitles, " "))
	for _, level := range seniorityLevels {
		if containsWord(title, level) && containsWord(wanted, level) {
			points += weightSeniority
			reasons = append(reasons, level+" level")
			break
		}
	}

	return model.MatchResult{
		Posting: p,
		Score:   float64(min(points, 100)) / 100,
		Reasons: reasons,
	}
}

// overlap reports the first candidate that is a case-insensitive substring
// of s or has s as a substring.
func overlap(s string, candidates []string) (string, bool) {
	if s = strings.TrimSpace(s); s == "" {
		return "", false
	}
	for _, c := range candidates {
		lc := strings.ToLower(strings.TrimSpace(c))
		if lc == "" {
			continue
		}
		if strings.Contains(s, lc) || strings.Contains(lc, s) {
			return c, true
		}
	}
	return "", false
}

func containsWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if f == word {
			return true
		}
	}
	return false
}
