package matching_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline/internal/matching"
	"jobmate/pipeline/internal/model"
)

func TestHeuristicScore_RemoteBackendExample(t *testing.T) {
	p := model.Posting{ID: "1", Title: "Senior Backend Developer", Location: "Remote"}
	prefs := model.Preferences{JobTitles: []string{"Backend Developer"}, RemoteOnly: true}

	r := matching.HeuristicScore(p, prefs)

	assert.GreaterOrEqual(t, r.Score, 0.7)
	assert.NotEmpty(t, r.Reasons)
	assert.Equal(t, p, r.Posting)
}

func TestHeuristicScore_Deterministic(t *testing.T) {
	p := model.Posting{Title: "Lead Go Engineer", Location: "Paris, France", Description: "Hybrid, some remote days"}
	prefs := model.Preferences{JobTitles: []string{"go engineer"}, Locations: []string{"Paris"}, RemoteOnly: true, Seniority: "lead"}

	first := matching.HeuristicScore(p, prefs)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, matching.HeuristicScore(p, prefs))
	}
	assert.Equal(t, 1.0, first.Score)
	assert.Len(t, first.Reasons, 4)
}

func TestHeuristicScore_Weights(t *testing.T) {
	cases := []struct {
		name  string
		p     model.Posting
		prefs model.Preferences
		want  float64
	}{
		{"nothing", model.Posting{Title: "Chef"}, model.Preferences{JobTitles: []string{"Developer"}}, 0},
		{"title either direction", model.Posting{Title: "Developer"}, model.Preferences{JobTitles: []string{"Senior Developer"}}, 0.4},
		{"location only", model.Posting{Title: "Chef", Location: "Lyon 3e"}, model.Preferences{Locations: []string{"lyon"}}, 0.3},
		{"remote in description", model.Posting{Title: "Chef", Description: "Fully REMOTE"}, model.Preferences{RemoteOnly: true}, 0.2},
		{"remote ignored without preference", model.Posting{Title: "Chef", Location: "Remote"}, model.Preferences{}, 0},
		{"seniority", model.Posting{Title: "Staff Chef"}, model.Preferences{Seniority: "staff"}, 0.1},
		{"seniority word boundary", model.Posting{Title: "Staffing Chef"}, model.Preferences{Seniority: "staff"}, 0},
		{"empty title matches nothing", model.Posting{}, model.Preferences{JobTitles: []string{"Developer"}}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.InDelta(t, c.want, matching.HeuristicScore(c.p, c.prefs).Score, 1e-9)
		})
	}
}

func TestHeuristicScore_DoesNotMutatePreferences(t *testing.T) {
	locs := make([]string, 1, 4)
	locs[0] = "Paris"
	prefs := model.Preferences{Locations: locs, RemoteOnly: true}

	matching.HeuristicScore(model.Posting{Title: "x", Location: "Remote"}, prefs)

	assert.Equal(t, []string{"Paris"}, prefs.Locations)
	assert.Equal(t, "", locs[:2][1])
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := matching.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "p", "u", matching.Entry{Result: model.MatchResult{Score: 0.7}, Retained: true}, 20*time.Millisecond))

	e, ok, err := c.Get(ctx, "p", "u")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.7, e.Result.Score, 1e-9)
	assert.True(t, e.Retained)

	time.Sleep(30 * time.Millisecond)
	_, ok, err = c.Get(ctx, "p", "u")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_TTLAndMiss(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "p", "u")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "p", "u", matching.Entry{Result: model.MatchResult{Score: 0.9, Reasons: []string{"x"}}, Retained: true}, matching.DefaultCacheTTL))
	assert.True(t, mr.Exists("match:u:p"))
	assert.Equal(t, matching.DefaultCacheTTL, mr.TTL("match:u:p"))

	mr.FastForward(matching.DefaultCacheTTL + time.Second)
	_, ok, err = cache.Get(ctx, "p", "u")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_CorruptValueIsError(t *testing.T) {
	cache, mr := newRedisCache(t)
	require.NoError(t, mr.Set("match:u:p", "{not json"))

	_, ok, err := cache.Get(context.Background(), "p", "u")
	assert.Error(t, err)
	assert.False(t, ok)
}
