package app

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline/internal/config"
	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/matching"
	"jobmate/pipeline/internal/model"
	"jobmate/pipeline/internal/pipeline"
	"jobmate/pipeline/internal/queue"
	"jobmate/pipeline/internal/scraper"
)

func TestOfflineProviders(t *testing.T) {
	cfg := &config.Config{ScraperMode: config.ModeOffline, QueueBackend: config.QueueMemory}
	log := logging.NewNop()

	boards := provideBoards(cfg, log)
	require.Len(t, boards, 2)
	assert.Equal(t, model.SourceAdzuna, boards[0].Name())
	assert.Equal(t, model.SourceReddit, boards[1].Name())

	company, err := provideCompanySource(cfg)
	require.NoError(t, err)
	assert.IsType(t, &scraper.OfflineSource{}, company)

	assert.IsType(t, &queue.MemoryQueue{}, provideQueue(cfg, nil))
	assert.IsType(t, &matching.MemoryCache{}, provideCache(nil))
	assert.IsType(t, matching.Unavailable{}, provideCompleter(cfg, log))
	assert.IsType(t, pipeline.LogNotifier{}, provideNotifier(nil, log))
}

func TestLiveProvidersWithoutCredentials(t *testing.T) {
	cfg := &config.Config{ScraperMode: config.ModeLive}
	cfg.Reddit.Subreddits = []string{"forhire"}
	cfg.Reddit.UserAgent = "test"
	cfg.OpenAI.APIKey = "sk-test"

	boards := provideBoards(cfg, logging.NewNop())
	require.Len(t, boards, 1, "adzuna needs credentials, reddit falls back to read-only")
	assert.Equal(t, model.SourceReddit, boards[0].Name())

	company, err := provideCompanySource(cfg)
	require.NoError(t, err)
	assert.IsType(t, &scraper.CareerPageSource{}, company)

	assert.IsType(t, &matching.OpenAICompleter{}, provideCompleter(cfg, logging.NewNop()))
}

func TestRedisBackedProviders(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{QueueBackend: config.QueueRedis}
	assert.IsType(t, &queue.RedisQueue{}, provideQueue(cfg, rdb))
	assert.IsType(t, &matching.RedisCache{}, provideCache(rdb))
	assert.IsType(t, &pipeline.RedisNotifier{}, provideNotifier(rdb, logging.NewNop()))

	cfg.QueueBackend = config.QueueMemory
	assert.IsType(t, &queue.MemoryQueue{}, provideQueue(cfg, rdb))
}
