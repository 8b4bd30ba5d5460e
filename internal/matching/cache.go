package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"jobmate/pipeline/internal/model"
)

// DefaultCacheTTL is how long a scored (posting, user) pair is trusted.
const DefaultCacheTTL = 7 * 24 * time.Hour

// Entry is one cached scoring decision: the service result and whether it
// cleared the threshold when it was computed.
type Entry struct {
	Result   model.MatchResult `json:"result"`
	Retained bool              `json:"retained"`
}

// Cache stores scoring decisions per (posting, user). A cached entry is used
// as-is; it is never merged with a fresh score.
type Cache interface {
	Get(ctx context.Context, postingID, userID string) (*Entry, bool, error)
	Set(ctx context.Context, postingID, userID string, e Entry, ttl time.Duration) error
}

// RedisCache keeps entries as JSON strings with a TTL.
type RedisCache struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisCache(rdb redis.Cmdable) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: "match"}
}

func (c *RedisCache) key(postingID, userID string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, userID, postingID)
}

func (c *RedisCache) Get(ctx context.Context, postingID, userID string) (*Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(postingID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &e, true, nil
}

func (c *RedisCache) Set(ctx context.Context, postingID, userID string, e Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(postingID, userID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// MemoryCache is an in-process Cache for offline runs without Redis.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	e       Entry
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, postingID, userID string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := userID + ":" + postingID
	e, ok := c.entries[k]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, k)
		return nil, false, nil
	}
	out := e.e
	return &out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, postingID, userID string, e Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID+":"+postingID] = memoryEntry{e: e, expires: c.now().Add(ttl)}
	return nil
}
