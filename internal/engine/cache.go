package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedAudio is one stored online synthesis result.
type CachedAudio struct {
	Audio       []byte `json:"audio"`
	RequestID   string `json:"request_id"`
	RawResponse string `json:"raw_response,omitempty"`
}

// Cache stores online synthesis results keyed by text and voice parameters.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*CachedAudio, bool)
	Set(ctx context.Context, key string, entry *CachedAudio)
}

// CacheKey derives a stable key from the text and the parameter snapshot it
// was synthesized with.
func CacheKey(text string, snapshot map[string]any) string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(text))
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%v", k, snapshot[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

const audioCacheTTL = 24 * time.Hour

// RedisCache keeps synthesized audio in redis. Failures degrade to cache
// misses.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewRedisCache(client *redis.Client, log *slog.Logger) *RedisCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{
		redis: client,
		ttl:   audioCacheTTL,
		log:   log.With("component", "audio-cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CachedAudio, bool) {
	data, err := c.redis.Get(ctx, "ttskit:audio:"+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Warn("cache read failed", "error", err)
		return nil, false
	}
	var entry CachedAudio
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.Warn("cache entry corrupt", "error", err)
		return nil, false
	}
	return &entry, true
}

func (c *RedisCache) Set(ctx context.Context, key string, entry *CachedAudio) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, "ttskit:audio:"+key, data, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", "error", err)
	}
}

// MemoryCache is an unbounded in-process cache, used in tests and cache-only
// deployments without redis.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*CachedAudio
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CachedAudio)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*CachedAudio, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, entry *CachedAudio) {
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}
