package scryfall

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Cache stores enrichment results by Scryfall ID. Entries never expire:
// published card metadata does not change.
type Cache interface {
	Get(ctx context.Context, id string) (*Enrichment, bool)
	Put(ctx context.Context, id string, e Enrichment)
}

// MemoryCache is the in-process default.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]Enrichment
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]Enrichment{}}
}

func (c *MemoryCache) Get(_ context.Context, id string) (*Enrichment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return &e, true
}

func (c *MemoryCache) Put(_ context.Context, id string, e Enrichment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = e
}

const redisKeyPrefix = "scryfall:"

// RedisCache shares enrichment results across restarts and processes.
// Misses and marshal errors degrade to a cache miss; the caller falls back
// to the upstream fetch.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// ConnectRedis creates a Redis client from a URL.
func ConnectRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func (c *RedisCache) Get(ctx context.Context, id string) (*Enrichment, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err != nil {
		return nil, false
	}
	var e Enrichment
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	return &e, true
}

func (c *RedisCache) Put(ctx context.Context, id string, e Enrichment) {
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	c.client.Set(ctx, redisKeyPrefix+id, raw, 0)
}
