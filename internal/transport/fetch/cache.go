package fetch

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache is the optional shared cache for idempotent REST pages
// (symbol-mapper misses, OI/funding snapshots) that multiple ingestion
// processes can share (DOMAIN STACK: go-redis/v9, generalized from the
// teacher's per-provider hot cache to a shared Redis layer). A nil client
// makes every call a clean miss, so the fetcher works without Redis
// configured.
type ResponseCache struct {
	client *redis.Client
}

func NewResponseCache(client *redis.Client) *ResponseCache {
	return &ResponseCache{client: client}
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.client == nil {
		return nil, false
	}
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.client == nil {
		return
	}
	_ = c.client.Set(ctx, key, value, ttl).Err()
}
