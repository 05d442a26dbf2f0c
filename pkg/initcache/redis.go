package initcache

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the init-segment cache with Redis so multiple
// proxy replicas behind a load balancer share an already-fetched init
// segment instead of each replica re-fetching it from origin.
// Single-flight coalescing is still enforced only within this
// process: Redis provides cross-replica reuse of completed fetches,
// not a distributed fetch lock.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string

	mu        sync.Mutex
	inflights map[string]*inflight

	hits   int64
	misses int64
}

// NewRedisCache creates a RedisCache using client, namespacing keys
// under keyPrefix.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		inflights: make(map[string]*inflight),
	}
}

// Get implements Cache. Entries never expire: they are set with no
// TTL, matching the in-process LRUCache's immutability assumption.
func (c *RedisCache) Get(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	fullKey := c.keyPrefix + key

	if data, err := c.client.Get(ctx, fullKey).Bytes(); err == nil {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return data, nil
	} else if err != redis.Nil {
		return nil, err
	}

	c.mu.Lock()
	if fl, ok := c.inflights[key]; ok {
		c.mu.Unlock()
		return waitInflight(ctx, fl)
	}
	fl := &inflight{done: make(chan struct{})}
	c.inflights[key] = fl
	c.misses++
	c.mu.Unlock()

	bytes, err := fetch(ctx)

	if err == nil {
		// 0 means no expiration in go-redis.
		if setErr := c.client.Set(ctx, fullKey, bytes, 0).Err(); setErr != nil {
			err = setErr
		}
	}

	c.mu.Lock()
	delete(c.inflights, key)
	c.mu.Unlock()

	fl.bytes, fl.err = bytes, err
	close(fl.done)

	return bytes, err
}

// Stats implements Cache. Size/Capacity/Evictions are not meaningful
// for a Redis-backed cache (eviction is Redis's own policy, not this
// process's), so only hit/miss counters observed by this replica are
// reported.
func (c *RedisCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}
