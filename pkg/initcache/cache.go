// Package initcache implements the bounded, single-flighted cache the
// segment fetcher uses to avoid re-fetching fMP4 init segments: one
// upstream fetch per (url, byte-range) key no matter how many
// concurrent segment requests reference it.
package initcache

import (
	"container/list"
	"context"
	"sync"
)

// FetchFunc retrieves the bytes for a cache miss. It is invoked at
// most once per key per cold cache, regardless of how many concurrent
// Get calls race on that key.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache is the init-segment cache contract. Implementations never
// time out entries: init segments are immutable for a given
// (url, byte-range), so only capacity drives eviction.
type Cache interface {
	// Get returns the cached bytes for key, fetching them via fetch
	// on a miss. Concurrent Get calls for the same key while a fetch
	// is in flight all observe the same fetch's result.
	Get(ctx context.Context, key string, fetch FetchFunc) ([]byte, error)

	// Stats reports current occupancy, for diagnostics/health checks.
	Stats() Stats
}

// Stats summarizes cache occupancy and hit behavior.
type Stats struct {
	Size      int
	Capacity  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Key builds the composite cache key from a URL and an optional
// normalized byte range string ("" when absent). The segment handler
// passes the range in HTTP Range form, "bytes=start-end".
func Key(url, byteRange string) string {
	if byteRange == "" {
		return url
	}
	return url + "#" + byteRange
}

// entry is one completed LRU node.
type entry struct {
	key   string
	bytes []byte
}

// inflight is a single-flight promise: the leader goroutine populates
// result and closes done exactly once; waiters block on done.
type inflight struct {
	done  chan struct{}
	bytes []byte
	err   error
}

// LRUCache is the default in-process Cache implementation: a bounded
// map plus a doubly linked list tracking recency, guarded by a mutex
// whose critical sections are O(1) — the actual upstream fetch runs
// outside the lock so contention stays low even under heavy segment
// traffic.
type LRUCache struct {
	capacity int

	mu        sync.Mutex
	ll        *list.List // most-recently-used at the front
	items     map[string]*list.Element
	inflights map[string]*inflight

	hits      int64
	misses    int64
	evictions int64
}

// NewLRUCache creates an LRUCache bounded to capacity entries.
// capacity <= 0 is treated as 1.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRUCache{
		capacity:  capacity,
		ll:        list.New(),
		items:     make(map[string]*list.Element),
		inflights: make(map[string]*inflight),
	}
}

// Get implements Cache.
func (c *LRUCache) Get(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		bytes := el.Value.(*entry).bytes
		c.mu.Unlock()
		return bytes, nil
	}

	if fl, ok := c.inflights[key]; ok {
		// A fetch for this key is already running; wait for its
		// result instead of starting a second upstream request.
		c.mu.Unlock()
		return waitInflight(ctx, fl)
	}

	// Cold: become the single-flight leader.
	fl := &inflight{done: make(chan struct{})}
	c.inflights[key] = fl
	c.misses++
	c.mu.Unlock()

	bytes, err := fetch(ctx)

	c.mu.Lock()
	delete(c.inflights, key)
	if err == nil {
		c.insertLocked(key, bytes)
	}
	c.mu.Unlock()

	fl.bytes, fl.err = bytes, err
	close(fl.done)

	return bytes, err
}

// waitInflight blocks until the in-flight leader publishes a result,
// or ctx is done. A caller's cancellation never cancels the leader's
// own fetch — other waiters, or a future leader, may still need it.
func waitInflight(ctx context.Context, fl *inflight) ([]byte, error) {
	select {
	case <-fl.done:
		return fl.bytes, fl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *LRUCache) insertLocked(key string, bytes []byte) {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry).bytes = bytes
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, bytes: bytes})
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
		c.evictions++
	}
}

// Stats implements Cache.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.ll.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
