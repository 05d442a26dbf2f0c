package initcache

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLRUCacheSingleFlight(t *testing.T) {
	c := NewLRUCache(8)

	var calls int32
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("init-bytes"), nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := c.Get(context.Background(), "k", fetch)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			results[i] = b
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 upstream fetch, got %d", got)
	}
	for i, b := range results {
		if !bytes.Equal(b, []byte("init-bytes")) {
			t.Fatalf("result %d = %q, want %q", i, b, "init-bytes")
		}
	}
}

func TestLRUCacheBound(t *testing.T) {
	c := NewLRUCache(4)

	fetch := func(v byte) FetchFunc {
		return func(ctx context.Context) ([]byte, error) {
			return []byte{v}, nil
		}
	}

	keys := []string{"a", "b", "c", "d", "e"}
	for i, k := range keys {
		if _, err := c.Get(context.Background(), k, fetch(byte(i))); err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
	}

	stats := c.Stats()
	if stats.Size != 4 {
		t.Fatalf("expected size 4, got %d", stats.Size)
	}
	if stats.Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", stats.Evictions)
	}

	// "a" was the least-recently-used entry when "e" was inserted, so
	// it should have been evicted: a fresh fetch call is required.
	var refetched bool
	if _, err := c.Get(context.Background(), "a", func(ctx context.Context) ([]byte, error) {
		refetched = true
		return []byte{0xaa}, nil
	}); err != nil {
		t.Fatalf("Get(a) after eviction: %v", err)
	}
	if !refetched {
		t.Fatal("expected \"a\" to have been evicted and require a refetch")
	}
}

func TestLRUCacheAccessMovesToFront(t *testing.T) {
	c := NewLRUCache(2)

	noop := func(v byte) FetchFunc {
		return func(ctx context.Context) ([]byte, error) { return []byte{v}, nil }
	}

	c.Get(context.Background(), "a", noop(1))
	c.Get(context.Background(), "b", noop(2))
	// Touch "a" so "b" becomes the least-recently-used entry.
	c.Get(context.Background(), "a", noop(1))
	c.Get(context.Background(), "c", noop(3))

	var bRefetched bool
	c.Get(context.Background(), "b", func(ctx context.Context) ([]byte, error) {
		bRefetched = true
		return []byte{2}, nil
	})
	if !bRefetched {
		t.Fatal("expected \"b\" to have been evicted instead of \"a\"")
	}
}

func TestLRUCacheFetchErrorPropagatesToAllWaiters(t *testing.T) {
	c := NewLRUCache(4)
	wantErr := errFetch{}

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Get(context.Background(), "bad", func(ctx context.Context) ([]byte, error) {
				return nil, wantErr
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != wantErr {
			t.Fatalf("waiter %d error = %v, want %v", i, err, wantErr)
		}
	}

	if c.Stats().Size != 0 {
		t.Fatal("a failed fetch must not populate the cache")
	}
}

type errFetch struct{}

func (errFetch) Error() string { return "fetch failed" }
