package reqcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher performs the underlying request. The context it receives is
// shared by all callers waiting on the same key and is cancelled only
// once every one of them has given up.
type Fetcher func(ctx context.Context) (any, error)

type entry struct {
	key       string
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

func (e *entry) fresh(now time.Time) bool {
	return now.Sub(e.fetchedAt) < e.ttl
}

// flight tracks the callers waiting on one in-flight fetch
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Cache memoizes request results per key for a TTL and collapses
// concurrent requests for the same key into a single fetch.
// Entries are replaced whole; readers never see a partial entry.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	flights map[string]*flight
	group   singleflight.Group
	now     func() time.Time
	// called after a fetch has been recorded, before the call completes
	fetched func(key string)
}

// flightResult tags a fetch result with the flight that ran it
type flightResult struct {
	owner *flight
	value any
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		flights: make(map[string]*flight),
		now:     time.Now,
	}
}

// GetOrFetch returns the cached value for key if it is younger than ttl,
// otherwise joins or starts a fetch. Failed fetches are not cached.
// If ctx is done before the fetch completes, GetOrFetch returns ctx.Err()
// while the fetch continues for any remaining waiters.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) (any, error) {
	v, stale, err := c.getOrFetch(ctx, key, ttl, fetch)
	if stale {
		// joined a call that had already failed for an earlier flight
		v, _, err = c.getOrFetch(ctx, key, ttl, fetch)
	}
	return v, err
}

func (c *Cache) getOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) (any, bool, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.fresh(c.now()) {
		c.mu.Unlock()
		return e.value, false, nil
	}
	f, ok := c.flights[key]
	if !ok {
		// detach from the first caller so that its cancellation alone
		// does not abort the fetch for others
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	// joining under the lock orders registration against the fetch
	// recording its result. A caller can still land on a call that has
	// already finished for an earlier flight; the owner tag detects it.
	ch := c.group.DoChan(key, func() (any, error) {
		v, err := fetch(f.ctx)
		c.mu.Lock()
		if err == nil {
			c.entries[key] = &entry{key: key, value: v, fetchedAt: c.now(), ttl: ttl}
		}
		if c.flights[key] == f {
			delete(c.flights, key)
		}
		c.mu.Unlock()
		if c.fetched != nil {
			c.fetched(key)
		}
		return flightResult{owner: f, value: v}, err
	})
	c.mu.Unlock()

	select {
	case res := <-ch:
		c.release(key, f, false)
		fr, _ := res.Val.(flightResult)
		if res.Err != nil && fr.owner != f {
			return nil, true, res.Err
		}
		return fr.value, false, res.Err
	case <-ctx.Done():
		c.release(key, f, true)
		return nil, false, ctx.Err()
	}
}

// release drops one waiter. When the last waiter abandons, the fetch
// context is cancelled and the key is forgotten so that the next caller
// starts a fresh fetch instead of joining the aborted one.
func (c *Cache) release(key string, f *flight, abandoned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
		if abandoned {
			c.group.Forget(key)
		}
	}
}

// size returns the number of stored entries, fresh or stale
func (c *Cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Get is a typed wrapper around GetOrFetch
func Get[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("cache entry %s has type %T", key, v)
	}
	return t, nil
}
