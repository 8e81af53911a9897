package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Staleness windows for the data the UI keeps around.
const (
	TTLCatalog    = 10 * time.Minute
	TTLSimilarity = 15 * time.Minute
	TTLStatus     = 30 * time.Second
	TTLLogs       = 15 * time.Second
)

// Fetcher loads a value on cache miss.
type Fetcher func(ctx context.Context) (any, error)

// Options tunes a single Get.
type Options struct {
	TTL time.Duration
	// Retries is the number of additional fetch attempts after the first
	// fails. Zero means the default of one retry; negative disables retries.
	// Concurrent Gets for the same key collapse into one fetch, so the
	// retry budget of the caller that starts the fetch governs every
	// waiter that joins it.
	Retries int
}

type entry struct {
	value   any
	expires time.Time
}

func (e entry) fresh(now time.Time) bool {
	return now.Before(e.expires)
}

// Cache is a TTL cache shared by the UI coordinators. Concurrent Gets for the
// same key collapse into one fetch; a stale value is served when a refresh
// fails and only keys with no prior value ever surface fetch errors. A write
// that resolves after Clear or Invalidate is dropped, so a purge is never
// undone by a fetch that was already in flight.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	epoch   uint64
	group   singleflight.Group
	now     func() time.Time
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for key, fetching it when missing or stale.
func (c *Cache) Get(ctx context.Context, key string, fetch Fetcher, opts Options) (any, error) {
	if opts.TTL <= 0 {
		opts.TTL = TTLCatalog
	}
	retries := opts.Retries
	if retries == 0 {
		retries = 1
	}
	if retries < 0 {
		retries = 0
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && e.fresh(c.now()) {
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Another waiter may have refreshed the entry while we queued.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && e.fresh(c.now()) {
			c.mu.Unlock()
			return e.value, nil
		}
		epoch := c.epoch
		c.mu.Unlock()

		var fetched any
		var fetchErr error
		for attempt := 0; attempt <= retries; attempt++ {
			if ctx.Err() != nil {
				fetchErr = ctx.Err()
				break
			}
			fetched, fetchErr = fetch(ctx)
			if fetchErr == nil {
				break
			}
		}
		if fetchErr != nil {
			// Serve the stale value when one exists.
			c.mu.Lock()
			e, ok := c.entries[key]
			c.mu.Unlock()
			if ok {
				slog.Warn("cache refresh failed, serving stale value", "key", key, "err", fetchErr)
				return e.value, nil
			}
			return nil, fetchErr
		}
		c.mu.Lock()
		// The cache may have been purged during the awaited gap; storing
		// anyway would resurrect data the purge meant to drop.
		if c.epoch == epoch {
			c.entries[key] = entry{value: fetched, expires: c.now().Add(opts.TTL)}
		}
		c.mu.Unlock()
		return fetched, nil
	})
	return value, err
}

// Poll refreshes key every interval until ctx is cancelled. An existing value
// is replaced in place only when a refresh succeeds, so consumers never see
// the entry flash empty. The first refresh runs immediately.
func (c *Cache) Poll(ctx context.Context, key string, interval time.Duration, fetch Fetcher) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		c.refresh(ctx, key, interval, fetch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.refresh(ctx, key, interval, fetch)
			}
		}
	}()
}

func (c *Cache) refresh(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	value, err := fetch(ctx)
	if err != nil {
		slog.Warn("poll refresh failed, keeping previous value", "key", key, "err", err)
		return
	}
	c.mu.Lock()
	if c.epoch == epoch {
		c.entries[key] = entry{value: value, expires: c.now().Add(ttl)}
	}
	c.mu.Unlock()
}

// Peek returns the cached value without fetching; ok reports presence,
// stale entries included.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Invalidate drops every entry whose key matches the predicate. In-flight
// fetches started before the call will not be stored.
func (c *Cache) Invalidate(pred func(key string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for key := range c.entries {
		if pred(key) {
			delete(c.entries, key)
		}
	}
}

// Clear drops every entry. In-flight fetches started before the call will
// not be stored.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries = make(map[string]entry)
}
