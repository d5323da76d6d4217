package cache

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	value     string
	counter   int64
	expiresAt time.Time
}

// LocalCache is the single-process Cache used when no Redis URL is configured.
// Leases only exclude pollers within the same process.
type LocalCache struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	now     func() time.Time
}

func NewLocalCache() *LocalCache {
	return &LocalCache{entries: make(map[string]*localEntry), now: time.Now}
}

// live returns the entry for key, evicting it if expired. Caller holds mu.
func (c *LocalCache) live(key string) *localEntry {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *LocalCache) Ping(context.Context) error { return nil }

func (c *LocalCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(key)
	if e == nil {
		e = &localEntry{}
		c.entries[key] = e
	}
	e.counter++
	e.expiresAt = c.now().Add(expiry)
	return e.counter, nil
}

func (c *LocalCache) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.live(key); e != nil {
		return e.value == owner, nil
	}
	c.entries[key] = &localEntry{value: owner, expiresAt: c.now().Add(ttl)}
	return true, nil
}

func (c *LocalCache) RenewLease(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.live(key)
	if e == nil || e.value != owner {
		return false, nil
	}
	e.expiresAt = c.now().Add(ttl)
	return true, nil
}

func (c *LocalCache) ReleaseLease(_ context.Context, key, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e := c.live(key); e != nil && e.value == owner {
		delete(c.entries, key)
	}
	return nil
}

func (c *LocalCache) Close() error { return nil }
