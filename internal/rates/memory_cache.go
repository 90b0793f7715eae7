package rates

import (
	"context"
	"sync"
	"time"
)

// MemoryCache é um cache em processo com TTL fixo.
type MemoryCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]Quote
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, items: make(map[string]Quote)}
}

func (c *MemoryCache) Get(_ context.Context, asset string) (Quote, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.items[asset]
	if !ok || c.now().Sub(q.FetchedAt) >= c.ttl {
		return Quote{}, false, nil
	}
	return q, true, nil
}

func (c *MemoryCache) Set(_ context.Context, q Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[q.Asset] = q
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, asset string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, asset)
	return nil
}
