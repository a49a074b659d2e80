// Package profiles resolves author metadata for feed consumers. Lookups go
// through a pluggable cache; misses fall back to querying the sources for
// the author's newest profile record.
package profiles

import (
	"context"
	"sync"

	"github.com/lensfeed/lensfeed/internal/models"
)

// Cache stores resolved profiles keyed by author.
type Cache interface {
	Get(ctx context.Context, author string) (models.Profile, bool)
	Put(ctx context.Context, p models.Profile)
}

// MemCache is a process-local profile cache. Entries never expire.
type MemCache struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewMemCache() *MemCache {
	return &MemCache{profiles: make(map[string]models.Profile)}
}

func (c *MemCache) Get(_ context.Context, author string) (models.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[author]
	return p, ok
}

func (c *MemCache) Put(_ context.Context, p models.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.Author] = p
}
