package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/fleet-tracker/internal/models"
)

// Cache is a tiny in-memory TTL cache for resolved routes keyed by the
// (origin, destination) pair. Straight-line fallbacks are never stored.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  models.RoutePlan
	ts time.Time
}

// NewCache returns nil for ttl <= 0; a nil *Cache is a valid no-op cache.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		return nil
	}
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (models.RoutePlan, bool) {
	if c == nil {
		return models.RoutePlan{}, false
	}
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return models.RoutePlan{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return models.RoutePlan{}, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v models.RoutePlan) {
	if c == nil || v.Provenance != models.ProvenanceRouted {
		return
	}
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
