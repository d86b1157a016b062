package twingraph

import (
	"sync"
	"time"
)

// A ttlCache is a keyed cache whose entries expire after a fixed time-to-live.
// The clock is injected so tests can advance time without sleeping, and the
// cache is owned by its registry instance rather than being process-wide, so
// registries serving different namespaces never share state.
//
// A TTL of zero disables caching entirely: every get misses and every put is
// discarded, sending all lookups to the storage engine.
//
// A ttlCache is safe for concurrent use.
type ttlCache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu sync.Mutex
	m  map[string]ttlEntry[V]
}

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

func newTTLCache[V any](ttl time.Duration, now func() time.Time) *ttlCache[V] {
	if now == nil {
		now = time.Now
	}
	return &ttlCache[V]{
		ttl: ttl,
		now: now,
		m:   make(map[string]ttlEntry[V]),
	}
}

func (c *ttlCache[V]) get(key string) (v V, ok bool) {
	if c.ttl == 0 {
		return v, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.m[key]
	if !ok {
		return v, false
	}
	if !c.now().Before(entry.expires) {
		// Expired entries are evicted lazily on access.
		delete(c.m, key)
		return v, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) put(key string, value V) {
	if c.ttl == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = ttlEntry[V]{value: value, expires: c.now().Add(c.ttl)}
}

func (c *ttlCache[V]) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}
