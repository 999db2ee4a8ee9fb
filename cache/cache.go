package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/use-agent/marketfeed/models"
)

// entry holds a serialized payload with its creation timestamp.
// Entries are immutable once stored; Set replaces the whole value.
type entry struct {
	payload   []byte
	createdAt time.Time
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Enabled bool
	Size    int
	TTL     time.Duration
}

// Cache is a bounded, TTL-checked store for aggregated results.
// It is safe for concurrent use. Expired entries are dropped when read;
// there is no background sweeper.
type Cache struct {
	// mu orders writes against expired-entry removal.
	mu      sync.Mutex
	store   *lru.Cache[string, entry]
	ttl     time.Duration
	enabled bool
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache holding at most maxEntries results for ttl each.
// A disabled cache misses on every Get and ignores Set.
func New(enabled bool, ttl time.Duration, maxEntries int, opts ...Option) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	store, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		store:   store,
		ttl:     ttl,
		enabled: enabled,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key generates a cache key from the normalized, lower-cased query.
func Key(query string) string {
	normalized := strings.ToLower(models.NormalizeQuery(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the payload stored under key if it is younger than the TTL.
// An entry whose age reached the TTL is removed and reported as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil || !c.enabled {
		return nil, false
	}
	e, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.createdAt) >= c.ttl {
		c.dropStale(key, e.createdAt)
		return nil, false
	}
	return e.payload, true
}

// dropStale removes key only if it still holds the entry created at
// createdAt; a fresher entry stored meanwhile stays.
func (c *Cache) dropStale(key string, createdAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.store.Peek(key); ok && e.createdAt.Equal(createdAt) {
		c.store.Remove(key)
	}
}

// Set stores payload under key, timestamped now. When the cache is full the
// least recently used entry is evicted.
func (c *Cache) Set(key string, payload []byte) {
	if c == nil || !c.enabled {
		return
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.mu.Lock()
	c.store.Add(key, entry{payload: buf, createdAt: c.now()})
	c.mu.Unlock()
}

// Stats reports whether the cache is enabled, its current size and TTL.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Enabled: c.enabled, Size: c.store.Len(), TTL: c.ttl}
}
