package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCache implements a thread-safe in-memory cache with TTL and indexing support.
type MemoryCache[K comparable, V any] struct {
	mu sync.RWMutex

	ttl time.Duration
	now func() time.Time

	data map[K]entry[V]

	// extractors stores function to extract index values from items
	extractors map[string]func(V) any

	// indices stores the index data: indexName -> indexValue -> set of keys
	indices map[string]map[any]map[K]struct{}

	hits, misses, evictions int64
}

// Option configures a MemoryCache.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL sets the default TTL applied by Set.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewMemoryCache creates a new instance of MemoryCache
func NewMemoryCache[K comparable, V any](opts ...Option) *MemoryCache[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryCache[K, V]{
		ttl:        o.ttl,
		now:        o.now,
		data:       make(map[K]entry[V]),
		extractors: make(map[string]func(V) any),
		indices:    make(map[string]map[any]map[K]struct{}),
	}
}

// TTL returns the default TTL.
func (c *MemoryCache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Set adds or updates an item using the default TTL.
func (c *MemoryCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL adds or updates an item; ttl <= 0 means no expiry.
func (c *MemoryCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := c.data[key]; exists {
		c.removeFromIndexes(key, old.value)
	}

	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = e
	c.addToIndexes(key, value)
}

// Get retrieves a live item from the cache. Expired items are dropped lazily.
func (c *MemoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if ok && e.expired(c.now()) {
		c.deleteLocked(key, e)
		c.evictions++
		ok = false
	}
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Del removes an item from the cache
func (c *MemoryCache[K, V]) Del(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.data[key]; exists {
		c.deleteLocked(key, e)
	}
}

// Len returns the number of live items
func (c *MemoryCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0
	for _, e := range c.data {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Clear removes all items from the cache
func (c *MemoryCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[K]entry[V])
	c.indices = make(map[string]map[any]map[K]struct{})
	for name := range c.extractors {
		c.indices[name] = make(map[any]map[K]struct{})
	}
}

// Purge removes expired items and returns how many were dropped.
func (c *MemoryCache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.data {
		if e.expired(now) {
			c.deleteLocked(k, e)
			n++
		}
	}
	c.evictions += int64(n)
	return n
}

// StartJanitor purges expired items every interval until ctx is done.
func (c *MemoryCache[K, V]) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Purge()
			}
		}
	}()
}

// Stats returns hit/miss counters.
func (c *MemoryCache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: len(c.data)}
}

// AddIndex registers a new secondary index
func (c *MemoryCache[K, V]) AddIndex(name string, extractor func(V) any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.extractors[name] = extractor
	c.indices[name] = make(map[any]map[K]struct{})

	for k, e := range c.data {
		c.addIndexEntry(name, extractor(e.value), k)
	}
}

// Find retrieves live items matching the index value
func (c *MemoryCache[K, V]) Find(indexName string, indexValue any) ([]V, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.extractors[indexName]; !ok {
		return nil, ErrIndexNotFound
	}

	now := c.now()
	keySet := c.indices[indexName][indexValue]
	results := make([]V, 0, len(keySet))
	for k := range keySet {
		if e, exists := c.data[k]; exists && !e.expired(now) {
			results = append(results, e.value)
		}
	}
	return results, nil
}

// DelByIndex removes every item matching the index value and returns their keys.
func (c *MemoryCache[K, V]) DelByIndex(indexName string, indexValue any) ([]K, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.extractors[indexName]; !ok {
		return nil, ErrIndexNotFound
	}

	keySet := c.indices[indexName][indexValue]
	keys := make([]K, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	for _, k := range keys {
		c.deleteLocked(k, c.data[k])
	}
	return keys, nil
}

// Internal helper methods (assumes lock is held)

func (c *MemoryCache[K, V]) deleteLocked(key K, e entry[V]) {
	c.removeFromIndexes(key, e.value)
	delete(c.data, key)
}

func (c *MemoryCache[K, V]) addToIndexes(key K, value V) {
	for name, extractor := range c.extractors {
		c.addIndexEntry(name, extractor(value), key)
	}
}

func (c *MemoryCache[K, V]) removeFromIndexes(key K, value V) {
	for name, extractor := range c.extractors {
		val := extractor(value)
		if index, ok := c.indices[name]; ok {
			if keySet, ok := index[val]; ok {
				delete(keySet, key)
				if len(keySet) == 0 {
					delete(index, val)
				}
			}
		}
	}
}

func (c *MemoryCache[K, V]) addIndexEntry(indexName string, indexValue any, key K) {
	index := c.indices[indexName]
	if _, ok := index[indexValue]; !ok {
		index[indexValue] = make(map[K]struct{})
	}
	index[indexValue][key] = struct{}{}
}

var _ Indexed[string, int] = (*MemoryCache[string, int])(nil)
