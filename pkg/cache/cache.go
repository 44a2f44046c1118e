// Package cache provides an explicit, process-local cache component.
//
// Caches are constructed once and passed to the components that need them;
// entries expire after their TTL and can be invalidated by key or by a
// secondary index (for example every entry that belongs to one store).
package cache

import (
	"errors"
	"time"
)

// ErrIndexNotFound is returned when querying a non-existent index
var ErrIndexNotFound = errors.New("index not found")

// Cache defines the basic interface for a generic cache
type Cache[K comparable, V any] interface {
	// Set adds or updates an item using the default TTL
	Set(key K, value V)
	// SetWithTTL adds or updates an item; ttl <= 0 means no expiry
	SetWithTTL(key K, value V, ttl time.Duration)
	// Get retrieves a live item from the cache
	Get(key K) (V, bool)
	// Del removes an item from the cache
	Del(key K)
	// Len returns the number of live items
	Len() int
	// Clear removes all items from the cache
	Clear()
}

// Indexed extends Cache with secondary indexes used for invalidation.
type Indexed[K comparable, V any] interface {
	Cache[K, V]

	// AddIndex registers a new secondary index
	AddIndex(name string, extractor func(V) any)
	// Find retrieves live items matching the index value
	Find(indexName string, indexValue any) ([]V, error)
	// DelByIndex removes every item matching the index value and returns their keys
	DelByIndex(indexName string, indexValue any) ([]K, error)
}

// Stats 缓存命中统计。
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}
