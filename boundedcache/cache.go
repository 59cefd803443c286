/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package boundedcache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

type cacheEntry[K comparable, V any] struct {
	key         K
	value       V
	size        uint64
	insertedAt  time.Time
	lastAccess  time.Time
	accessCount uint64
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	EntriesAmount int
	TotalBytes    uint64
}

// LRUCache represents an LRU cache bounded by both entry count and total byte size,
// with Prometheus metrics and staleness-based reaping support.
//
// Eviction is strict LRU: while the cache is over any of its caps, the least recently
// used entry is removed regardless of how often it was accessed. The cache is
// infallible - an entry bigger than the byte cap is still admitted and may evict
// everything else.
type LRUCache[K comparable, V any] struct {
	maxEntries int
	maxBytes   uint64

	mu         sync.Mutex
	lruList    *list.List
	cache      map[K]*list.Element // map of cache entries, value is a lruList element
	totalBytes uint64

	hits      uint64
	misses    uint64
	evictions uint64

	metricsCollector MetricsCollector

	now func() time.Time // overridable in tests
}

// Options represents options for the cache.
type Options struct {
	// MaxBytes limits the total size of cached values (as reported by size hints).
	// Zero means no byte limit.
	MaxBytes uint64
}

// New creates a new LRUCache with the provided maximum number of entries and metrics collector.
func New[K comparable, V any](maxEntries int, metricsCollector MetricsCollector) (*LRUCache[K, V], error) {
	return NewWithOpts[K, V](maxEntries, metricsCollector, Options{})
}

// NewWithOpts creates a new LRUCache with the provided maximum number of entries, metrics collector, and options.
// Metrics collector is used to collect statistics about cache usage.
// It can be nil, in this case, metrics will be disabled.
func NewWithOpts[K comparable, V any](maxEntries int, metricsCollector MetricsCollector, opts Options) (*LRUCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}

	return &LRUCache[K, V]{
		maxEntries:       maxEntries,
		maxBytes:         opts.MaxBytes,
		lruList:          list.New(),
		cache:            make(map[K]*list.Element),
		metricsCollector: metricsCollector,
		now:              time.Now,
	}, nil
}

// Get returns a value from the cache by the provided key.
// A found entry is touched: it becomes the most recently used one,
// its last access time and access counter are updated.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, hit := c.cache[key]
	if !hit {
		c.misses++
		c.metricsCollector.IncMisses()
		return value, false
	}
	entry := elem.Value.(*cacheEntry[K, V])
	entry.lastAccess = c.now()
	entry.accessCount++
	c.lruList.MoveToFront(elem)
	c.hits++
	c.metricsCollector.IncHits()
	return entry.value, true
}

// Contains reports whether the key is present in the cache.
// Unlike Get, it does not touch the entry and does not affect hit/miss counters.
func (c *LRUCache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[key]
	return ok
}

// Add adds a value to the cache with the provided key and size hint.
// If any of the cache caps is exceeded afterwards, the least recently used
// entries are evicted until both caps are satisfied again.
func (c *LRUCache[K, V]) Add(key K, value V, sizeHint uint64) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		entry := elem.Value.(*cacheEntry[K, V])
		c.totalBytes -= entry.size
		entry.value = value
		entry.size = sizeHint
		entry.lastAccess = now
		c.totalBytes += sizeHint
		c.lruList.MoveToFront(elem)
	} else {
		c.cache[key] = c.lruList.PushFront(&cacheEntry[K, V]{
			key:        key,
			value:      value,
			size:       sizeHint,
			insertedAt: now,
			lastAccess: now,
		})
		c.totalBytes += sizeHint
	}

	c.evictWhileOverCaps()
	c.metricsCollector.SetAmount(len(c.cache))
	c.metricsCollector.SetBytes(c.totalBytes)
}

// Remove removes a value from the cache by the provided key.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.cache[key]
	if !ok {
		return false
	}

	c.removeElement(elem)
	c.metricsCollector.SetAmount(len(c.cache))
	c.metricsCollector.SetBytes(c.totalBytes)
	return true
}

// Purge clears the cache.
// All removed entries will not be counted as evictions.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[K]*list.Element)
	c.lruList.Init()
	c.totalBytes = 0
	c.metricsCollector.SetAmount(0)
	c.metricsCollector.SetBytes(0)
}

// Resize changes the cache entries cap and returns the number of evicted entries.
func (c *LRUCache[K, V]) Resize(size int) (evicted int) {
	if size <= 0 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.maxEntries = size
	evicted = c.evictWhileOverCaps()
	c.metricsCollector.SetAmount(len(c.cache))
	c.metricsCollector.SetBytes(c.totalBytes)
	return evicted
}

// Len returns the number of entries in the cache.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// TotalBytes returns the total size of cached values as reported by size hints.
func (c *LRUCache[K, V]) TotalBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// Stats returns a snapshot of the cache counters.
func (c *LRUCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		EntriesAmount: len(c.cache),
		TotalBytes:    c.totalBytes,
	}
}

// ReapStale removes entries that are both older than maxAge (since the last access)
// and were accessed fewer than minAccess times. Victims are collected first and
// removed in one pass. Implements the Reapable interface.
func (c *LRUCache[K, V]) ReapStale(maxAge time.Duration, minAccess uint64) (int, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*list.Element
	for _, elem := range c.cache {
		entry := elem.Value.(*cacheEntry[K, V])
		if now.Sub(entry.lastAccess) > maxAge && entry.accessCount < minAccess {
			victims = append(victims, elem)
		}
	}
	for _, elem := range victims {
		c.removeElement(elem)
		c.evictions++
	}
	if len(victims) != 0 {
		c.metricsCollector.SetAmount(len(c.cache))
		c.metricsCollector.SetBytes(c.totalBytes)
		c.metricsCollector.AddEvictions(len(victims))
	}
	return len(victims), nil
}

func (c *LRUCache[K, V]) evictWhileOverCaps() (evicted int) {
	for len(c.cache) > c.maxEntries || (c.maxBytes > 0 && c.totalBytes > c.maxBytes) {
		// An oversized single entry is admitted as is, never self-evicted.
		if c.lruList.Len() <= 1 {
			break
		}
		elem := c.lruList.Back()
		if elem == nil {
			break
		}
		c.removeElement(elem)
		c.evictions++
		evicted++
	}
	if evicted != 0 {
		c.metricsCollector.AddEvictions(evicted)
	}
	return evicted
}

func (c *LRUCache[K, V]) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry[K, V])
	c.lruList.Remove(elem)
	delete(c.cache, entry.key)
	c.totalBytes -= entry.size
}
