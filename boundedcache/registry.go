/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package boundedcache

import (
	"fmt"
	"sync"
	"time"
)

// Reapable is a minimal interface the registry requires of anything plugged in
// as a cache. LRUCache implements it; external cache-like collaborators may too.
type Reapable interface {
	// ReapStale removes entries older than maxAge (since the last access)
	// that were accessed fewer than minAccess times and returns the number of removed entries.
	ReapStale(maxAge time.Duration, minAccess uint64) (int, error)

	// Len returns the number of entries.
	Len() int
}

// Registry is a set of named caches visible to the reaper.
// Registration does not transfer ownership, only visibility.
//
// Registry is supposed to be constructed once and passed to consumers explicitly.
type Registry struct {
	mu     sync.RWMutex
	caches map[string]Reapable
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{caches: make(map[string]Reapable)}
}

// Register adds a cache under the given name.
// Registering a different cache under an already used name is an error.
func (r *Registry) Register(name string, cache Reapable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caches[name]; ok {
		return fmt.Errorf("cache %q is already registered", name)
	}
	r.caches[name] = cache
	return nil
}

// Unregister removes a cache by name. It reports whether the cache was registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caches[name]; !ok {
		return false
	}
	delete(r.caches, name)
	return true
}

// UnregisterAll removes all registered caches.
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches = make(map[string]Reapable)
}

// Len returns the number of registered caches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caches)
}

// ForEach calls fn for every registered cache.
// The registry lock is not held during fn calls, so fn may take as long as it needs;
// caches registered or unregistered concurrently may be missed or still visited.
func (r *Registry) ForEach(fn func(name string, cache Reapable)) {
	r.mu.RLock()
	names := make([]string, 0, len(r.caches))
	caches := make([]Reapable, 0, len(r.caches))
	for name, cache := range r.caches {
		names = append(names, name)
		caches = append(caches, cache)
	}
	r.mu.RUnlock()

	for i := range names {
		fn(names[i], caches[i])
	}
}
