/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import "context"

// Loader loads a resource by its key. Load may be slow or blocking
// (subprocess, disk or network I/O); the scheduler always invokes it
// off its own lock, on a worker goroutine. Timeouts are the Loader's
// responsibility, the scheduler never cancels a dispatched call.
type Loader[K comparable, V any] interface {
	Load(ctx context.Context, key K) (V, error)
}

// LoaderFunc is an adapter to allow the use of ordinary functions as Loader.
type LoaderFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Load is a part of Loader interface.
func (f LoaderFunc[K, V]) Load(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Store is an optional persistent cache consulted opportunistically:
// read before invoking the Loader, written best-effort after a successful load.
// The in-memory cache is always checked first as the fast path.
type Store[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool, error)
	Set(ctx context.Context, key K, value V) error
}
