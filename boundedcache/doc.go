/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package boundedcache provides a generic in-memory LRU cache bounded by entry count
// and total byte size, and a registry of named caches used by the reaper package
// for periodic staleness sweeps.
package boundedcache
