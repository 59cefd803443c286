/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package ondemand implements an on-demand resource loading scheduler:
// a priority-ordered deduplicated request queue, a cooperative dispatch loop
// with a concurrency cap, and a prefetch planner that enqueues low-priority
// neighbors of the current focus.
//
// Loaded values are written into a boundedcache.LRUCache and, opportunistically,
// into a persistent Store. Completions are delivered as typed events.
package ondemand
