/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"sync"
)

// Prefetcher plans low-priority loads around the caller's current focus.
//
// Given a focus key and its ordered neighborhood, it enqueues every key within
// the configured radius that is neither cached nor in flight, at a fixed low
// priority with the "prefetch" source. The planning is a static radius window;
// it keeps a bounded history of recent focus changes but applies no predictive
// heuristics to it.
type Prefetcher[K comparable, V any] struct {
	sched *Scheduler[K, V]

	radius      int
	priority    int
	historySize int

	mu      sync.Mutex
	history []K
}

// NewPrefetcher creates a new Prefetcher bound to the given scheduler.
func NewPrefetcher[K comparable, V any](sched *Scheduler[K, V], cfg *PrefetchConfig) (*Prefetcher[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Prefetcher[K, V]{
		sched:       sched,
		radius:      cfg.Radius,
		priority:    cfg.Priority,
		historySize: cfg.HistorySize,
	}, nil
}

// Focus tells the prefetcher that the caller's interest moved to the given key
// within the passed ordered neighborhood. It returns the number of enqueued
// prefetch requests. A focus key missing from the neighborhood only updates
// the history.
func (p *Prefetcher[K, V]) Focus(focus K, neighborhood []K) int {
	p.recordFocus(focus)

	idx := -1
	for i, key := range neighborhood {
		if key == focus {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}

	lo := idx - p.radius
	if lo < 0 {
		lo = 0
	}
	hi := idx + p.radius
	if hi > len(neighborhood)-1 {
		hi = len(neighborhood) - 1
	}

	enqueued := 0
	for i := lo; i <= hi; i++ {
		if i == idx {
			continue
		}
		key := neighborhood[i]
		if p.sched.cache.Contains(key) {
			continue
		}
		// enqueue is a no-op for in-flight keys.
		if p.sched.enqueue(key, p.priority, SourcePrefetch) {
			enqueued++
		}
	}
	return enqueued
}

// History returns the most recent focus keys, oldest first.
func (p *Prefetcher[K, V]) History() []K {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]K, len(p.history))
	copy(res, p.history)
	return res
}

func (p *Prefetcher[K, V]) recordFocus(focus K) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, focus)
	if len(p.history) > p.historySize {
		p.history = p.history[len(p.history)-p.historySize:]
	}
}
