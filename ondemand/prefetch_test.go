/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mecondev/oncutf-sub002/config"
)

// newPrefetchScheduler builds a scheduler whose dispatch loop ticks so rarely
// that queued requests stay observable for the whole test.
func newPrefetchScheduler(t *testing.T) *Scheduler[string, string] {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.PollInterval = config.TimeDuration(time.Hour)
	return newTestScheduler(t, newTestLoader(), cfg, Opts[string, string]{})
}

func queuedKeys(s *Scheduler[string, string]) map[string]LoadRequest[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]LoadRequest[string], len(s.queue.byKey))
	for key, item := range s.queue.byKey {
		res[key] = item.req
	}
	return res
}

func neighborhoodOf(n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("item-%d", i)
	}
	return keys
}

func TestPrefetcher_FocusEnqueuesRadiusWindow(t *testing.T) {
	sched := newPrefetchScheduler(t)
	prefetcher, err := NewPrefetcher(sched, &PrefetchConfig{Radius: 2, Priority: PriorityPrefetch, HistorySize: 10})
	require.NoError(t, err)

	enqueued := prefetcher.Focus("item-5", neighborhoodOf(10))
	require.Equal(t, 4, enqueued)

	queued := queuedKeys(sched)
	require.Len(t, queued, 4)
	for _, key := range []string{"item-3", "item-4", "item-6", "item-7"} {
		req, ok := queued[key]
		require.True(t, ok, "expected %s to be queued", key)
		require.Equal(t, PriorityPrefetch, req.Priority)
		require.Equal(t, SourcePrefetch, req.Source)
	}
	// The focus itself is never prefetched.
	require.NotContains(t, queued, "item-5")
}

func TestPrefetcher_WindowIsClippedAtEdges(t *testing.T) {
	sched := newPrefetchScheduler(t)
	prefetcher, err := NewPrefetcher(sched, &PrefetchConfig{Radius: 2, Priority: PriorityPrefetch, HistorySize: 10})
	require.NoError(t, err)

	enqueued := prefetcher.Focus("item-0", neighborhoodOf(10))
	require.Equal(t, 2, enqueued)

	queued := queuedKeys(sched)
	require.Contains(t, queued, "item-1")
	require.Contains(t, queued, "item-2")
}

func TestPrefetcher_SkipsCachedAndInFlight(t *testing.T) {
	sched := newPrefetchScheduler(t)
	prefetcher, err := NewPrefetcher(sched, &PrefetchConfig{Radius: 2, Priority: PriorityPrefetch, HistorySize: 10})
	require.NoError(t, err)

	sched.cache.Add("item-4", "cached", 0)
	sched.mu.Lock()
	sched.inFlight["item-6"] = struct{}{}
	sched.mu.Unlock()

	enqueued := prefetcher.Focus("item-5", neighborhoodOf(10))
	require.Equal(t, 2, enqueued)

	queued := queuedKeys(sched)
	require.Len(t, queued, 2)
	require.Contains(t, queued, "item-3")
	require.Contains(t, queued, "item-7")
}

func TestPrefetcher_FocusOutsideNeighborhood(t *testing.T) {
	sched := newPrefetchScheduler(t)
	prefetcher, err := NewPrefetcher(sched, &PrefetchConfig{Radius: 2, Priority: PriorityPrefetch, HistorySize: 10})
	require.NoError(t, err)

	enqueued := prefetcher.Focus("unknown", neighborhoodOf(5))
	require.Equal(t, 0, enqueued)
	require.Empty(t, queuedKeys(sched))
	require.Equal(t, []string{"unknown"}, prefetcher.History())
}

func TestPrefetcher_HistoryIsBounded(t *testing.T) {
	sched := newPrefetchScheduler(t)
	prefetcher, err := NewPrefetcher(sched, &PrefetchConfig{Radius: 1, Priority: PriorityPrefetch, HistorySize: 3})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		prefetcher.Focus(fmt.Sprintf("focus-%d", i), nil)
	}
	require.Equal(t, []string{"focus-2", "focus-3", "focus-4"}, prefetcher.History())
}

func TestPrefetcher_ViewportRequestOutranksPrefetch(t *testing.T) {
	sched := newPrefetchScheduler(t)
	prefetcher, err := NewPrefetcher(sched, &PrefetchConfig{Radius: 1, Priority: PriorityPrefetch, HistorySize: 10})
	require.NoError(t, err)

	prefetcher.Focus("item-5", neighborhoodOf(10))

	// A direct request upgrades the queued prefetch entry in place.
	_, ok := sched.Request("item-4", 10, SourceViewport)
	require.False(t, ok)

	queued := queuedKeys(sched)
	require.Equal(t, 10, queued["item-4"].Priority)
	require.Equal(t, SourceViewport, queued["item-4"].Source)
}

func TestPrefetchConfig_Validate(t *testing.T) {
	require.Error(t, (&PrefetchConfig{Radius: -1, Priority: 70, HistorySize: 10}).Validate())
	require.Error(t, (&PrefetchConfig{Radius: 2, Priority: 101, HistorySize: 10}).Validate())
	require.Error(t, (&PrefetchConfig{Radius: 2, Priority: 70, HistorySize: 0}).Validate())
	require.NoError(t, (&PrefetchConfig{Radius: 0, Priority: 0, HistorySize: 1}).Validate())
}
