/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package reaper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/mecondev/oncutf-sub002/boundedcache"
	"github.com/mecondev/oncutf-sub002/config"
	"github.com/mecondev/oncutf-sub002/log"
)

type stubCache struct {
	evict  int
	err    error
	panics bool

	reapCalls int
}

func (c *stubCache) ReapStale(time.Duration, uint64) (int, error) {
	c.reapCalls++
	if c.panics {
		panic("broken cache")
	}
	return c.evict, c.err
}

func (c *stubCache) Len() int { return 0 }

func newTestReaper(t *testing.T, registry *boundedcache.Registry, opts Opts) *Reaper {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.MaxAge = config.TimeDuration(time.Millisecond)
	cfg.MinAccessCount = 2
	reaper, err := NewWithOpts(registry, cfg, log.NewDisabledLogger(), opts)
	require.NoError(t, err)
	return reaper
}

func TestReaper_SweepEvictsStaleEntries(t *testing.T) {
	registry := boundedcache.NewRegistry()
	cache, err := boundedcache.New[string, string](100, nil)
	require.NoError(t, err)
	require.NoError(t, registry.Register("resources", cache))

	cache.Add("cold", "cold", 10)
	cache.Add("hot", "hot", 10)
	for i := 0; i < 5; i++ {
		_, found := cache.Get("hot")
		require.True(t, found)
	}
	time.Sleep(time.Millisecond * 10) // both entries pass the 1ms maxAge

	reaper := newTestReaper(t, registry, Opts{})
	res := reaper.Sweep(context.Background())

	require.Equal(t, 1, res.Total())
	require.Equal(t, Result{"resources": 1}, res)
	require.False(t, cache.Contains("cold"))
	require.True(t, cache.Contains("hot"))
}

func TestReaper_SweepIsolatesFailures(t *testing.T) {
	registry := boundedcache.NewRegistry()
	healthy := &stubCache{evict: 3}
	failing := &stubCache{err: fmt.Errorf("cache is broken")}
	panicking := &stubCache{panics: true}
	require.NoError(t, registry.Register("healthy", healthy))
	require.NoError(t, registry.Register("failing", failing))
	require.NoError(t, registry.Register("panicking", panicking))

	reaper := newTestReaper(t, registry, Opts{})
	res := reaper.Sweep(context.Background())

	// Broken caches are skipped in the result, the healthy one is still swept.
	require.Equal(t, Result{"healthy": 3}, res)
	require.Equal(t, 3, res.Total())
	require.Equal(t, 1, healthy.reapCalls)
	require.Equal(t, 1, failing.reapCalls)
	require.Equal(t, 1, panicking.reapCalls)
}

func TestReaper_SweepEmptyRegistry(t *testing.T) {
	reaper := newTestReaper(t, boundedcache.NewRegistry(), Opts{})
	res := reaper.Sweep(context.Background())
	require.Empty(t, res)
	require.Equal(t, 0, res.Total())
}

func TestReaper_ForceCleanup(t *testing.T) {
	registry := boundedcache.NewRegistry()
	cache := &stubCache{evict: 2}
	require.NoError(t, registry.Register("resources", cache))

	cfg := NewDefaultConfig()
	cfg.ReleaseMemory = true
	reaper, err := New(registry, cfg, log.NewDisabledLogger())
	require.NoError(t, err)

	res := reaper.ForceCleanup(context.Background())
	require.Equal(t, 2, res.Total())
	require.Equal(t, 1, cache.reapCalls)
}

func TestReaper_RunImplementsWorker(t *testing.T) {
	registry := boundedcache.NewRegistry()
	cache := &stubCache{evict: 1}
	require.NoError(t, registry.Register("resources", cache))

	reaper := newTestReaper(t, registry, Opts{})
	require.NoError(t, reaper.Run(context.Background()))
	require.Equal(t, 1, cache.reapCalls)

	unit := reaper.Unit()
	require.NotNil(t, unit)
}

func TestReaper_PrometheusMetrics(t *testing.T) {
	registry := boundedcache.NewRegistry()
	require.NoError(t, registry.Register("resources", &stubCache{evict: 4}))

	pm := NewPrometheusMetrics()
	reaper := newTestReaper(t, registry, Opts{MetricsCollector: pm})
	reaper.Sweep(context.Background())

	require.Equal(t, float64(4),
		testutil.ToFloat64(pm.ReapedEntriesTotal.With(prometheus.Labels{"cache": "resources"})))
}

func TestReaper_New(t *testing.T) {
	_, err := New(nil, NewDefaultConfig(), log.NewDisabledLogger())
	require.Error(t, err)

	badCfg := NewDefaultConfig()
	badCfg.Parallelism = 0
	_, err = New(boundedcache.NewRegistry(), badCfg, log.NewDisabledLogger())
	require.Error(t, err)
}
