/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package reaper implements a periodic sweep over registered caches,
// evicting entries that are both stale and rarely accessed,
// independently of the caches' capacity pressure.
package reaper

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mecondev/oncutf-sub002/boundedcache"
	"github.com/mecondev/oncutf-sub002/log"
	"github.com/mecondev/oncutf-sub002/service"
)

// Result holds per-cache eviction counts of a single sweep.
// Caches whose sweep failed are absent from the map.
type Result map[string]int

// Total returns the total number of evicted entries.
func (r Result) Total() int {
	total := 0
	for _, n := range r {
		total += n
	}
	return total
}

// Reaper sweeps every cache registered in a boundedcache.Registry, evicting
// entries whose age since the last access exceeds maxAge and whose access
// count is below minAccessCount. Each cache is swept through its own lock;
// a failure inspecting one cache never aborts the sweep of the others.
type Reaper struct {
	registry *boundedcache.Registry

	period        time.Duration
	maxAge        time.Duration
	minAccess     uint64
	parallelism   int
	releaseMemory bool

	logger           log.FieldLogger
	metricsCollector MetricsCollector
}

// Opts contains optional parameters for constructing Reaper.
type Opts struct {
	// MetricsCollector collects statistics about sweeps.
	// May be nil, in this case, metrics will be disabled.
	MetricsCollector MetricsCollector
}

// New creates a new Reaper over the passed registry.
func New(registry *boundedcache.Registry, cfg *Config, logger log.FieldLogger) (*Reaper, error) {
	return NewWithOpts(registry, cfg, logger, Opts{})
}

// NewWithOpts creates a new Reaper with an ability to specify different optional parameters.
func NewWithOpts(registry *boundedcache.Registry, cfg *Config, logger log.FieldLogger, opts Opts) (*Reaper, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metricsCollector := opts.MetricsCollector
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	return &Reaper{
		registry:         registry,
		period:           time.Duration(cfg.Period),
		maxAge:           time.Duration(cfg.MaxAge),
		minAccess:        cfg.MinAccessCount,
		parallelism:      cfg.Parallelism,
		releaseMemory:    cfg.ReleaseMemory,
		logger:           logger,
		metricsCollector: metricsCollector,
	}, nil
}

// Run performs a single sweep. Implements service.Worker interface,
// so the reaper can be driven by service.PeriodicWorker.
func (r *Reaper) Run(ctx context.Context) error {
	r.Sweep(ctx)
	return nil
}

// Unit wraps the reaper into a worker unit that sweeps periodically
// with the configured period.
func (r *Reaper) Unit() *service.WorkerUnit {
	return service.NewWorkerUnit(service.NewPeriodicWorker(r, r.period, r.logger))
}

// Sweep walks all registered caches once and returns per-cache eviction counts.
func (r *Reaper) Sweep(ctx context.Context) Result {
	start := time.Now()

	type target struct {
		name  string
		cache boundedcache.Reapable
	}
	var targets []target
	r.registry.ForEach(func(name string, cache boundedcache.Reapable) {
		targets = append(targets, target{name, cache})
	})

	var mu sync.Mutex
	res := make(Result, len(targets))

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			evicted, err := r.reapOne(ctx, t.cache)
			if err != nil {
				// A broken cache must not abort the sweep of the others.
				r.logger.Error("cache sweep failed", log.String("cache", t.name), log.Error(err))
				return nil
			}
			mu.Lock()
			res[t.name] = evicted
			mu.Unlock()
			r.metricsCollector.AddReapedEntries(t.name, evicted)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	r.metricsCollector.ObserveSweepDuration(elapsed)
	r.logger.Info("cache sweep finished", log.Int("caches", len(targets)),
		log.Int("evicted", res.Total()), log.Duration("duration", elapsed))
	return res
}

// ForceCleanup performs an immediate sweep and, if configured so,
// hints the runtime to return freed memory to the OS.
func (r *Reaper) ForceCleanup(ctx context.Context) Result {
	res := r.Sweep(ctx)
	if r.releaseMemory {
		debug.FreeOSMemory()
	}
	return res
}

func (r *Reaper) reapOne(ctx context.Context, cache boundedcache.Reapable) (evicted int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %+v", p)
		}
	}()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	return cache.ReapStale(r.maxAge, r.minAccess)
}
