/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/atomic"

	"github.com/mecondev/oncutf-sub002/boundedcache"
	"github.com/mecondev/oncutf-sub002/log"
	"github.com/mecondev/oncutf-sub002/retry"
)

// State is a dispatch loop state.
type State int

// Dispatch loop states.
const (
	// StateIdle means no pending work, the dispatch loop is stopped.
	StateIdle State = iota

	// StateArmed means the dispatch loop is ticking on a fixed interval.
	StateArmed
)

// String implements fmt.Stringer interface.
func (s State) String() string {
	if s == StateArmed {
		return "armed"
	}
	return "idle"
}

// Completion is an event emitted when a dispatched load finishes.
// Err is non-nil for a failed load; the value is written into the cache
// before the event is emitted, so a subscriber observing a successful
// completion may rely on a warm cache.
type Completion[K comparable, V any] struct {
	RequestID string
	Key       K
	Value     V
	Err       error
	Source    Source
	Duration  time.Duration
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	// Hits is the number of Request calls satisfied synchronously from the cache.
	Hits uint64

	// Misses is the number of Request calls that went to the queue.
	Misses uint64

	// LoadsTotal is the number of finished loads, successful or not.
	LoadsTotal uint64

	// LoadFailures is the number of loads that finished with an error.
	LoadFailures uint64

	// QueueAmount is the current number of queued requests.
	QueueAmount int

	// InFlightAmount is the current number of in-flight loads.
	InFlightAmount int

	// AvgLoadDuration is the mean duration of all finished loads.
	AvgLoadDuration time.Duration
}

// Scheduler is a cooperative dispatcher of on-demand load requests.
//
// A request for a cached key is satisfied synchronously. Anything else is
// admitted into a bounded priority queue which the dispatch loop drains on a
// fixed tick, keeping at most maxConcurrent loads in flight. Results are
// written into the in-memory cache (and, opportunistically, a persistent
// Store) and announced via typed Completion events.
//
// Queue, in-flight set and loop state share a single mutex; the Loader is
// always invoked outside of it. There is no mid-flight cancellation: a
// superseding request for an in-flight key is a no-op until that load
// completes.
type Scheduler[K comparable, V any] struct {
	cache  *boundedcache.LRUCache[K, V]
	loader Loader[K, V]
	store  Store[K, V]
	sizeOf func(V) uint64

	logger           log.FieldLogger
	metricsCollector MetricsCollector

	pollInterval       time.Duration
	maxConcurrent      int
	persistRetryPolicy retry.Policy

	mu         sync.Mutex
	queue      *requestQueue[K]
	inFlight   map[K]struct{}
	st         State
	loopCancel context.CancelFunc
	closed     bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	loopWG     sync.WaitGroup
	workersWG  sync.WaitGroup

	events          chan Completion[K, V]
	closeEventsOnce sync.Once

	hits              atomic.Uint64
	misses            atomic.Uint64
	loadsTotal        atomic.Uint64
	loadFailures      atomic.Uint64
	loadDurationTotal atomic.Int64
}

// Opts contains optional parameters for constructing Scheduler.
type Opts[K comparable, V any] struct {
	// Store is an optional persistent cache consulted after the in-memory one.
	Store Store[K, V]

	// SizeOf reports an approximate byte size of a loaded value,
	// used as the cache size hint. May be nil, then all values count as zero bytes.
	SizeOf func(V) uint64

	// MetricsCollector collects statistics about scheduler behavior.
	// May be nil, in this case, metrics will be disabled.
	MetricsCollector MetricsCollector

	// EventsBufferSize is the capacity of the completion events channel.
	EventsBufferSize int

	// PersistRetryPolicy overrides the backoff policy for persistent store writes.
	PersistRetryPolicy retry.Policy
}

const defaultEventsBufferSize = 64

// New creates a new Scheduler with the provided cache, loader, and configuration.
func New[K comparable, V any](
	cache *boundedcache.LRUCache[K, V], loader Loader[K, V], cfg *Config, logger log.FieldLogger,
) (*Scheduler[K, V], error) {
	return NewWithOpts(cache, loader, cfg, logger, Opts[K, V]{})
}

// NewWithOpts creates a new Scheduler with an ability to specify different optional parameters.
func NewWithOpts[K comparable, V any](
	cache *boundedcache.LRUCache[K, V], loader Loader[K, V], cfg *Config, logger log.FieldLogger, opts Opts[K, V],
) (*Scheduler[K, V], error) {
	if cache == nil {
		return nil, fmt.Errorf("cache must not be nil")
	}
	if loader == nil {
		return nil, fmt.Errorf("loader must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sizeOf := opts.SizeOf
	if sizeOf == nil {
		sizeOf = func(V) uint64 { return 0 }
	}
	metricsCollector := opts.MetricsCollector
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	eventsBufferSize := opts.EventsBufferSize
	if eventsBufferSize <= 0 {
		eventsBufferSize = defaultEventsBufferSize
	}
	persistRetryPolicy := opts.PersistRetryPolicy
	if persistRetryPolicy == nil {
		persistRetryPolicy = retry.NewConstantBackoffPolicy(time.Millisecond*100, 2)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Scheduler[K, V]{
		cache:              cache,
		loader:             loader,
		store:              opts.Store,
		sizeOf:             sizeOf,
		logger:             logger,
		metricsCollector:   metricsCollector,
		pollInterval:       time.Duration(cfg.PollInterval),
		maxConcurrent:      cfg.MaxConcurrent,
		persistRetryPolicy: persistRetryPolicy,
		queue:              newRequestQueue[K](cfg.Queue.MaxSize),
		inFlight:           make(map[K]struct{}),
		baseCtx:            baseCtx,
		baseCancel:         baseCancel,
		events:             make(chan Completion[K, V], eventsBufferSize),
	}, nil
}

// Request asks for a resource by key. A cached value is returned synchronously.
// Otherwise the request is admitted into the queue (waking the dispatch loop
// if it is idle) and the zero value is returned; the outcome is announced
// later via a Completion event. A request for an in-flight key is a no-op.
func (s *Scheduler[K, V]) Request(key K, priority int, source Source) (value V, ok bool) {
	if value, ok = s.cache.Get(key); ok {
		s.hits.Inc()
		return value, true
	}
	s.misses.Inc()
	s.enqueue(key, priority, source)
	var zero V
	return zero, false
}

// Events returns the channel of completion events.
// The channel is buffered; when a subscriber falls behind, events are dropped
// rather than blocking the engine. It is closed on graceful stop.
func (s *Scheduler[K, V]) Events() <-chan Completion[K, V] {
	return s.events
}

// State returns the current dispatch loop state.
func (s *Scheduler[K, V]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler[K, V]) Stats() Stats {
	s.mu.Lock()
	queueAmount := s.queue.len()
	inFlightAmount := len(s.inFlight)
	s.mu.Unlock()

	loadsTotal := s.loadsTotal.Load()
	var avg time.Duration
	if loadsTotal > 0 {
		avg = time.Duration(s.loadDurationTotal.Load() / int64(loadsTotal)) //nolint:gosec // counter fits int64
	}
	return Stats{
		Hits:            s.hits.Load(),
		Misses:          s.misses.Load(),
		LoadsTotal:      loadsTotal,
		LoadFailures:    s.loadFailures.Load(),
		QueueAmount:     queueAmount,
		InFlightAmount:  inFlightAmount,
		AvgLoadDuration: avg,
	}
}

// Start begins the scheduler's operation. Implements service.Unit interface.
// The dispatch loop itself is armed lazily by the first uncached request.
func (s *Scheduler[K, V]) Start(_ chan<- error) {
	s.logger.Info("on-demand scheduler started",
		log.Int("max_concurrent", s.maxConcurrent), log.Duration("poll_interval", s.pollInterval))
}

// Stop halts the scheduler. Implements service.Unit interface.
// A graceful stop waits for in-flight loads to finish and closes the events
// channel; a non-graceful one cancels their context and returns immediately.
func (s *Scheduler[K, V]) Stop(gracefully bool) error {
	s.mu.Lock()
	s.closed = true
	if s.loopCancel != nil {
		s.loopCancel()
	}
	s.st = StateIdle
	s.mu.Unlock()

	if !gracefully {
		s.baseCancel()
		return nil
	}

	s.loopWG.Wait()
	s.workersWG.Wait()
	s.baseCancel()
	s.closeEventsOnce.Do(func() { close(s.events) })
	s.logger.Info("on-demand scheduler stopped")
	return nil
}

// enqueue admits an uncached request into the queue and reports whether it was accepted.
// In-flight keys and a closed scheduler are no-ops.
func (s *Scheduler[K, V]) enqueue(key K, priority int, source Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, ok := s.inFlight[key]; ok {
		return false
	}

	s.queue.upsert(LoadRequest[K]{
		ID:          xid.New().String(),
		Key:         key,
		Priority:    priority,
		RequestedAt: time.Now(),
		Source:      source,
	})
	s.metricsCollector.SetQueueAmount(s.queue.len())
	s.armLocked()
	return true
}

func (s *Scheduler[K, V]) armLocked() {
	if s.st == StateArmed {
		return
	}
	s.st = StateArmed
	loopCtx, loopCancel := context.WithCancel(s.baseCtx)
	s.loopCancel = loopCancel
	s.loopWG.Add(1)
	go s.runLoop(loopCtx)
	s.logger.Debug("dispatch loop armed")
}

func (s *Scheduler[K, V]) runLoop(ctx context.Context) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.dispatchTick() {
				return
			}
		}
	}
}

// dispatchTick pops and dispatches at most one request.
// It reports whether the loop should keep ticking; a drained queue with
// nothing in flight disarms the loop.
func (s *Scheduler[K, V]) dispatchTick() bool {
	s.mu.Lock()

	if len(s.inFlight) >= s.maxConcurrent {
		s.mu.Unlock()
		return true
	}

	req, ok := s.queue.popBest()
	if !ok {
		if len(s.inFlight) == 0 {
			s.st = StateIdle
			s.loopCancel()
			s.mu.Unlock()
			s.logger.Debug("dispatch loop disarmed")
			return false
		}
		s.mu.Unlock()
		return true
	}

	s.inFlight[req.Key] = struct{}{}
	s.metricsCollector.SetQueueAmount(s.queue.len())
	s.metricsCollector.SetInFlightAmount(len(s.inFlight))
	s.mu.Unlock()

	s.workersWG.Add(1)
	go s.runLoad(req)
	return true
}

// runLoad executes a single dispatched load on a worker goroutine.
// Whatever happens inside the loader or the store, the in-flight slot is
// always released and a completion event is always emitted.
func (s *Scheduler[K, V]) runLoad(req LoadRequest[K]) {
	defer s.workersWG.Done()

	start := time.Now()
	value, err := s.loadAndPersist(req)
	elapsed := time.Since(start)

	s.loadsTotal.Inc()
	s.loadDurationTotal.Add(int64(elapsed))
	s.metricsCollector.ObserveLoad(elapsed, err == nil)

	if err != nil {
		s.loadFailures.Inc()
		s.logger.Error("resource load failed", log.String("request_id", req.ID),
			log.String("key", fmt.Sprint(req.Key)), log.String("source", string(req.Source)), log.Error(err))
	} else {
		s.logger.Debug("resource loaded", log.String("request_id", req.ID),
			log.String("key", fmt.Sprint(req.Key)), log.Duration("duration", elapsed))
	}

	s.mu.Lock()
	delete(s.inFlight, req.Key)
	s.metricsCollector.SetInFlightAmount(len(s.inFlight))
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	s.emit(Completion[K, V]{
		RequestID: req.ID,
		Key:       req.Key,
		Value:     value,
		Err:       err,
		Source:    req.Source,
		Duration:  elapsed,
	})
}

func (s *Scheduler[K, V]) loadAndPersist(req LoadRequest[K]) (value V, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("loader panic: %+v", p)
		}
	}()

	value, fromStore, err := s.doLoad(req)
	if err != nil {
		return value, err
	}

	s.cache.Add(req.Key, value, s.sizeOf(value))
	if !fromStore {
		s.persist(req, value)
	}
	return value, nil
}

func (s *Scheduler[K, V]) doLoad(req LoadRequest[K]) (value V, fromStore bool, err error) {
	if s.store != nil {
		v, ok, storeErr := s.store.Get(s.baseCtx, req.Key)
		if storeErr != nil {
			s.logger.Warn("persistent store read failed", log.String("request_id", req.ID),
				log.String("key", fmt.Sprint(req.Key)), log.Error(storeErr))
		} else if ok {
			return v, true, nil
		}
	}
	value, err = s.loader.Load(s.baseCtx, req.Key)
	return value, false, err
}

// persist writes a loaded value into the persistent store with a bounded retry.
// Failures are logged and never invalidate the in-memory result.
func (s *Scheduler[K, V]) persist(req LoadRequest[K], value V) {
	if s.store == nil {
		return
	}
	err := retry.DoWithRetry(s.baseCtx, s.persistRetryPolicy, nil, nil, func(ctx context.Context) error {
		return s.store.Set(ctx, req.Key, value)
	})
	if err != nil {
		s.logger.Warn("persistent store write failed", log.String("request_id", req.ID),
			log.String("key", fmt.Sprint(req.Key)), log.Error(err))
	}
}

func (s *Scheduler[K, V]) emit(c Completion[K, V]) {
	select {
	case s.events <- c:
	default:
		s.logger.Warn("completion event dropped, subscriber is too slow", log.String("request_id", c.RequestID))
	}
}
