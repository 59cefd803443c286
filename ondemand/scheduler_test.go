/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/mecondev/oncutf-sub002/boundedcache"
	"github.com/mecondev/oncutf-sub002/config"
	"github.com/mecondev/oncutf-sub002/log"
)

type testLoader struct {
	mu     sync.Mutex
	calls  map[string]int
	errs   map[string]error
	gate   chan struct{} // when non-nil, Load blocks until the gate is closed

	active    atomic.Int32
	maxActive atomic.Int32
}

func newTestLoader() *testLoader {
	return &testLoader{calls: make(map[string]int), errs: make(map[string]error)}
}

func (l *testLoader) Load(ctx context.Context, key string) (string, error) {
	cur := l.active.Inc()
	defer l.active.Dec()
	for {
		prev := l.maxActive.Load()
		if cur <= prev || l.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}

	l.mu.Lock()
	l.calls[key]++
	err := l.errs[key]
	l.mu.Unlock()

	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "value-" + key, nil
}

func (l *testLoader) callsFor(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[key]
}

type testStore struct {
	mu       sync.Mutex
	data     map[string]string
	getErr   error
	setErr   error
	setCalls int
}

func newTestStore() *testStore {
	return &testStore{data: make(map[string]string)}
}

func (s *testStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *testStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func (s *testStore) setCallsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setCalls
}

func newTestConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.PollInterval = config.TimeDuration(time.Millisecond * 5)
	return cfg
}

func newTestScheduler(
	t *testing.T, loader Loader[string, string], cfg *Config, opts Opts[string, string],
) *Scheduler[string, string] {
	t.Helper()
	cache, err := boundedcache.New[string, string](100, nil)
	require.NoError(t, err)
	sched, err := NewWithOpts[string, string](cache, loader, cfg, log.NewDisabledLogger(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, sched.Stop(true))
	})
	return sched
}

func receiveCompletion(t *testing.T, events <-chan Completion[string, string]) Completion[string, string] {
	t.Helper()
	select {
	case c := <-events:
		return c
	case <-time.After(time.Second * 5):
		t.Fatal("timeout waiting for completion event")
		return Completion[string, string]{}
	}
}

func TestScheduler_CacheHitIsSynchronous(t *testing.T) {
	loader := newTestLoader()
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{})

	sched.cache.Add("a", "cached-a", 0)
	value, ok := sched.Request("a", PriorityHighest, SourceViewport)
	require.True(t, ok)
	require.Equal(t, "cached-a", value)

	// A hit never touches the loader or the dispatch loop.
	require.Equal(t, StateIdle, sched.State())
	require.Equal(t, 0, loader.callsFor("a"))
	stats := sched.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(0), stats.Misses)
}

func TestScheduler_LoadsMissAndDisarms(t *testing.T) {
	loader := newTestLoader()
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{})

	value, ok := sched.Request("a", 10, SourceViewport)
	require.False(t, ok)
	require.Empty(t, value)
	require.Equal(t, StateArmed, sched.State())

	event := receiveCompletion(t, sched.Events())
	require.NoError(t, event.Err)
	require.Equal(t, "a", event.Key)
	require.Equal(t, "value-a", event.Value)
	require.Equal(t, SourceViewport, event.Source)
	require.NotEmpty(t, event.RequestID)

	// The cache is warm by the time the event is observed.
	cached, found := sched.cache.Get("a")
	require.True(t, found)
	require.Equal(t, "value-a", cached)

	require.Eventually(t, func() bool {
		return sched.State() == StateIdle
	}, time.Second*5, time.Millisecond*10)

	stats := sched.Stats()
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, uint64(1), stats.LoadsTotal)
	require.Equal(t, uint64(0), stats.LoadFailures)
	require.Equal(t, 0, stats.QueueAmount)
	require.Equal(t, 0, stats.InFlightAmount)
}

func TestScheduler_ConcurrencyCap(t *testing.T) {
	loader := newTestLoader()
	loader.gate = make(chan struct{})
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{})

	const total = 5
	for i := 0; i < total; i++ {
		_, ok := sched.Request(fmt.Sprintf("key-%d", i), 10, SourceViewport)
		require.False(t, ok)
	}

	// The in-flight set saturates at maxConcurrent while the rest stay queued.
	require.Eventually(t, func() bool {
		return sched.Stats().InFlightAmount == DefaultMaxConcurrent
	}, time.Second*5, time.Millisecond*5)
	require.Equal(t, total-DefaultMaxConcurrent, sched.Stats().QueueAmount)

	close(loader.gate)
	for i := 0; i < total; i++ {
		event := receiveCompletion(t, sched.Events())
		require.NoError(t, event.Err)
	}
	require.LessOrEqual(t, loader.maxActive.Load(), int32(DefaultMaxConcurrent))
}

func TestScheduler_InFlightDuplicateIsNoOp(t *testing.T) {
	loader := newTestLoader()
	loader.gate = make(chan struct{})
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{})

	_, ok := sched.Request("a", 10, SourceViewport)
	require.False(t, ok)
	require.Eventually(t, func() bool {
		return sched.Stats().InFlightAmount == 1
	}, time.Second*5, time.Millisecond*5)

	// A superseding request for an in-flight key neither queues nor cancels.
	_, ok = sched.Request("a", PriorityHighest, SourceUserRequest)
	require.False(t, ok)
	require.Equal(t, 0, sched.Stats().QueueAmount)

	close(loader.gate)
	event := receiveCompletion(t, sched.Events())
	require.NoError(t, event.Err)
	require.Equal(t, 1, loader.callsFor("a"))
}

func TestScheduler_DispatchFollowsPriority(t *testing.T) {
	loader := newTestLoader()
	cfg := NewDefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.PollInterval = config.TimeDuration(time.Millisecond * 50)
	sched := newTestScheduler(t, loader, cfg, Opts[string, string]{})

	// All three are queued before the first tick fires.
	sched.Request("b", 50, SourcePrefetch)
	sched.Request("c", 10, SourceViewport)
	sched.Request("a", 30, SourceUserRequest)

	var order []string
	for i := 0; i < 3; i++ {
		event := receiveCompletion(t, sched.Events())
		require.NoError(t, event.Err)
		order = append(order, event.Key)
	}
	require.Equal(t, []string{"c", "a", "b"}, order)
}

func TestScheduler_LoadFailure(t *testing.T) {
	loader := newTestLoader()
	loader.errs["broken"] = fmt.Errorf("resource is corrupted")
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{})

	_, ok := sched.Request("broken", 10, SourceViewport)
	require.False(t, ok)

	event := receiveCompletion(t, sched.Events())
	require.EqualError(t, event.Err, "resource is corrupted")
	require.Equal(t, "broken", event.Key)

	// A failed load leaves no trace in the cache.
	require.False(t, sched.cache.Contains("broken"))
	require.Equal(t, uint64(1), sched.Stats().LoadFailures)
}

func TestScheduler_LoaderPanicIsRecovered(t *testing.T) {
	loader := LoaderFunc[string, string](func(ctx context.Context, key string) (string, error) {
		panic("boom")
	})
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{})

	_, ok := sched.Request("a", 10, SourceViewport)
	require.False(t, ok)

	event := receiveCompletion(t, sched.Events())
	require.ErrorContains(t, event.Err, "loader panic")
	require.Equal(t, 0, sched.Stats().InFlightAmount)
}

func TestScheduler_StoreReadHit(t *testing.T) {
	loader := newTestLoader()
	store := newTestStore()
	store.data["a"] = "persisted-a"
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{Store: store})

	_, ok := sched.Request("a", 10, SourceViewport)
	require.False(t, ok)

	event := receiveCompletion(t, sched.Events())
	require.NoError(t, event.Err)
	require.Equal(t, "persisted-a", event.Value)

	// The store satisfied the load, the loader was never consulted,
	// and an already persisted value is not written back.
	require.Equal(t, 0, loader.callsFor("a"))
	require.Equal(t, 0, store.setCallsCount())
	require.True(t, sched.cache.Contains("a"))
}

func TestScheduler_StorePersistsLoadedValue(t *testing.T) {
	loader := newTestLoader()
	store := newTestStore()
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{Store: store})

	_, ok := sched.Request("a", 10, SourceViewport)
	require.False(t, ok)

	event := receiveCompletion(t, sched.Events())
	require.NoError(t, event.Err)

	store.mu.Lock()
	persisted := store.data["a"]
	store.mu.Unlock()
	require.Equal(t, "value-a", persisted)
}

func TestScheduler_StoreFailuresDoNotFailLoad(t *testing.T) {
	loader := newTestLoader()
	store := newTestStore()
	store.getErr = fmt.Errorf("store is unreachable")
	store.setErr = fmt.Errorf("store is unreachable")
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{Store: store})

	_, ok := sched.Request("a", 10, SourceViewport)
	require.False(t, ok)

	event := receiveCompletion(t, sched.Events())
	require.NoError(t, event.Err)
	require.Equal(t, "value-a", event.Value)
	require.True(t, sched.cache.Contains("a"))
}

func TestScheduler_GracefulStopClosesEvents(t *testing.T) {
	loader := newTestLoader()
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{})

	_, ok := sched.Request("a", 10, SourceViewport)
	require.False(t, ok)
	receiveCompletion(t, sched.Events())

	require.NoError(t, sched.Stop(true))

	_, open := <-sched.Events()
	require.False(t, open)

	// A request after stop is rejected without arming the loop.
	_, ok = sched.Request("b", 10, SourceViewport)
	require.False(t, ok)
	require.Equal(t, StateIdle, sched.State())
	require.Equal(t, 0, loader.callsFor("b"))
}

func TestScheduler_New(t *testing.T) {
	cache, err := boundedcache.New[string, string](10, nil)
	require.NoError(t, err)

	_, err = New[string, string](nil, newTestLoader(), NewDefaultConfig(), log.NewDisabledLogger())
	require.Error(t, err)

	_, err = New[string, string](cache, nil, NewDefaultConfig(), log.NewDisabledLogger())
	require.Error(t, err)

	badCfg := NewDefaultConfig()
	badCfg.MaxConcurrent = 0
	_, err = New[string, string](cache, newTestLoader(), badCfg, log.NewDisabledLogger())
	require.Error(t, err)
}
