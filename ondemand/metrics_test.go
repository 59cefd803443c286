/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/mecondev/oncutf-sub002/testutil"
)

func TestSchedulerPrometheusMetrics(t *testing.T) {
	loader := newTestLoader()
	loader.errs["broken"] = fmt.Errorf("load failure")

	pm := NewPrometheusMetrics()
	sched := newTestScheduler(t, loader, newTestConfig(), Opts[string, string]{MetricsCollector: pm})

	_, ok := sched.Request("a", 10, SourceViewport)
	require.False(t, ok)
	_, ok = sched.Request("broken", 10, SourceViewport)
	require.False(t, ok)

	for i := 0; i < 2; i++ {
		receiveCompletion(t, sched.Events())
	}
	require.Eventually(t, func() bool {
		return sched.State() == StateIdle
	}, time.Second*5, time.Millisecond*10)

	testutil.RequireSamplesCountInHistogram(t, pm.LoadDurationSeconds, 2)
	testutil.RequireSamplesCountInCounter(t,
		pm.LoadsTotal.With(prometheus.Labels{"status": "success"}), 1)
	testutil.RequireSamplesCountInCounter(t,
		pm.LoadsTotal.With(prometheus.Labels{"status": "failure"}), 1)
	require.Equal(t, float64(0), promtest.ToFloat64(pm.QueueAmount))
	require.Equal(t, float64(0), promtest.ToFloat64(pm.InFlightAmount))
}
