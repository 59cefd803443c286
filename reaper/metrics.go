/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package reaper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector represents a collector of metrics about sweeps.
type MetricsCollector interface {
	// AddReapedEntries increments the total number of entries evicted from the named cache.
	AddReapedEntries(cacheName string, n int)

	// ObserveSweepDuration registers a finished sweep with its duration.
	ObserveSweepDuration(duration time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents a Prometheus metrics for the reaper.
type PrometheusMetrics struct {
	ReapedEntriesTotal   *prometheus.CounterVec
	SweepDurationSeconds prometheus.Histogram
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	reapedEntriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "reaper_reaped_entries_total",
			Help:        "Number of stale entries evicted by the reaper.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{"cache"},
	)

	sweepDurationSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   opts.Namespace,
		Name:        "reaper_sweep_duration_seconds",
		Help:        "Duration of sweeps in seconds.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: opts.ConstLabels,
	})

	return &PrometheusMetrics{
		ReapedEntriesTotal:   reapedEntriesTotal,
		SweepDurationSeconds: sweepDurationSeconds,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.ReapedEntriesTotal,
		pm.SweepDurationSeconds,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.ReapedEntriesTotal)
	prometheus.Unregister(pm.SweepDurationSeconds)
}

// AddReapedEntries increments the total number of entries evicted from the named cache.
func (pm *PrometheusMetrics) AddReapedEntries(cacheName string, n int) {
	pm.ReapedEntriesTotal.With(prometheus.Labels{"cache": cacheName}).Add(float64(n))
}

// ObserveSweepDuration registers a finished sweep with its duration.
func (pm *PrometheusMetrics) ObserveSweepDuration(duration time.Duration) {
	pm.SweepDurationSeconds.Observe(duration.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) AddReapedEntries(string, int)       {}
func (disabledMetrics) ObserveSweepDuration(time.Duration) {}
