/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package ondemand

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Load statuses used as a metrics label.
const (
	metricsLoadStatusSuccess = "success"
	metricsLoadStatusFailure = "failure"
)

// MetricsCollector represents a collector of metrics about scheduler behavior.
type MetricsCollector interface {
	// SetQueueAmount sets the current number of queued requests.
	SetQueueAmount(int)

	// SetInFlightAmount sets the current number of in-flight loads.
	SetInFlightAmount(int)

	// ObserveLoad registers a finished load with its duration and outcome.
	ObserveLoad(duration time.Duration, succeeded bool)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// DurationBuckets is a list of buckets into which load durations are counted.
	DurationBuckets []float64

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents a Prometheus metrics for the scheduler.
type PrometheusMetrics struct {
	QueueAmount         prometheus.Gauge
	InFlightAmount      prometheus.Gauge
	LoadsTotal          *prometheus.CounterVec
	LoadDurationSeconds prometheus.Histogram
}

var defaultLoadDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	durationBuckets := opts.DurationBuckets
	if durationBuckets == nil {
		durationBuckets = defaultLoadDurationBuckets
	}

	queueAmount := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   opts.Namespace,
		Name:        "scheduler_queue_amount",
		Help:        "Current number of queued load requests.",
		ConstLabels: opts.ConstLabels,
	})

	inFlightAmount := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   opts.Namespace,
		Name:        "scheduler_in_flight_amount",
		Help:        "Current number of in-flight loads.",
		ConstLabels: opts.ConstLabels,
	})

	loadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "scheduler_loads_total",
			Help:        "Number of finished loads.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{"status"},
	)

	loadDurationSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   opts.Namespace,
		Name:        "scheduler_load_duration_seconds",
		Help:        "Duration of loads in seconds.",
		Buckets:     durationBuckets,
		ConstLabels: opts.ConstLabels,
	})

	return &PrometheusMetrics{
		QueueAmount:         queueAmount,
		InFlightAmount:      inFlightAmount,
		LoadsTotal:          loadsTotal,
		LoadDurationSeconds: loadDurationSeconds,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.QueueAmount,
		pm.InFlightAmount,
		pm.LoadsTotal,
		pm.LoadDurationSeconds,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.QueueAmount)
	prometheus.Unregister(pm.InFlightAmount)
	prometheus.Unregister(pm.LoadsTotal)
	prometheus.Unregister(pm.LoadDurationSeconds)
}

// SetQueueAmount sets the current number of queued requests.
func (pm *PrometheusMetrics) SetQueueAmount(amount int) {
	pm.QueueAmount.Set(float64(amount))
}

// SetInFlightAmount sets the current number of in-flight loads.
func (pm *PrometheusMetrics) SetInFlightAmount(amount int) {
	pm.InFlightAmount.Set(float64(amount))
}

// ObserveLoad registers a finished load with its duration and outcome.
func (pm *PrometheusMetrics) ObserveLoad(duration time.Duration, succeeded bool) {
	status := metricsLoadStatusSuccess
	if !succeeded {
		status = metricsLoadStatusFailure
	}
	pm.LoadsTotal.With(prometheus.Labels{"status": status}).Inc()
	pm.LoadDurationSeconds.Observe(duration.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) SetQueueAmount(int)              {}
func (disabledMetrics) SetInFlightAmount(int)           {}
func (disabledMetrics) ObserveLoad(time.Duration, bool) {}
