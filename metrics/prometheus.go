/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsLabelReason = "reason"

// PrometheusCollector is a Sink implementation backed by Prometheus collectors.
type PrometheusCollector struct {
	ThrottledTotal   *prometheus.CounterVec
	DelayedTotal     prometheus.Counter
	RateLimitedTotal prometheus.Counter
	CPUUsage         prometheus.Histogram
	MemoryUsage      prometheus.Histogram
	DelayApplied     prometheus.Histogram
	RequestDuration  prometheus.Histogram
}

var _ Sink = (*PrometheusCollector)(nil)

var usageBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100}

// NewPrometheusCollector creates a new instance of PrometheusCollector.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	throttledTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_throttled_total",
		Help:      "Number of requests rejected by the admission control, partitioned by reason.",
	}, []string{metricsLabelReason})

	delayedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_delayed_total",
		Help:      "Number of requests delayed before admission.",
	})

	rateLimitedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_ratelimited_total",
		Help:      "Number of requests rejected by the per-client rate limiter.",
	})

	cpuUsage := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "cpu_usage_percent",
		Help:      "Sampled process CPU usage in percent.",
		Buckets:   usageBuckets,
	})

	memoryUsage := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "memory_usage_percent",
		Help:      "Sampled process memory usage in percent.",
		Buckets:   usageBuckets,
	})

	delayApplied := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delay_applied_ms",
		Help:      "Delay applied to requests before admission in milliseconds.",
		Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000},
	})

	requestDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_ms",
		Help:      "Total serving duration of admitted requests in milliseconds.",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	return &PrometheusCollector{
		ThrottledTotal:   throttledTotal,
		DelayedTotal:     delayedTotal,
		RateLimitedTotal: rateLimitedTotal,
		CPUUsage:         cpuUsage,
		MemoryUsage:      memoryUsage,
		DelayApplied:     delayApplied,
		RequestDuration:  requestDuration,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pc *PrometheusCollector) MustRegister() {
	prometheus.MustRegister(pc.AllCollectors()...)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pc *PrometheusCollector) Unregister() {
	for _, c := range pc.AllCollectors() {
		prometheus.Unregister(c)
	}
}

// AllCollectors returns all Prometheus collectors of the PrometheusCollector.
// May be used for registration in a custom registry.
func (pc *PrometheusCollector) AllCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		pc.ThrottledTotal,
		pc.DelayedTotal,
		pc.RateLimitedTotal,
		pc.CPUUsage,
		pc.MemoryUsage,
		pc.DelayApplied,
		pc.RequestDuration,
	}
}

// IncThrottled increments the counter of throttled requests for the given reason.
func (pc *PrometheusCollector) IncThrottled(reason string) {
	pc.ThrottledTotal.With(prometheus.Labels{metricsLabelReason: reason}).Inc()
}

// IncDelayed increments the counter of delayed requests.
func (pc *PrometheusCollector) IncDelayed() {
	pc.DelayedTotal.Inc()
}

// IncRateLimited increments the counter of rate-limited requests.
func (pc *PrometheusCollector) IncRateLimited() {
	pc.RateLimitedTotal.Inc()
}

// ObserveCPUUsage records a sampled process CPU usage percentage.
func (pc *PrometheusCollector) ObserveCPUUsage(percent float64) {
	pc.CPUUsage.Observe(percent)
}

// ObserveMemoryUsage records a sampled process memory usage percentage.
func (pc *PrometheusCollector) ObserveMemoryUsage(percent float64) {
	pc.MemoryUsage.Observe(percent)
}

// ObserveDelay records the delay applied to a request before it was admitted.
func (pc *PrometheusCollector) ObserveDelay(d time.Duration) {
	pc.DelayApplied.Observe(float64(d.Milliseconds()))
}

// ObserveRequestDuration records the total serving duration of an admitted request.
func (pc *PrometheusCollector) ObserveRequestDuration(d time.Duration) {
	pc.RequestDuration.Observe(float64(d.Milliseconds()))
}
