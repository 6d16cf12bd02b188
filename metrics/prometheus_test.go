/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	pc := NewPrometheusCollector("loadguard")
	pc.MustRegister()
	defer pc.Unregister()

	pc.IncThrottled("cpu")
	pc.IncThrottled("cpu")
	pc.IncThrottled("usage")
	pc.IncDelayed()
	pc.IncRateLimited()
	pc.ObserveCPUUsage(42)
	pc.ObserveMemoryUsage(17)
	pc.ObserveDelay(250 * time.Millisecond)
	pc.ObserveRequestDuration(1500 * time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(pc.ThrottledTotal.With(prometheus.Labels{"reason": "cpu"})))
	require.Equal(t, 1.0, testutil.ToFloat64(pc.ThrottledTotal.With(prometheus.Labels{"reason": "usage"})))
	require.Equal(t, 1.0, testutil.ToFloat64(pc.DelayedTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(pc.RateLimitedTotal))

	require.Equal(t, 1, testutil.CollectAndCount(pc.CPUUsage, "loadguard_cpu_usage_percent"))
	require.Equal(t, 1, testutil.CollectAndCount(pc.MemoryUsage, "loadguard_memory_usage_percent"))
	require.Equal(t, 1, testutil.CollectAndCount(pc.DelayApplied, "loadguard_delay_applied_ms"))
	require.Equal(t, 1, testutil.CollectAndCount(pc.RequestDuration, "loadguard_request_duration_ms"))
}

func TestPrometheusCollectorRegisterTwice(t *testing.T) {
	pc := NewPrometheusCollector("loadguard")
	pc.MustRegister()
	require.Panics(t, func() { pc.MustRegister() })
	pc.Unregister()
}

func TestNoopSinkImplementsSink(t *testing.T) {
	var sink Sink = NoopSink{}
	sink.IncThrottled("cpu")
	sink.IncDelayed()
	sink.IncRateLimited()
	sink.ObserveCPUUsage(1)
	sink.ObserveMemoryUsage(1)
	sink.ObserveDelay(time.Second)
	sink.ObserveRequestDuration(time.Second)
}
