/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package stats

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-loadguard/sampler"
)

func TestRingFIFOEviction(t *testing.T) {
	r := newRing(60)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 61; i++ {
		r.append(HistoricalPoint{Timestamp: base.Add(time.Duration(i) * time.Second), Value: float64(i)})
	}

	points := r.snapshot()
	require.Len(t, points, 60)
	// After 61 insertions the oldest surviving point is the 2nd inserted one.
	require.Equal(t, 1.0, points[0].Value)
	require.Equal(t, 60.0, points[59].Value)
	for i := 1; i < len(points); i++ {
		require.True(t, points[i].Timestamp.After(points[i-1].Timestamp))
	}
}

func TestRingPartiallyFilled(t *testing.T) {
	r := newRing(60)
	r.append(HistoricalPoint{Value: 1})
	r.append(HistoricalPoint{Value: 2})
	points := r.snapshot()
	require.Len(t, points, 2)
	require.Equal(t, 1.0, points[0].Value)
	require.Equal(t, 2.0, points[1].Value)
}

func TestAggregatorCounters(t *testing.T) {
	a := MustNewAggregator(NewDefaultConfig())

	for i := 0; i < 5; i++ {
		a.IncTotalRequests()
	}
	a.IncThrottled("cpu")
	a.IncThrottled("cpu")
	a.IncThrottled("usage")
	a.IncDelayed()
	a.IncRateLimited()

	summary := a.Summary()
	require.Equal(t, uint64(5), summary.TotalRequests)
	require.Equal(t, map[string]uint64{"cpu": 2, "usage": 1}, summary.RequestsThrottled)
	require.Equal(t, uint64(1), summary.RequestsDelayed)
	require.Equal(t, uint64(1), summary.RequestsRateLimited)
	require.NotEmpty(t, summary.InstanceID)
}

func TestAggregatorCountersConcurrent(t *testing.T) {
	a := MustNewAggregator(NewDefaultConfig())

	const goroutines = 8
	const perGoroutine = 1000
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				a.IncTotalRequests()
				a.IncThrottled("usage")
			}
		}()
	}
	wg.Wait()

	summary := a.Summary()
	require.Equal(t, uint64(goroutines*perGoroutine), summary.TotalRequests)
	require.Equal(t, uint64(goroutines*perGoroutine), summary.RequestsThrottled["usage"])
}

func TestAggregatorObserveSample(t *testing.T) {
	a := MustNewAggregator(NewDefaultConfig())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	a.ObserveSample(sampler.Snapshot{
		CPUPercent: 10, MemoryPercent: 40, MemoryBytes: 1 << 30, Timestamp: base,
	})
	a.ObserveSample(sampler.Snapshot{
		CPUPercent: 20, MemoryPercent: 50, MemoryBytes: 2 << 30, Timestamp: base.Add(time.Second),
	})

	full := a.Full()
	require.Len(t, full.CPUHistory, 2)
	require.Len(t, full.MemoryHistory, 2)
	require.Equal(t, 10.0, full.CPUHistory[0].Value)
	require.Equal(t, 20.0, full.CPUHistory[1].Value)
	require.Equal(t, 50.0, full.MemoryHistory[1].Value)

	// The summary reflects the latest observed snapshot.
	require.Equal(t, 20.0, full.CPUPercent)
	require.Equal(t, uint64(2<<30), full.MemoryBytes)
	require.Equal(t, "2G", full.MemoryHuman)
}

func TestSummaryIsSubsetOfFull(t *testing.T) {
	a := MustNewAggregator(NewDefaultConfig())
	a.IncTotalRequests()
	a.ObserveSample(sampler.Snapshot{CPUPercent: 5, MemoryPercent: 10, Timestamp: time.Now()})

	summaryJSON, err := json.Marshal(a.Summary())
	require.NoError(t, err)
	fullJSON, err := json.Marshal(a.Full())
	require.NoError(t, err)

	var summaryFields, fullFields map[string]interface{}
	require.NoError(t, json.Unmarshal(summaryJSON, &summaryFields))
	require.NoError(t, json.Unmarshal(fullJSON, &fullFields))

	for field := range summaryFields {
		require.Contains(t, fullFields, field)
	}
	require.Contains(t, fullFields, "cpuHistory")
	require.Contains(t, fullFields, "memoryHistory")
	require.NotContains(t, summaryFields, "cpuHistory")
}

func TestAggregatorUptime(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := MustNewAggregator(NewDefaultConfig(), withClock(func() time.Time { return clock }))

	clock = clock.Add(90 * time.Second)
	summary := a.Summary()
	require.Equal(t, 90.0, summary.UptimeSeconds)
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.Equal(t, DefaultHistoryCapacity, cfg.HistoryCapacity)
	require.NoError(t, cfg.Validate())

	cfg.HistoryCapacity = 0
	require.ErrorContains(t, cfg.Validate(), "history capacity should be >= 1")
}
