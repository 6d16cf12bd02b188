/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package sampler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-loadguard/config"
)

type stubUsageReader struct {
	usages []Usage
	errs   []error
	calls  int
}

func (r *stubUsageReader) ReadUsage() (Usage, error) {
	i := r.calls
	r.calls++
	if i < len(r.errs) && r.errs[i] != nil {
		return Usage{}, r.errs[i]
	}
	if i >= len(r.usages) {
		i = len(r.usages) - 1
	}
	return r.usages[i], nil
}

const testTotalMemory = 100 << 30 // keeps memory percentages round

func makeSampler(t *testing.T, reader UsageReader, opts ...Option) (*Sampler, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts = append(opts, WithUsageReader(reader), withClock(clock.Now), withNumCPU(1))
	s, err := New(NewDefaultConfig(), opts...)
	require.NoError(t, err)
	return s, clock
}

type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestSamplerCPUPercent(t *testing.T) {
	// CPU time deltas of 0.1s, 0.3s, 0.2s over 1s wall intervals on one core
	// yield 10%, 30%, 20%.
	reader := &stubUsageReader{usages: []Usage{
		{CPUTime: 0, ResidentBytes: 1 << 30, TotalMemoryBytes: testTotalMemory},
		{CPUTime: 0.1, ResidentBytes: 1 << 30, TotalMemoryBytes: testTotalMemory},
		{CPUTime: 0.4, ResidentBytes: 1 << 30, TotalMemoryBytes: testTotalMemory},
		{CPUTime: 0.6, ResidentBytes: 1 << 30, TotalMemoryBytes: testTotalMemory},
	}}
	s, clock := makeSampler(t, reader)

	s.sampleOnce() // the first sample only establishes the baseline
	require.Equal(t, 0.0, s.CurrentCPU())

	wantCPU := []float64{10, 30, 20}
	for _, want := range wantCPU {
		clock.Advance(time.Second)
		s.sampleOnce()
		require.InDelta(t, want, s.CurrentCPU(), 1e-9)
	}

	snap := s.Snapshot()
	require.InDelta(t, 20, snap.AvgCPU, 1e-9)
	require.InDelta(t, 30, snap.PeakCPU, 1e-9)
}

func TestSamplerMemoryAggregates(t *testing.T) {
	// Resident sizes of 10, 30, 20 GiB against 100 GiB total: 10%, 30%, 20%.
	reader := &stubUsageReader{usages: []Usage{
		{ResidentBytes: 10 << 30, TotalMemoryBytes: testTotalMemory},
		{ResidentBytes: 30 << 30, TotalMemoryBytes: testTotalMemory},
		{ResidentBytes: 20 << 30, TotalMemoryBytes: testTotalMemory},
	}}
	s, clock := makeSampler(t, reader)

	for i := 0; i < 3; i++ {
		s.sampleOnce()
		clock.Advance(time.Second)
	}

	snap := s.Snapshot()
	require.InDelta(t, 20, snap.MemoryPercent, 1e-9)
	require.InDelta(t, 20, snap.AvgMemory, 1e-9)
	require.InDelta(t, 30, snap.PeakMemory, 1e-9)
	require.Equal(t, uint64(20<<30), snap.MemoryBytes)
	require.False(t, snap.TotalMemoryApprox)
}

func TestSamplerTotalMemoryApproximation(t *testing.T) {
	t.Run("small residency is clamped to the lower bound", func(t *testing.T) {
		reader := &stubUsageReader{usages: []Usage{{ResidentBytes: 512 << 20}}}
		s, _ := makeSampler(t, reader)
		s.sampleOnce()
		snap := s.Snapshot()
		require.True(t, snap.TotalMemoryApprox)
		require.Equal(t, uint64(4<<30), snap.TotalMemoryBytes)
		require.InDelta(t, 12.5, snap.MemoryPercent, 1e-9) // 512MiB of 4GiB
	})

	t.Run("large residency is clamped to the upper bound", func(t *testing.T) {
		reader := &stubUsageReader{usages: []Usage{{ResidentBytes: 32 << 30}}}
		s, _ := makeSampler(t, reader)
		s.sampleOnce()
		snap := s.Snapshot()
		require.True(t, snap.TotalMemoryApprox)
		require.Equal(t, uint64(64<<30), snap.TotalMemoryBytes)
	})

	t.Run("mid-range residency scales by four", func(t *testing.T) {
		reader := &stubUsageReader{usages: []Usage{{ResidentBytes: 4 << 30}}}
		s, _ := makeSampler(t, reader)
		s.sampleOnce()
		snap := s.Snapshot()
		require.True(t, snap.TotalMemoryApprox)
		require.Equal(t, uint64(16<<30), snap.TotalMemoryBytes)
		require.InDelta(t, 25, snap.MemoryPercent, 1e-9)
	})
}

func TestSamplerFailedSamplesAreSwallowed(t *testing.T) {
	readErr := fmt.Errorf("proc filesystem gone")
	reader := &stubUsageReader{
		usages: []Usage{
			{CPUTime: 0, ResidentBytes: 10 << 30, TotalMemoryBytes: testTotalMemory},
			{},
			{CPUTime: 0.5, ResidentBytes: 10 << 30, TotalMemoryBytes: testTotalMemory},
		},
		errs: []error{nil, readErr, nil},
	}
	s, clock := makeSampler(t, reader)

	s.sampleOnce()
	clock.Advance(time.Second)
	s.sampleOnce() // fails, last good values persist
	require.InDelta(t, 10, s.CurrentMemory(), 1e-9)

	clock.Advance(time.Second)
	s.sampleOnce()
	// CPU delta is computed against the last successful sample, two seconds ago.
	require.InDelta(t, 25, s.CurrentCPU(), 1e-9)
}

func TestSamplerOnSampleCallback(t *testing.T) {
	var got []Snapshot
	reader := &stubUsageReader{usages: []Usage{{ResidentBytes: 1 << 30, TotalMemoryBytes: testTotalMemory}}}
	s, clock := makeSampler(t, reader, WithOnSample(func(snap Snapshot) {
		got = append(got, snap)
	}))

	s.sampleOnce()
	clock.Advance(time.Second)
	s.sampleOnce()

	require.Len(t, got, 2)
	require.Equal(t, clock.Now(), got[1].Timestamp)
	require.True(t, got[1].Timestamp.After(got[0].Timestamp))
}

func TestSamplerStartStop(t *testing.T) {
	reader := &stubUsageReader{usages: []Usage{{ResidentBytes: 1 << 30, TotalMemoryBytes: testTotalMemory}}}
	s, err := New(NewDefaultConfig(), WithUsageReader(reader))
	require.NoError(t, err)

	require.NoError(t, s.Start())
	require.ErrorContains(t, s.Start(), "already started")
	// Start takes the baseline sample synchronously.
	require.Greater(t, s.CurrentMemory(), 0.0)
	s.Stop()
	s.Stop() // stopping a stopped sampler is a no-op
}

func TestSamplerConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.Equal(t, config.TimeDuration(time.Second), cfg.Interval)
	require.NoError(t, cfg.Validate())

	cfg.Interval = config.TimeDuration(-time.Second)
	require.Error(t, cfg.Validate())
}
