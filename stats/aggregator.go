/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package stats aggregates admission outcome counters and a bounded history of
// sampled resource usage. It is the single source of truth for both the summary
// and the full status views: the full view is derived from the same state and
// strictly extends the summary, so the two can never drift apart.
package stats

import (
	"fmt"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/rs/xid"
	"go.uber.org/atomic"

	"github.com/acronis/go-loadguard/sampler"
)

// SummaryStats is a compact status snapshot: current resource usage,
// aggregates and outcome counters.
type SummaryStats struct {
	InstanceID    string    `json:"instanceId"`
	StartedAt     time.Time `json:"startedAt"`
	UptimeSeconds float64   `json:"uptimeSeconds"`

	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	MemoryBytes   uint64  `json:"memoryBytes"`
	MemoryHuman   string  `json:"memoryHuman"`

	TotalMemoryBytes  uint64 `json:"totalMemoryBytes"`
	TotalMemoryApprox bool   `json:"totalMemoryApprox"`

	AvgCPU     float64 `json:"avgCpu"`
	PeakCPU    float64 `json:"peakCpu"`
	AvgMemory  float64 `json:"avgMemory"`
	PeakMemory float64 `json:"peakMemory"`

	TotalRequests       uint64            `json:"totalRequests"`
	RequestsThrottled   map[string]uint64 `json:"requestsThrottled"`
	RequestsDelayed     uint64            `json:"requestsDelayed"`
	RequestsRateLimited uint64            `json:"requestsRateLimited"`
}

// FullStats is the summary extended with the sampled history buffers.
type FullStats struct {
	SummaryStats

	CPUHistory    []HistoricalPoint `json:"cpuHistory"`
	MemoryHistory []HistoricalPoint `json:"memoryHistory"`
}

// Aggregator accumulates outcome counters and resource usage history.
// Counters are safe to increment from any goroutine; history is appended
// once per sampler tick, not per request.
type Aggregator struct {
	instanceID string
	startedAt  time.Time
	now        func() time.Time

	totalRequests       *atomic.Uint64
	requestsDelayed     *atomic.Uint64
	requestsRateLimited *atomic.Uint64

	mu                sync.Mutex
	requestsThrottled map[string]uint64
	lastSnap          sampler.Snapshot
	cpuHistory        *ring
	memHistory        *ring
}

// AggregatorOption is a functional option for the Aggregator.
type AggregatorOption func(*aggregatorOptions)

type aggregatorOptions struct {
	now func() time.Time
}

func withClock(now func() time.Time) AggregatorOption {
	return func(o *aggregatorOptions) {
		o.now = now
	}
}

// NewAggregator creates a new Aggregator.
func NewAggregator(cfg *Config, opts ...AggregatorOption) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate stats config: %w", err)
	}
	o := aggregatorOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Aggregator{
		instanceID:          xid.New().String(),
		startedAt:           o.now(),
		now:                 o.now,
		totalRequests:       atomic.NewUint64(0),
		requestsDelayed:     atomic.NewUint64(0),
		requestsRateLimited: atomic.NewUint64(0),
		requestsThrottled:   make(map[string]uint64),
		cpuHistory:          newRing(cfg.HistoryCapacity),
		memHistory:          newRing(cfg.HistoryCapacity),
	}, nil
}

// MustNewAggregator is a version of NewAggregator that panics if an error occurs.
func MustNewAggregator(cfg *Config, opts ...AggregatorOption) *Aggregator {
	a, err := NewAggregator(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// ObserveSample records one sampler tick: appends a point to each history
// buffer and remembers the snapshot for the status views.
// Wire it via sampler.WithOnSample.
func (a *Aggregator) ObserveSample(snap sampler.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSnap = snap
	a.cpuHistory.append(HistoricalPoint{Timestamp: snap.Timestamp, Value: snap.CPUPercent})
	a.memHistory.append(HistoricalPoint{Timestamp: snap.Timestamp, Value: snap.MemoryPercent})
}

// IncTotalRequests increments the total requests counter.
func (a *Aggregator) IncTotalRequests() {
	a.totalRequests.Inc()
}

// IncThrottled increments the throttled counter for the given reason.
func (a *Aggregator) IncThrottled(reason string) {
	a.mu.Lock()
	a.requestsThrottled[reason]++
	a.mu.Unlock()
}

// IncDelayed increments the delayed requests counter.
func (a *Aggregator) IncDelayed() {
	a.requestsDelayed.Inc()
}

// IncRateLimited increments the rate-limited requests counter.
func (a *Aggregator) IncRateLimited() {
	a.requestsRateLimited.Inc()
}

// Summary returns a compact status snapshot.
func (a *Aggregator) Summary() SummaryStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summaryLocked()
}

// Full returns the summary extended with the history buffers.
func (a *Aggregator) Full() FullStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return FullStats{
		SummaryStats:  a.summaryLocked(),
		CPUHistory:    a.cpuHistory.snapshot(),
		MemoryHistory: a.memHistory.snapshot(),
	}
}

func (a *Aggregator) summaryLocked() SummaryStats {
	throttled := make(map[string]uint64, len(a.requestsThrottled))
	for reason, n := range a.requestsThrottled {
		throttled[reason] = n
	}
	snap := a.lastSnap
	return SummaryStats{
		InstanceID:          a.instanceID,
		StartedAt:           a.startedAt,
		UptimeSeconds:       a.now().Sub(a.startedAt).Seconds(),
		CPUPercent:          snap.CPUPercent,
		MemoryPercent:       snap.MemoryPercent,
		MemoryBytes:         snap.MemoryBytes,
		MemoryHuman:         bytefmt.ByteSize(snap.MemoryBytes),
		TotalMemoryBytes:    snap.TotalMemoryBytes,
		TotalMemoryApprox:   snap.TotalMemoryApprox,
		AvgCPU:              snap.AvgCPU,
		PeakCPU:             snap.PeakCPU,
		AvgMemory:           snap.AvgMemory,
		PeakMemory:          snap.PeakMemory,
		TotalRequests:       a.totalRequests.Load(),
		RequestsThrottled:   throttled,
		RequestsDelayed:     a.requestsDelayed.Load(),
		RequestsRateLimited: a.requestsRateLimited.Load(),
	}
}
