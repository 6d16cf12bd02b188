/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package sampler provides a background process resource sampler.
// It periodically measures CPU and memory utilization of the running process,
// maintains running averages and peaks, and exposes thread-safe current values
// and consistent point-in-time snapshots. Sampling is decoupled from request
// handling: a single continuously running loop owns all aggregate mutation,
// so per-request reads are non-blocking and never trigger measurement.
package sampler

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-loadguard/log"
	"github.com/acronis/go-loadguard/metrics"
)

// Bounds for the heuristic total-memory approximation that is used
// when the real total is not queryable from the OS.
const (
	minApproxTotalMemoryBytes = 4 << 30  // 4 GiB
	maxApproxTotalMemoryBytes = 64 << 30 // 64 GiB
)

// Snapshot is a consistent point-in-time view of the sampled process resource usage.
// All percentage values are in the [0, 100] range. A Snapshot is immutable once returned.
type Snapshot struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	MemoryBytes   uint64  `json:"memoryBytes"`

	// TotalMemoryBytes is the total memory against which MemoryPercent is computed.
	// When TotalMemoryApprox is true, the value is a best-effort heuristic derived
	// from the observed peak residency (bounded to [4 GiB, 64 GiB]) and must not
	// be treated as an authoritative measurement.
	TotalMemoryBytes  uint64 `json:"totalMemoryBytes"`
	TotalMemoryApprox bool   `json:"totalMemoryApprox"`

	AvgCPU     float64   `json:"avgCpu"`
	PeakCPU    float64   `json:"peakCpu"`
	AvgMemory  float64   `json:"avgMemory"`
	PeakMemory float64   `json:"peakMemory"`
	Timestamp  time.Time `json:"timestamp"`
}

// Usage is a raw process resource measurement consumed by the Sampler.
type Usage struct {
	// CPUTime is the total CPU time the process has consumed, in seconds.
	CPUTime float64

	// ResidentBytes is the resident set size of the process.
	ResidentBytes uint64

	// TotalMemoryBytes is the total memory available to the process.
	// Zero means the value is not queryable and the sampler will approximate it.
	TotalMemoryBytes uint64
}

// UsageReader reads raw process resource usage. Implementations may fail on
// platforms where the underlying source is unavailable; such failures are
// swallowed by the sampler and the last good values are retained.
type UsageReader interface {
	ReadUsage() (Usage, error)
}

// Sampler periodically measures CPU and memory utilization of the running process.
type Sampler struct {
	interval time.Duration
	reader   UsageReader
	logger   log.FieldLogger
	sink     metrics.Sink
	onSample func(Snapshot)
	now      func() time.Time
	numCPU   int

	mu           sync.RWMutex
	snap         Snapshot
	cpuSamples   int64
	memSamples   int64
	lastCPUTime  float64
	lastSampleAt time.Time
	peakResident uint64

	started *atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option is a functional option for the Sampler.
type Option func(*options)

type options struct {
	logger   log.FieldLogger
	sink     metrics.Sink
	onSample func(Snapshot)
	reader   UsageReader
	now      func() time.Time
	numCPU   int
}

// WithLogger returns an Option that sets the logger for the Sampler.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsSink returns an Option that sets the metrics sink for the Sampler.
func WithMetricsSink(sink metrics.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithOnSample returns an Option that sets a callback invoked once per successful
// sample with the fresh snapshot. The callback is called from the sampling loop
// and must not block.
func WithOnSample(fn func(Snapshot)) Option {
	return func(o *options) {
		o.onSample = fn
	}
}

// WithUsageReader returns an Option that replaces the default /proc-based usage reader.
func WithUsageReader(r UsageReader) Option {
	return func(o *options) {
		o.reader = r
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func withNumCPU(n int) Option {
	return func(o *options) {
		o.numCPU = n
	}
}

// New creates a new Sampler.
func New(cfg *Config, opts ...Option) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate sampler config: %w", err)
	}
	interval := time.Duration(cfg.Interval)
	if interval == 0 {
		interval = DefaultInterval
	}

	o := options{
		logger: log.NewDisabledLogger(),
		sink:   metrics.NoopSink{},
		now:    time.Now,
		numCPU: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reader == nil {
		if r, err := newProcUsageReader(); err != nil {
			// Not fatal: every sample will fail and be swallowed, zero values persist.
			o.logger.Warn("process usage source is unavailable, resource sampling will be inactive",
				log.Error(err))
			o.reader = unavailableUsageReader{err: err}
		} else {
			o.reader = r
		}
	}

	return &Sampler{
		interval: interval,
		reader:   o.reader,
		logger:   o.logger,
		sink:     o.sink,
		onSample: o.onSample,
		now:      o.now,
		numCPU:   o.numCPU,
		started:  atomic.NewBool(false),
	}, nil
}

// Start launches the background sampling loop.
// It returns an error if the loop is already running.
// At most one sample computation is in flight at any time.
func (s *Sampler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("sampler is already started")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.sampleOnce() // establish the baseline right away
	go s.loop()
	s.logger.Info("resource sampler started", log.Duration("interval", s.interval))
	return nil
}

// Stop halts the background sampling loop and waits for its completion.
// Stopping a sampler that is not running is a no-op.
func (s *Sampler) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("resource sampler stopped")
}

func (s *Sampler) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

// CurrentCPU returns the most recently sampled process CPU usage in percent.
// It never blocks on measurement.
func (s *Sampler) CurrentCPU() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.CPUPercent
}

// CurrentMemory returns the most recently sampled process memory usage in percent.
// It never blocks on measurement.
func (s *Sampler) CurrentMemory() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.MemoryPercent
}

// Snapshot returns a consistent point-in-time view of the sampled state.
// Callers never observe partially updated fields.
func (s *Sampler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// sampleOnce performs a single measurement and updates the aggregate state.
// Failed samples are swallowed: the last good values are retained until the
// next successful tick, and errors never propagate to callers.
func (s *Sampler) sampleOnce() {
	usage, err := s.reader.ReadUsage()
	if err != nil {
		s.logger.Debug("resource sample failed, keeping last good values", log.Error(err))
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snap
	snap.Timestamp = now

	if usage.ResidentBytes > s.peakResident {
		s.peakResident = usage.ResidentBytes
	}

	total := usage.TotalMemoryBytes
	snap.TotalMemoryApprox = total == 0
	if total == 0 {
		total = approximateTotalMemory(s.peakResident)
	}
	snap.MemoryBytes = usage.ResidentBytes
	snap.TotalMemoryBytes = total
	snap.MemoryPercent = clampPercent(100 * float64(usage.ResidentBytes) / float64(total))
	s.memSamples++
	snap.AvgMemory += (snap.MemoryPercent - snap.AvgMemory) / float64(s.memSamples)
	if snap.MemoryPercent > snap.PeakMemory {
		snap.PeakMemory = snap.MemoryPercent
	}

	// CPU usage needs two points in time; the first sample only sets the baseline.
	if !s.lastSampleAt.IsZero() {
		wallDelta := now.Sub(s.lastSampleAt).Seconds()
		if wallDelta > 0 {
			cpuDelta := usage.CPUTime - s.lastCPUTime
			snap.CPUPercent = clampPercent(100 * cpuDelta / (float64(s.numCPU) * wallDelta))
			s.cpuSamples++
			snap.AvgCPU += (snap.CPUPercent - snap.AvgCPU) / float64(s.cpuSamples)
			if snap.CPUPercent > snap.PeakCPU {
				snap.PeakCPU = snap.CPUPercent
			}
		}
	}
	s.lastSampleAt = now
	s.lastCPUTime = usage.CPUTime

	s.snap = snap

	s.sink.ObserveCPUUsage(snap.CPUPercent)
	s.sink.ObserveMemoryUsage(snap.MemoryPercent)
	if s.onSample != nil {
		s.onSample(snap)
	}
}

// approximateTotalMemory derives a best-effort total memory figure from the
// observed peak residency when the real total is not queryable.
func approximateTotalMemory(peakResident uint64) uint64 {
	approx := peakResident * 4
	if approx < minApproxTotalMemoryBytes {
		return minApproxTotalMemoryBytes
	}
	if approx > maxApproxTotalMemoryBytes {
		return maxApproxTotalMemoryBytes
	}
	return approx
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

type unavailableUsageReader struct {
	err error
}

func (r unavailableUsageReader) ReadUsage() (Usage, error) {
	return Usage{}, r.err
}
