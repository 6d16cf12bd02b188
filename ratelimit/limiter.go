/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides a per-client request rate limiter with a selectable
// windowing algorithm (fixed window, sliding window, token bucket or GCRA-based
// leaky bucket) and optional tightening of the effective limit under CPU pressure.
//
// State is local to one running instance. Per-client state is synchronized at
// per-client granularity: concurrent requests from distinct clients never
// contend. A periodic sweep removes entries idle beyond window+grace to bound
// memory growth; it iterates a point-in-time snapshot of keys so lookups are
// never blocked for the full sweep duration.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/throttled/throttled/v2"
	"github.com/throttled/throttled/v2/store/memstore"
	"go.uber.org/atomic"

	"github.com/acronis/go-loadguard/log"
)

// Result is the outcome of a single rate-limit check.
type Result struct {
	// Allowed reports whether the request fits into the client's limit.
	Allowed bool

	// CurrentCount is the client's consumption within the current window
	// after this check has been accounted.
	CurrentCount int

	// EffectiveLimit is the limit this check was evaluated against
	// (the base limit, possibly tightened under CPU pressure).
	EffectiveLimit int

	// ResetIn is an estimate of how long the client has to wait before
	// a denied request could succeed, or until the current window ends.
	ResetIn time.Duration
}

// CPUUsageProvider reports the current process CPU usage percentage.
// It is typically wired to sampler.CurrentCPU.
type CPUUsageProvider func() float64

// Limiter bounds the request rate per client identity.
type Limiter struct {
	alg      string
	limit    int
	window   time.Duration
	checker  checker
	clients  sync.Map // client key -> *clientState
	gcra     *throttled.GCRARateLimiterCtx

	cpuAware     bool
	cpuThreshold float64
	cpuFactor    float64
	cpuUsage     CPUUsageProvider

	sweepInterval time.Duration
	idleTTL       time.Duration

	logger log.FieldLogger
	now    func() time.Time

	started *atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// checker implements a single windowed rate-limiting algorithm.
// It is called with the client's state locked.
type checker interface {
	check(st *clientState, now time.Time, effLimit int) Result
}

// clientState holds algorithm-specific per-client state.
// All fields are guarded by mu; entries are exclusively owned by the Limiter.
type clientState struct {
	mu         sync.Mutex
	lastAccess time.Time

	// fixed window
	windowStart time.Time
	count       int

	// sliding window
	timestamps []time.Time

	// token bucket
	bucket *tokenBucket
}

// Option is a functional option for the Limiter.
type Option func(*limiterOptions)

type limiterOptions struct {
	logger   log.FieldLogger
	cpuUsage CPUUsageProvider
	now      func() time.Time
}

// WithLogger returns an Option that sets the logger for the Limiter.
func WithLogger(logger log.FieldLogger) Option {
	return func(o *limiterOptions) {
		o.logger = logger
	}
}

// WithCPUUsageProvider returns an Option that wires the CPU usage source
// used for CPU-aware tightening of the effective limit.
func WithCPUUsageProvider(p CPUUsageProvider) Option {
	return func(o *limiterOptions) {
		o.cpuUsage = p
	}
}

func withClock(now func() time.Time) Option {
	return func(o *limiterOptions) {
		o.now = now
	}
}

// New creates a new Limiter.
func New(cfg *Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rate limit config: %w", err)
	}

	o := limiterOptions{
		logger: log.NewDisabledLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	alg := cfg.Alg
	if alg == "" {
		alg = AlgFixedWindow
	}

	idleTTL := cfg.Rate.Duration + time.Duration(cfg.IdleGrace)
	if cfg.IdleGrace == 0 {
		idleTTL = cfg.Rate.Duration * 2 // window + one full window of grace
	}
	sweepInterval := time.Duration(cfg.SweepInterval)
	if sweepInterval == 0 {
		sweepInterval = DefaultSweepInterval
	}

	l := &Limiter{
		alg:           alg,
		limit:         cfg.Rate.Count,
		window:        cfg.Rate.Duration,
		cpuAware:      cfg.CPUAware.Enabled,
		cpuThreshold:  float64(cfg.CPUAware.Threshold),
		cpuFactor:     cfg.CPUAware.Factor,
		cpuUsage:      o.cpuUsage,
		sweepInterval: sweepInterval,
		idleTTL:       idleTTL,
		logger:        o.logger,
		now:           o.now,
		started:       atomic.NewBool(false),
	}

	switch alg {
	case AlgFixedWindow:
		l.checker = fixedWindowChecker{window: l.window}
	case AlgSlidingWindow:
		l.checker = slidingWindowChecker{window: l.window}
	case AlgTokenBucket:
		l.checker = tokenBucketChecker{
			window:          l.window,
			tokensPerSecond: cfg.TokensPerSecond,
			bucketSize:      cfg.BucketSize,
		}
	case AlgLeakyBucket:
		gcra, err := newLeakyBucketLimiter(cfg)
		if err != nil {
			return nil, err
		}
		l.gcra = gcra
	}

	return l, nil
}

// MustNew is a version of New that panics if an error occurs.
func MustNew(cfg *Config, opts ...Option) *Limiter {
	l, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// Check accounts a single request for the given client key and reports whether
// it fits into the client's limit. Consumption is committed atomically at check
// time: a caller that delays or aborts the request afterwards cannot undo it.
//
// The error is only possible for the "leaky_bucket" algorithm (its store may fail);
// the windowed algorithms never fail.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	if l.gcra != nil {
		return l.checkLeakyBucket(ctx, key)
	}

	v, _ := l.clients.LoadOrStore(key, &clientState{})
	st := v.(*clientState)

	st.mu.Lock()
	defer st.mu.Unlock()
	now := l.now()
	st.lastAccess = now
	return l.checker.check(st, now, l.effectiveLimit()), nil
}

// EffectiveLimit returns the limit currently applied to clients:
// the base limit, or its tightened value while CPU usage is at or above the threshold.
func (l *Limiter) EffectiveLimit() int {
	return l.effectiveLimit()
}

func (l *Limiter) effectiveLimit() int {
	if l.cpuAware && l.cpuUsage != nil && l.cpuUsage() >= l.cpuThreshold {
		return int(math.Floor(float64(l.limit) * l.cpuFactor))
	}
	return l.limit
}

// ClientCount returns the number of currently tracked client entries.
func (l *Limiter) ClientCount() int {
	n := 0
	l.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Start launches the background sweep that removes idle client entries.
// It returns an error if the sweep is already running.
func (l *Limiter) Start() error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("rate limiter sweep is already started")
	}
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.sweepLoop()
	return nil
}

// Stop halts the background sweep and waits for its completion.
// Stopping a limiter that is not running is a no-op.
func (l *Limiter) Stop() {
	if !l.started.CompareAndSwap(true, false) {
		return
	}
	close(l.stopCh)
	<-l.doneCh
}

func (l *Limiter) sweepLoop() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			removed := l.sweep(l.now())
			if removed > 0 {
				l.logger.Debug("swept idle rate limit clients", log.Int("removed", removed))
			}
		}
	}
}

// sweep removes entries whose lastAccess is older than window+grace.
// It iterates a point-in-time snapshot of keys, locking one entry at a time,
// so concurrent lookups are never blocked for the full sweep duration.
func (l *Limiter) sweep(now time.Time) int {
	var keys []string
	l.clients.Range(func(k, _ interface{}) bool {
		keys = append(keys, k.(string))
		return true
	})

	removed := 0
	for _, key := range keys {
		v, ok := l.clients.Load(key)
		if !ok {
			continue
		}
		st := v.(*clientState)
		st.mu.Lock()
		stale := now.Sub(st.lastAccess) > l.idleTTL
		st.mu.Unlock()
		if stale {
			// A request racing with the delete simply recreates the entry
			// with a fresh window, which is harmless for a stale client.
			l.clients.Delete(key)
			removed++
		}
	}
	return removed
}

func newLeakyBucketLimiter(cfg *Config) (*throttled.GCRARateLimiterCtx, error) {
	maxKeys := cfg.MaxKeys
	if maxKeys == 0 {
		maxKeys = DefaultMaxKeys
	}
	gcraStore, err := memstore.NewCtx(maxKeys)
	if err != nil {
		return nil, fmt.Errorf("new in-memory store: %w", err)
	}
	reqQuota := throttled.RateQuota{
		MaxRate:  throttled.PerDuration(cfg.Rate.Count, cfg.Rate.Duration),
		MaxBurst: cfg.BurstLimit,
	}
	gcraLimiter, err := throttled.NewGCRARateLimiterCtx(gcraStore, reqQuota)
	if err != nil {
		return nil, fmt.Errorf("new GCRA rate limiter: %w", err)
	}
	return gcraLimiter, nil
}

func (l *Limiter) checkLeakyBucket(ctx context.Context, key string) (Result, error) {
	limited, res, err := l.gcra.RateLimitCtx(ctx, key, 1)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %q: %w", key, err)
	}
	resetIn := res.ResetAfter
	if limited {
		resetIn = res.RetryAfter
	}
	return Result{
		Allowed:        !limited,
		CurrentCount:   res.Limit - res.Remaining,
		EffectiveLimit: res.Limit,
		ResetIn:        resetIn,
	}, nil
}
