/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package middleware glues the resource sampler, the graduated throttle engine,
// the per-client rate limiter and the stats aggregator into a net/http
// middleware. The sampler runs continuously and independently; on each incoming
// request the middleware queries its current usage, consults the limiter and
// the engine, acts on the result and reports the outcome to the aggregator.
package middleware

import (
	"fmt"
	"net"
	"net/http"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-loadguard/log"
	"github.com/acronis/go-loadguard/metrics"
	"github.com/acronis/go-loadguard/ratelimit"
	"github.com/acronis/go-loadguard/sampler"
	"github.com/acronis/go-loadguard/stats"
	"github.com/acronis/go-loadguard/throttle"
)

// DefaultErrDomain is the default error domain used in error responses.
const DefaultErrDomain = "LoadGuard"

// GetKeyFunc is a function that is called for getting the client key for rate limiting.
// Returning bypass=true exempts the request from rate limiting.
type GetKeyFunc func(r *http.Request) (key string, bypass bool)

// Guard composes the sampler, the decision engine, the rate limiter and the
// stats aggregator, and owns their lifecycles.
type Guard struct {
	sampler    *sampler.Sampler
	engine     *throttle.Engine
	limiter    *ratelimit.Limiter
	aggregator *stats.Aggregator

	// Usage reads go through funcs so they can be substituted in tests.
	cpuUsage func() float64
	memUsage func() float64

	logger    log.FieldLogger
	sink      metrics.Sink
	errDomain string

	cpuLimit      float64
	dryRun        bool
	excludedPaths []func(string) bool
	getKey        GetKeyFunc
}

// GuardOption is a functional option for the Guard.
type GuardOption func(*guardOptions)

type guardOptions struct {
	logger    log.FieldLogger
	sink      metrics.Sink
	errDomain string
	getKey    GetKeyFunc
}

// WithLogger returns a GuardOption that sets the logger for the Guard and its components.
func WithLogger(logger log.FieldLogger) GuardOption {
	return func(o *guardOptions) {
		o.logger = logger
	}
}

// WithMetricsSink returns a GuardOption that sets the metrics sink for the Guard and its components.
func WithMetricsSink(sink metrics.Sink) GuardOption {
	return func(o *guardOptions) {
		o.sink = sink
	}
}

// WithErrDomain returns a GuardOption that sets the error domain used in error responses.
func WithErrDomain(errDomain string) GuardOption {
	return func(o *guardOptions) {
		o.errDomain = errDomain
	}
}

// WithGetKeyFunc returns a GuardOption that replaces the client keying function.
func WithGetKeyFunc(getKey GetKeyFunc) GuardOption {
	return func(o *guardOptions) {
		o.getKey = getKey
	}
}

// NewGuard creates a new Guard with all components wired together:
// the aggregator subscribes to sampler ticks and the limiter's CPU-aware
// tightening reads the sampler's current CPU usage.
func NewGuard(cfg *Config, opts ...GuardOption) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate guard config: %w", err)
	}

	o := guardOptions{
		logger:    log.NewDisabledLogger(),
		sink:      metrics.NoopSink{},
		errDomain: DefaultErrDomain,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.getKey == nil {
		if cfg.ClientKeyHeader != "" {
			o.getKey = HeaderGetKeyFunc(cfg.ClientKeyHeader)
		} else {
			o.getKey = RemoteAddrGetKeyFunc
		}
	}

	aggregator, err := stats.NewAggregator(&cfg.Stats)
	if err != nil {
		return nil, err
	}

	smplr, err := sampler.New(&cfg.Sampler,
		sampler.WithLogger(o.logger),
		sampler.WithMetricsSink(o.sink),
		sampler.WithOnSample(aggregator.ObserveSample),
	)
	if err != nil {
		return nil, err
	}

	engine, err := throttle.NewEngine(&cfg.Throttle)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(&cfg.RateLimit,
		ratelimit.WithLogger(o.logger),
		ratelimit.WithCPUUsageProvider(smplr.CurrentCPU),
	)
	if err != nil {
		return nil, err
	}

	excluded := make([]func(string) bool, 0, len(cfg.ExcludedPaths))
	for _, pattern := range cfg.ExcludedPaths {
		excluded = append(excluded, glob.Compile(pattern))
	}

	return &Guard{
		sampler:       smplr,
		engine:        engine,
		limiter:       limiter,
		aggregator:    aggregator,
		cpuUsage:      smplr.CurrentCPU,
		memUsage:      smplr.CurrentMemory,
		logger:        o.logger,
		sink:          o.sink,
		errDomain:     o.errDomain,
		cpuLimit:      float64(cfg.CPULimit),
		dryRun:        cfg.DryRun,
		excludedPaths: excluded,
		getKey:        o.getKey,
	}, nil
}

// MustNewGuard is a version of NewGuard that panics if an error occurs.
func MustNewGuard(cfg *Config, opts ...GuardOption) *Guard {
	g, err := NewGuard(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return g
}

// Start launches the sampler loop and the rate limiter sweep.
func (g *Guard) Start() error {
	if err := g.sampler.Start(); err != nil {
		return err
	}
	if err := g.limiter.Start(); err != nil {
		g.sampler.Stop()
		return err
	}
	return nil
}

// Stop halts the background loops and waits for their completion.
func (g *Guard) Stop() {
	g.limiter.Stop()
	g.sampler.Stop()
}

// Sampler returns the guard's resource sampler.
func (g *Guard) Sampler() *sampler.Sampler {
	return g.sampler
}

// Stats returns the guard's stats aggregator.
func (g *Guard) Stats() *stats.Aggregator {
	return g.aggregator
}

func (g *Guard) isExcludedPath(path string) bool {
	for _, match := range g.excludedPaths {
		if match(path) {
			return true
		}
	}
	return false
}

// RemoteAddrGetKeyFunc keys clients by the host part of the remote address.
func RemoteAddrGetKeyFunc(r *http.Request) (string, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host, host == ""
}

// HeaderGetKeyFunc keys clients by the value of the given request header.
// Requests missing the header bypass rate limiting.
func HeaderGetKeyFunc(header string) GetKeyFunc {
	return func(r *http.Request) (string, bool) {
		key := r.Header.Get(header)
		return key, key == ""
	}
}
