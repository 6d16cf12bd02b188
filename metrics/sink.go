/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package metrics defines the sink capability through which the admission-control
// components report counters and sampled values. Components receive a Sink at
// construction time; the default is a no-op, so metrics never become a hidden
// global dependency.
package metrics

import "time"

// Sink consumes metric values emitted by the admission-control components.
// Implementations must be safe for concurrent use.
type Sink interface {
	// IncThrottled increments the counter of throttled (rejected) requests for the given reason.
	IncThrottled(reason string)

	// IncDelayed increments the counter of delayed requests.
	IncDelayed()

	// IncRateLimited increments the counter of requests rejected by the per-client rate limiter.
	IncRateLimited()

	// ObserveCPUUsage records a sampled process CPU usage percentage.
	ObserveCPUUsage(percent float64)

	// ObserveMemoryUsage records a sampled process memory usage percentage.
	ObserveMemoryUsage(percent float64)

	// ObserveDelay records the delay applied to a request before it was admitted.
	ObserveDelay(d time.Duration)

	// ObserveRequestDuration records the total serving duration of an admitted request.
	ObserveRequestDuration(d time.Duration)
}

// NoopSink is a Sink implementation that discards all values.
type NoopSink struct{}

var _ Sink = NoopSink{}

// IncThrottled does nothing.
func (NoopSink) IncThrottled(string) {}

// IncDelayed does nothing.
func (NoopSink) IncDelayed() {}

// IncRateLimited does nothing.
func (NoopSink) IncRateLimited() {}

// ObserveCPUUsage does nothing.
func (NoopSink) ObserveCPUUsage(float64) {}

// ObserveMemoryUsage does nothing.
func (NoopSink) ObserveMemoryUsage(float64) {}

// ObserveDelay does nothing.
func (NoopSink) ObserveDelay(time.Duration) {}

// ObserveRequestDuration does nothing.
func (NoopSink) ObserveRequestDuration(time.Duration) {}
