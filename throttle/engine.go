/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package throttle provides a graduated admission decision engine.
// Instead of a binary accept/reject cutoff, the engine maps a resource usage
// percentage to one of three actions: allow below the soft limit, delay with a
// configurable curve inside the [soft, hard) band, and reject at or above the
// hard limit. The engine is pure and synchronous: it computes the delay but
// never performs the actual suspension, that is the caller's responsibility.
package throttle

import (
	"fmt"
	"time"
)

// Action represents an admission decision.
type Action int

// Admission decisions, ordered by severity.
const (
	ActionAllow Action = iota
	ActionDelay
	ActionReject
)

// String returns a string representation of the action.
// Implements fmt.Stringer interface.
func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionDelay:
		return "delay"
	case ActionReject:
		return "reject"
	}
	return fmt.Sprintf("unknown(%d)", int(a))
}

// Outcome is the result of an admission decision.
type Outcome struct {
	Action    Action
	Delay     time.Duration
	Usage     float64
	SoftLimit float64
	HardLimit float64
}

// Engine maps usage percentages to graduated admission decisions.
// It is stateless, safe for concurrent use and never fails.
type Engine struct {
	softLimit    float64
	hardLimit    float64
	minDelay     time.Duration
	maxDelay     time.Duration
	exponential  bool
	memoryWeight float64
}

// NewEngine creates a new Engine from the validated configuration.
func NewEngine(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate throttle config: %w", err)
	}
	return &Engine{
		softLimit:    float64(cfg.SoftLimit),
		hardLimit:    float64(cfg.HardLimit),
		minDelay:     time.Duration(cfg.MinDelay),
		maxDelay:     time.Duration(cfg.MaxDelay),
		exponential:  cfg.Curve == CurveExponential,
		memoryWeight: cfg.MemoryWeight,
	}, nil
}

// MustNewEngine is a version of NewEngine that panics if an error occurs.
func MustNewEngine(cfg *Config) *Engine {
	e, err := NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// Decide maps the given usage percentage to an admission decision.
func (e *Engine) Decide(usage float64) Outcome {
	out := Outcome{
		Action:    ActionAllow,
		Usage:     usage,
		SoftLimit: e.softLimit,
		HardLimit: e.hardLimit,
	}
	switch {
	case usage >= e.hardLimit:
		out.Action = ActionReject
	case usage >= e.softLimit:
		out.Action = ActionDelay
		out.Delay = e.computeDelay(usage)
	}
	return out
}

// DecideBlended maps a weighted blend of CPU and memory usage to an admission decision:
// usage = cpu*(1-w) + memory*w, where w is the configured memory weight.
// Both inputs must be percentages on the 0-100 scale.
func (e *Engine) DecideBlended(cpuPercent, memoryPercent float64) Outcome {
	return e.Decide(cpuPercent*(1-e.memoryWeight) + memoryPercent*e.memoryWeight)
}

// computeDelay interpolates the delay across the [soft, hard) band.
// The exponential curve keeps delays short near the soft limit and
// ramps them up sharply as usage approaches the hard limit.
func (e *Engine) computeDelay(usage float64) time.Duration {
	position := (usage - e.softLimit) / (e.hardLimit - e.softLimit)
	if position < 0 {
		position = 0
	}
	if position > 1 {
		position = 1
	}
	if e.exponential {
		position *= position
	}
	return e.minDelay + time.Duration(position*float64(e.maxDelay-e.minDelay))
}
