/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/acronis/go-loadguard/log"
	"github.com/acronis/go-loadguard/restapi"
	"github.com/acronis/go-loadguard/throttle"
)

// Throttle reasons reported in counters and metrics.
const (
	ReasonCPU   = "cpu"
	ReasonUsage = "usage"
)

// Middleware returns a middleware that applies admission control to HTTP requests.
// Check order: path exclusion, per-client rate limit, hard CPU limit,
// graduated usage decision (reject or delay), then the next handler.
// Rate limit consumption is committed before any delay is awaited.
func (g *Guard) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &guardHandler{guard: g, next: next}
	}
}

type guardHandler struct {
	guard *Guard
	next  http.Handler
}

// nolint:gocyclo
func (h *guardHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	g := h.guard
	start := time.Now()
	defer func() {
		g.sink.ObserveRequestDuration(time.Since(start))
	}()

	g.aggregator.IncTotalRequests()

	if g.isExcludedPath(r.URL.Path) {
		h.next.ServeHTTP(rw, r)
		return
	}

	if !h.checkRateLimit(rw, r) {
		return
	}

	cpu := g.cpuUsage()
	if cpu >= g.cpuLimit {
		g.aggregator.IncThrottled(ReasonCPU)
		g.sink.IncThrottled(ReasonCPU)
		if !g.dryRun {
			apiErr := restapi.NewError(g.errDomain, restapi.ErrCodeServiceOverloaded, restapi.ErrMessageServiceOverloaded)
			apiErr.AddContext("reason", ReasonCPU)
			restapi.RespondError(rw, http.StatusServiceUnavailable, apiErr, g.logger)
			return
		}
		g.logger.Warn("cpu limit exceeded, serving will be continued because of dry run mode",
			log.Float64("cpu_percent", cpu))
	}

	out := g.engine.DecideBlended(cpu, g.memUsage())
	switch out.Action {
	case throttle.ActionReject:
		g.aggregator.IncThrottled(ReasonUsage)
		g.sink.IncThrottled(ReasonUsage)
		if !g.dryRun {
			apiErr := restapi.NewError(g.errDomain, restapi.ErrCodeServiceOverloaded, restapi.ErrMessageServiceOverloaded)
			apiErr.AddContext("reason", ReasonUsage)
			restapi.RespondError(rw, http.StatusServiceUnavailable, apiErr, g.logger)
			return
		}
		g.logger.Warn("usage hard limit exceeded, serving will be continued because of dry run mode",
			log.Float64("usage_percent", out.Usage))

	case throttle.ActionDelay:
		g.aggregator.IncDelayed()
		g.sink.IncDelayed()
		g.sink.ObserveDelay(out.Delay)
		if g.dryRun {
			g.logger.Info("usage soft limit exceeded, delay is skipped because of dry run mode",
				log.Float64("usage_percent", out.Usage), log.Duration("delay", out.Delay))
			break
		}
		// The suspension is abortable by request cancellation; a canceled
		// request gets no response, its client is already gone.
		timer := time.NewTimer(out.Delay)
		defer timer.Stop()
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
		}
	}

	h.next.ServeHTTP(rw, r)
}

// checkRateLimit reports whether the request passed the per-client rate limit.
// A false return means the response has already been written.
func (h *guardHandler) checkRateLimit(rw http.ResponseWriter, r *http.Request) bool {
	g := h.guard

	key, bypass := g.getKey(r)
	if bypass {
		return true
	}

	res, err := g.limiter.Check(r.Context(), key)
	if err != nil {
		g.logger.Error("rate limit check failed", log.String("rate_limit_key", key), log.Error(err))
		if g.dryRun {
			return true
		}
		restapi.RespondInternalError(rw, g.errDomain, g.logger)
		return false
	}

	remaining := res.EffectiveLimit - res.CurrentCount
	if remaining < 0 {
		remaining = 0
	}
	rw.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.EffectiveLimit))
	rw.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	rw.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(math.Ceil(res.ResetIn.Seconds()))))

	if res.Allowed {
		return true
	}

	g.aggregator.IncRateLimited()
	g.sink.IncRateLimited()
	if g.dryRun {
		g.logger.Warn("rate limit exceeded, serving will be continued because of dry run mode",
			log.String("rate_limit_key", key))
		return true
	}

	rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.ResetIn.Seconds()))))
	apiErr := restapi.NewError(g.errDomain, restapi.ErrCodeTooManyRequests, restapi.ErrMessageTooManyRequests)
	restapi.RespondError(rw, http.StatusTooManyRequests, apiErr, g.logger)
	return false
}
