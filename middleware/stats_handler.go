/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/acronis/go-loadguard/restapi"
	"github.com/acronis/go-loadguard/throttle"
)

type healthStatus struct {
	Status string `json:"status"`
}

// StatsHandler returns an HTTP handler exposing the guard's status:
//
//	GET /        summary stats
//	GET /full    summary plus the CPU and memory history buffers
//	GET /healthz liveness, always 200
//	GET /readyz  readiness, 503 once blended usage reaches the hard limit
//
// Mount it on an internal port, the endpoints are not meant for public traffic.
func (g *Guard) StatsHandler() http.Handler {
	router := chi.NewRouter()
	router.Get("/", func(rw http.ResponseWriter, r *http.Request) {
		restapi.RespondJSON(rw, g.aggregator.Summary(), g.logger)
	})
	router.Get("/full", func(rw http.ResponseWriter, r *http.Request) {
		restapi.RespondJSON(rw, g.aggregator.Full(), g.logger)
	})
	router.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		restapi.RespondJSON(rw, healthStatus{Status: "ok"}, g.logger)
	})
	router.Get("/readyz", func(rw http.ResponseWriter, r *http.Request) {
		out := g.engine.DecideBlended(g.cpuUsage(), g.memUsage())
		if out.Action == throttle.ActionReject {
			restapi.RespondCodeAndJSON(rw, http.StatusServiceUnavailable, healthStatus{Status: "overloaded"}, g.logger)
			return
		}
		restapi.RespondJSON(rw, healthStatus{Status: "ok"}, g.logger)
	})
	return router
}
