/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-loadguard/stats"
)

func TestGuardStatsHandler(t *testing.T) {
	guard := MustNewGuard(NewDefaultConfig())
	handler := guard.StatsHandler()
	guard.Stats().IncTotalRequests()
	guard.Stats().IncThrottled(ReasonUsage)

	t.Run("summary", func(t *testing.T) {
		respRec := sendReq(t, handler, "/")
		require.Equal(t, http.StatusOK, respRec.Code)
		require.Equal(t, "application/json", respRec.Header().Get("Content-Type"))

		var summary stats.SummaryStats
		require.NoError(t, json.Unmarshal(respRec.Body.Bytes(), &summary))
		require.Equal(t, uint64(1), summary.TotalRequests)
		require.Equal(t, uint64(1), summary.RequestsThrottled[ReasonUsage])
		require.NotEmpty(t, summary.InstanceID)

		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(respRec.Body.Bytes(), &fields))
		require.NotContains(t, fields, "cpuHistory")
	})

	t.Run("full", func(t *testing.T) {
		respRec := sendReq(t, handler, "/full")
		require.Equal(t, http.StatusOK, respRec.Code)

		var fields map[string]interface{}
		require.NoError(t, json.Unmarshal(respRec.Body.Bytes(), &fields))
		require.Contains(t, fields, "cpuHistory")
		require.Contains(t, fields, "memoryHistory")
		require.Contains(t, fields, "totalRequests")
	})

	t.Run("healthz is always ok", func(t *testing.T) {
		guard.cpuUsage = func() float64 { return 100 }
		defer func() { guard.cpuUsage = guard.sampler.CurrentCPU }()
		respRec := sendReq(t, handler, "/healthz")
		require.Equal(t, http.StatusOK, respRec.Code)
	})

	t.Run("readyz follows the hard limit", func(t *testing.T) {
		respRec := sendReq(t, handler, "/readyz")
		require.Equal(t, http.StatusOK, respRec.Code)

		guard.cpuUsage = func() float64 { return 100 }
		guard.memUsage = func() float64 { return 100 }
		respRec = sendReq(t, handler, "/readyz")
		require.Equal(t, http.StatusServiceUnavailable, respRec.Code)

		var status map[string]string
		require.NoError(t, json.Unmarshal(respRec.Body.Bytes(), &status))
		require.Equal(t, "overloaded", status["status"])
	})
}
