/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	respRec := httptest.NewRecorder()
	apiErr := NewError("MyService", ErrCodeTooManyRequests, ErrMessageTooManyRequests)
	apiErr.AddContext("reason", "cpu")
	RespondError(respRec, http.StatusTooManyRequests, apiErr, nil)

	require.Equal(t, http.StatusTooManyRequests, respRec.Code)
	require.Equal(t, ContentTypeAppJSON, respRec.Header().Get("Content-Type"))

	var respData ErrorResponseData
	require.NoError(t, json.Unmarshal(respRec.Body.Bytes(), &respData))
	require.Equal(t, "MyService", respData.Err.Domain)
	require.Equal(t, ErrCodeTooManyRequests, respData.Err.Code)
	require.Equal(t, ErrMessageTooManyRequests, respData.Err.Message)
	require.Equal(t, "cpu", respData.Err.Context["reason"])
}

func TestRespondJSON(t *testing.T) {
	respRec := httptest.NewRecorder()
	RespondJSON(respRec, map[string]string{"status": "ok"}, nil)
	require.Equal(t, http.StatusOK, respRec.Code)
	require.JSONEq(t, `{"status": "ok"}`, respRec.Body.String())
}

func TestRespondCodeAndJSONNilBody(t *testing.T) {
	respRec := httptest.NewRecorder()
	RespondCodeAndJSON(respRec, http.StatusNoContent, nil, nil)
	require.Equal(t, http.StatusNoContent, respRec.Code)
	require.Empty(t, respRec.Body.String())
}
