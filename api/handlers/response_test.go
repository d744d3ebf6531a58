package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/aigate/internal/ctxkeys"
	"github.com/BaSui01/aigate/types"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-42"))
	w := httptest.NewRecorder()

	WriteSuccess(w, r, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeEnvelope(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, map[string]any{"key": "value"}, resp.Data)
}

func TestWriteError_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"orchestration failed", types.NewOrchestrationFailed("clarity", errors.New("a"), errors.New("b")), http.StatusBadGateway, "ORCHESTRATION_FAILED"},
		{"invalid request", types.NewInvalidRequestError("prompt is required"), http.StatusBadRequest, "INVALID_REQUEST"},
		{"unauthorized", types.NewError(types.ErrUnauthorized, "missing credentials"), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"rate limited", types.NewError(types.ErrRateLimited, "slow down"), http.StatusTooManyRequests, "RATE_LIMITED"},
		{"not found", types.NewError(types.ErrNotFound, "nope"), http.StatusNotFound, "NOT_FOUND"},
		{"cost tracking", types.NewCostTrackingFailed(errors.New("db down")), http.StatusInternalServerError, "COST_TRACKING_FAILED"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"wrapped typed", errors.Join(errors.New("ctx"), types.NewInvalidRequestError("bad")), http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)

			WriteError(w, r, tt.err, zap.NewNop())

			assert.Equal(t, tt.status, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Nil(t, resp.Data)
		})
	}
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("dsn=postgres://secret"), nil)

	assert.NotContains(t, w.Body.String(), "secret")
}
