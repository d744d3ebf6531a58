package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/aigate/types"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status    int
		code      types.ErrorCode
		retryable bool
	}{
		{http.StatusTooManyRequests, types.ErrProviderRateLimited, true},
		{http.StatusInternalServerError, types.ErrProviderUnavailable, true},
		{http.StatusBadGateway, types.ErrProviderUnavailable, true},
		{529, types.ErrProviderUnavailable, true},
		{http.StatusBadRequest, types.ErrProviderInvalidResponse, false},
		{http.StatusUnauthorized, types.ErrProviderInvalidResponse, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := MapHTTPError(tt.status, "boom", "openai")
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "openai", err.Provider)
			assert.True(t, types.IsProviderFailure(err))
		})
	}
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad key (type: auth)", ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad key","type":"auth"}}`)))
	assert.Equal(t, "plain failure", ReadErrorMessage(strings.NewReader("plain failure")))
}

func TestPostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		switch r.URL.Path {
		case "/ok":
			fmt.Fprint(w, `{"value":"hello"}`)
		case "/garbage":
			fmt.Fprint(w, "not json")
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, `{}`)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
		}
	}))
	t.Cleanup(server.Close)

	headers := func(r *http.Request) { r.Header.Set("X-Test", "yes") }
	var out struct {
		Value string `json:"value"`
	}

	require.NoError(t, PostJSON(context.Background(), server.Client(), server.URL+"/ok", headers, map[string]string{}, &out, "p"))
	assert.Equal(t, "hello", out.Value)

	err := PostJSON(context.Background(), server.Client(), server.URL+"/garbage", headers, map[string]string{}, &out, "p")
	assert.Equal(t, types.ErrProviderInvalidResponse, types.GetErrorCode(err))

	err = PostJSON(context.Background(), server.Client(), server.URL+"/limited", headers, map[string]string{}, &out, "p")
	assert.Equal(t, types.ErrProviderRateLimited, types.GetErrorCode(err))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = PostJSON(ctx, server.Client(), server.URL+"/slow", headers, map[string]string{}, &out, "p")
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
}
