package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/aigate/config"
	"github.com/BaSui01/aigate/internal/ctxkeys"
	"github.com/BaSui01/aigate/internal/metrics"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

type envelope struct {
	Success bool `json:"success"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	return env
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

// =============================================================================
// 🧪 Chain / 基础中间件
// =============================================================================

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(okHandler, mark("first"), mark("second"), mark("third"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders()(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", rec.Header().Get("Content-Security-Policy"))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.True(t, strings.HasPrefix(seen, "req-"))
		assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	})

	t.Run("preserved", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "client-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "client-123", seen)
		assert.Equal(t, "client-123", rec.Header().Get("X-Request-ID"))
	})

	t.Run("oversized replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("x", maxRequestIDLen+1))
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.True(t, strings.HasPrefix(seen, "req-"))
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeError(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
}

// =============================================================================
// 🔐 Auth
// =============================================================================

func TestAuth(t *testing.T) {
	cfg := config.AuthConfig{
		JWTSecret: "secret",
		JWTIssuer: "aigate",
		APIKeys:   []string{"key-1", "key-2"},
	}
	var subject string
	var hasSubject bool
	h := Auth(cfg, []string{"/health"}, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, hasSubject = ctxkeys.Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	valid := signToken(t, "secret", jwt.MapClaims{
		"sub": "user-42",
		"iss": "aigate",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name        string
		path        string
		headers     map[string]string
		wantStatus  int
		wantSubject string
	}{
		{"skip path", "/health", nil, http.StatusOK, ""},
		{"missing credentials", "/v1/generate", nil, http.StatusUnauthorized, ""},
		{"valid api key", "/v1/generate", map[string]string{"X-API-Key": "key-2"}, http.StatusOK, ""},
		{"invalid api key", "/v1/generate", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized, ""},
		{"valid jwt", "/v1/generate", map[string]string{"Authorization": "Bearer " + valid}, http.StatusOK, "user-42"},
		{"malformed header", "/v1/generate", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, ""},
		{"wrong secret", "/v1/generate", map[string]string{"Authorization": "Bearer " + signToken(t, "other", jwt.MapClaims{
			"sub": "user-42", "iss": "aigate", "exp": time.Now().Add(time.Hour).Unix(),
		})}, http.StatusUnauthorized, ""},
		{"expired", "/v1/generate", map[string]string{"Authorization": "Bearer " + signToken(t, "secret", jwt.MapClaims{
			"sub": "user-42", "iss": "aigate", "exp": time.Now().Add(-time.Hour).Unix(),
		})}, http.StatusUnauthorized, ""},
		{"wrong issuer", "/v1/generate", map[string]string{"Authorization": "Bearer " + signToken(t, "secret", jwt.MapClaims{
			"sub": "user-42", "iss": "someone-else", "exp": time.Now().Add(time.Hour).Unix(),
		})}, http.StatusUnauthorized, ""},
		{"missing subject", "/v1/generate", map[string]string{"Authorization": "Bearer " + signToken(t, "secret", jwt.MapClaims{
			"iss": "aigate", "exp": time.Now().Add(time.Hour).Unix(),
		})}, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, hasSubject = "", false
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Error.Code)
				return
			}
			assert.Equal(t, tt.wantSubject, subject)
			assert.Equal(t, tt.wantSubject != "", hasSubject)
		})
	}
}

func TestAuth_AllowAnonymous(t *testing.T) {
	h := Auth(config.AuthConfig{AllowAnonymous: true}, nil, zap.NewNop())(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/generate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// 显式提供的错误凭证仍然被拒绝
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// 🚦 RateLimiter
// =============================================================================

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimiter(ctx, 0.001, 1, nil, zap.NewNop())(okHandler)

	send := func(remote, subject string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
		req.RemoteAddr = remote
		if subject != "" {
			req = req.WithContext(ctxkeys.WithSubject(req.Context(), subject))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234", "").Code)

	limited := send("10.0.0.1:5678", "")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1000", limited.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeError(t, limited).Error.Code)

	// 其他 IP 与已认证用户各有独立的令牌桶
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234", "").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234", "alice").Code)
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.3:1234", "alice").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234", "bob").Code)
}

func TestVisitorLimits_Sweep(t *testing.T) {
	v := &visitorLimits{rps: 1, burst: 1, visitors: make(map[string]*visitor)}
	now := time.Now()

	ok, _ := v.reserve("ip:a", now)
	assert.True(t, ok)
	ok, wait := v.reserve("ip:a", now)
	assert.False(t, ok)
	assert.InDelta(t, time.Second, wait, float64(10*time.Millisecond))

	v.reserve("ip:b", now.Add(visitorTTL))
	v.sweep(now.Add(visitorTTL + time.Second))
	assert.NotContains(t, v.visitors, "ip:a")
	assert.Contains(t, v.visitors, "ip:b")
}

func TestRateLimiter_Disabled(t *testing.T) {
	h := RateLimiter(context.Background(), 0, 0, nil, zap.NewNop())(okHandler)
	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

// =============================================================================
// 🌍 CORS / 📊 Metrics
// =============================================================================

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/v1/generate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/generate", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("mw", reg, zap.NewNop())
	h := MetricsMiddleware(collector, []string{"/v1/generate"})(okHandler)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/generate", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/abc123", nil))

	families, err := reg.Gather()
	require.NoError(t, err)
	var paths []string
	for _, f := range families {
		if f.GetName() != "mw_http_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "path" {
					paths = append(paths, l.GetValue())
				}
			}
		}
	}
	assert.ElementsMatch(t, []string{"/v1/generate", "other"}, paths)
	n, err := testutil.GatherAndCount(reg, "mw_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
