package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_CORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		expectedCORS   string
		shouldCallNext bool
	}{
		{"GET request with CORS headers", "*", http.MethodGet, "*", true},
		{"POST request with specific origin", "https://example.com", http.MethodPost, "https://example.com", true},
		{"OPTIONS request (preflight)", "*", http.MethodOptions, "*", false},
		{"empty CORS origin allows all", "", http.MethodGet, "*", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &Server{corsOrigin: tt.corsOrigin}

			nextCalled := false
			next := func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			}

			req := httptest.NewRequest(tt.method, "/test", nil)
			w := httptest.NewRecorder()
			server.corsMiddleware(next)(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.expectedCORS, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
			assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Scan-ID")
			assert.Equal(t, tt.shouldCallNext, nextCalled)
		})
	}
}

func TestServer_CORSMiddleware_CapturesStatus(t *testing.T) {
	server := &Server{corsOrigin: "*"}
	next := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}

	w := httptest.NewRecorder()
	server.corsMiddleware(next)(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestServer_RateLimitMiddleware(t *testing.T) {
	server := &Server{
		logger:      discardLogger(),
		rateLimiter: NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 2}),
	}
	calls := 0
	handler := server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodPost, "/scan", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodPost, "/scan", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "minute", w.Header().Get("X-RateLimit-Type"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	// Preflight requests are never counted.
	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodOptions, "/scan", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_RateLimitMiddleware_Disabled(t *testing.T) {
	server := &Server{}
	calls := 0
	handler := server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) { calls++ })
	for i := 0; i < 100; i++ {
		handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/scan", nil))
	}
	assert.Equal(t, 100, calls)
}

func TestServer_HandleRateLimitError_Quota(t *testing.T) {
	server := &Server{logger: discardLogger()}
	rl := NewRateLimiter(RateLimitConfig{RequestsPerDay: 1})
	require.NoError(t, rl.CheckRateLimit("u", 0))
	err := rl.CheckRateLimit("u", 0)
	require.Error(t, err)

	w := httptest.NewRecorder()
	server.handleRateLimitError(w, err)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "requests", w.Header().Get("X-Quota-Type"))
	assert.Equal(t, "1", w.Header().Get("X-Quota-Limit"))
	assert.Contains(t, w.Body.String(), "quota_exceeded")
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:1234", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": " 198.51.100.7 "}, "10.0.0.1:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.9:5555", "192.0.2.9"},
		{"remote addr without port", nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
