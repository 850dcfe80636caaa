package ratelimiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"ipv4 with port", "10.0.0.1:5555", "10.0.0.1"},
		{"ipv6 with port", "[::1]:5555", "::1"},
		{"bare address", "10.0.0.9", "10.0.0.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.RemoteAddr = tt.remoteAddr
			assert.Equal(t, tt.want, ClientAddr(r))
		})
	}
}

func TestMiddleware(t *testing.T) {
	rl := NewIPRateLimiter(2, time.Minute, CleanupOpts{TTL: time.Minute})
	defer rl.Close()

	limited := 0
	rl.OnLimit = func() { limited++ }

	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "30", rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, limited)

	// Another address has its own bucket.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, rl.Len())
}

func TestMiddlewareBehindRealIP(t *testing.T) {
	rl := NewIPRateLimiter(1, time.Minute, CleanupOpts{TTL: time.Minute})
	defer rl.Close()

	handler := middleware.RealIP(rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	send := func(forwardedFor string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("1.1.1.1"))
	assert.Equal(t, http.StatusOK, send("2.2.2.2"), "each forwarded client has its own bucket")
	assert.Equal(t, http.StatusTooManyRequests, send("1.1.1.1"))
}

func TestSweep(t *testing.T) {
	rl := NewIPRateLimiter(1, time.Second, CleanupOpts{TTL: time.Minute})
	defer rl.Close()

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	rl.Allow("10.0.0.1")
	clock = clock.Add(30 * time.Second)
	rl.Allow("10.0.0.2")

	clock = clock.Add(45 * time.Second)
	rl.sweep()
	require.Equal(t, 1, rl.Len(), "only the idle address is forgotten")

	assert.True(t, rl.Allow("10.0.0.1"), "a forgotten address starts with a full bucket")
}

func TestSweeperRuns(t *testing.T) {
	rl := NewIPRateLimiter(1, time.Second, CleanupOpts{TTL: time.Millisecond, Interval: 5 * time.Millisecond})
	defer rl.Close()

	rl.Allow("10.0.0.1")
	assert.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 5*time.Millisecond)
}
