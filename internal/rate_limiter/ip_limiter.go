// Package ratelimiter throttles socket upgrades per client address.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CleanupOpts controls how long idle addresses are remembered.
type CleanupOpts struct {
	TTL      time.Duration
	Interval time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter gives every client address its own token bucket of
// requests per window.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	every    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	stop     context.CancelFunc

	// OnLimit, when set, is called for every rejected request.
	OnLimit func()
}

// NewIPRateLimiter starts a limiter and its sweeper. Close stops the
// sweeper.
func NewIPRateLimiter(requests int, window time.Duration, opts CleanupOpts) *IPRateLimiter {
	ctx, cancel := context.WithCancel(context.Background())
	rl := &IPRateLimiter{
		visitors: make(map[string]*visitor),
		every:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		ttl:      opts.TTL,
		now:      time.Now,
		stop:     cancel,
	}
	if opts.Interval > 0 {
		go rl.sweepEvery(ctx, opts.Interval)
	}
	return rl
}

// Close stops the background sweeper.
func (rl *IPRateLimiter) Close() { rl.stop() }

func (rl *IPRateLimiter) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep forgets addresses idle for longer than the TTL.
func (rl *IPRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.ttl)
	for addr, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, addr)
		}
	}
}

// Allow takes a token from the bucket of addr.
func (rl *IPRateLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[addr]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.visitors[addr] = v
	}
	v.lastSeen = rl.now()
	return v.limiter.AllowN(v.lastSeen, 1)
}

// Len returns the number of tracked addresses.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// retryAfter is the whole number of seconds one token takes to refill.
func (rl *IPRateLimiter) retryAfter() int {
	if rl.every <= 0 {
		return 1
	}
	return int(math.Ceil(1 / float64(rl.every)))
}

// Middleware rejects requests over the limit with 429 and Retry-After.
// Proxy headers are expected to be resolved into RemoteAddr upstream, by
// chi's RealIP on the relay.
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := ClientAddr(r)
		if rl.Allow(addr) {
			next.ServeHTTP(w, r)
			return
		}

		slog.WarnContext(r.Context(), "rate limit exceeded",
			"ip", addr,
			"path", r.URL.Path)
		if rl.OnLimit != nil {
			rl.OnLimit()
		}
		w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
		http.Error(w, "Too many requests. Try again later.", http.StatusTooManyRequests)
	})
}

// ClientAddr is the host part of RemoteAddr, or RemoteAddr itself when it
// has no port.
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
