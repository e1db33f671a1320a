package transport

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token bucket. A nil *RateLimiter disables limiting, so
// callers never branch on configuration.
type RateLimiter struct {
	clock      func() time.Time // injectable for tests
	lastUpdate time.Time
	rate       float64 // tokens per second
	burst      float64 // bucket capacity
	tokens     float64
	mu         sync.Mutex
}

// NewRateLimiter builds a limiter allowing requestsPerSecond sustained,
// with a burst of twice that (minimum 1). A non-positive rate returns nil,
// which disables limiting.
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	return NewRateLimiterWithClock(requestsPerSecond, time.Now)
}

// NewRateLimiterWithClock is NewRateLimiter with an injectable clock.
func NewRateLimiterWithClock(requestsPerSecond float64, clock func() time.Time) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	burst := requestsPerSecond * 2
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:       requestsPerSecond,
		burst:      burst,
		tokens:     burst, // start full
		lastUpdate: clock(),
		clock:      clock,
	}
}

// Allow consumes a token if one is available and reports whether the
// request may proceed.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	r.tokens += now.Sub(r.lastUpdate).Seconds() * r.rate
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.lastUpdate = now

	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// Tokens returns the current token count, or -1 when the limiter is nil.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

// RateLimitMiddleware rejects requests with 429 once the bucket is empty.
// /health and /metrics stay exempt so probes and scrapes keep working
// under load.
func RateLimitMiddleware(limiter *RateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
