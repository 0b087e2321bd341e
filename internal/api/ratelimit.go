// internal/api/ratelimit.go
package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the per-client limiter map.
const maxTrackedClients = 10000

// RateLimiter enforces a per-client request rate on the /v1 surface.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained and
// burst requests at once per client.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 50
	}
	if burst < 1 {
		burst = 100
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Update replaces the rate parameters. Existing per-client limiters are
// dropped so the new limits take effect immediately.
func (rl *RateLimiter) Update(requestsPerSecond float64, burst int) {
	if requestsPerSecond <= 0 || burst < 1 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.perSec = rate.Limit(requestsPerSecond)
	rl.burst = burst
	rl.limiters = make(map[string]*rate.Limiter)
}

// Limit returns the sustained per-client rate.
func (rl *RateLimiter) Limit() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return float64(rl.perSec)
}

// Allow reports whether the client identified by key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// MEMORY PROTECTION: shed all state rather than grow without bound.
	if len(rl.limiters) >= maxTrackedClients {
		rl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, ok := rl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rl.perSec, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter.Allow()
}
