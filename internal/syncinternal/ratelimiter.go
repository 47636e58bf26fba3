package syncinternal

import (
	"sync"
	"time"
)

// tenantRateLimiter is a single-tenant token bucket guarding how many
// sync pages a Coordinator will drive per second, adapted from
// MaxIOFS's internal/cluster/rate_limiter.go (there keyed per source IP
// across many clients; here there is exactly one tenant per Coordinator,
// so the bucket map collapses to one bucket with no cleanup loop needed).
type tenantRateLimiter struct {
	mu             sync.Mutex
	tokens         float64
	maxTokens      float64
	refillPerSec   float64
	lastRefillTime time.Time
}

// newTenantRateLimiter builds a limiter allowing requestsPerSecond
// sustained page requests with a burst up to burstSize.
func newTenantRateLimiter(requestsPerSecond, burstSize int) *tenantRateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burstSize <= 0 {
		burstSize = requestsPerSecond
	}
	return &tenantRateLimiter{
		tokens:         float64(burstSize),
		maxTokens:      float64(burstSize),
		refillPerSec:   float64(requestsPerSecond),
		lastRefillTime: time.Now(),
	}
}

// allow reports whether a page request may proceed now.
func (rl *tenantRateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefillTime).Seconds()
	if elapsed > 0 {
		rl.tokens += elapsed * rl.refillPerSec
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
		rl.lastRefillTime = now
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// waitInterval returns how long to sleep before the next token is
// available, so a starved caller backs off instead of busy-polling allow().
func (rl *tenantRateLimiter) waitInterval() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.refillPerSec <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / rl.refillPerSec)
}
