package hub

import (
	"sync"
	"time"
)

// rateLimiter throttles the inbound frames of one connection: RateBurst
// frame credits refilled continuously over RateInterval, capped at the
// burst. A connection that has been quiet for a full interval can always
// burst again.
type rateLimiter struct {
	mu            sync.Mutex
	credits       float64
	burst         float64
	creditsPerSec float64
	lastRefill    time.Time
}

// newRateLimiter builds the limiter from the connection config. Unset knobs
// fall back to one frame per second so a zero config still limits.
func newRateLimiter(cfg ConnConfig) *rateLimiter {
	burst, interval := cfg.RateBurst, cfg.RateInterval
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &rateLimiter{
		credits:       float64(burst),
		burst:         float64(burst),
		creditsPerSec: float64(burst) / interval.Seconds(),
		lastRefill:    time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elapsed := now.Sub(rl.lastRefill).Seconds(); elapsed > 0 {
		rl.credits = min(rl.credits+elapsed*rl.creditsPerSec, rl.burst)
	}
	rl.lastRefill = now

	if rl.credits < 1 {
		return false
	}
	rl.credits--
	return true
}
