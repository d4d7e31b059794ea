package notification

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig holds configuration for rate limiting.
type RateLimiterConfig struct {
	// RequestsPerMinute is the sustained rate across all providers.
	RequestsPerMinute int
	// BurstSize is how many messages may be sent back to back.
	BurstSize int
}

// DefaultRateLimiterConfig returns the default rate limit.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
	}
}

// RateLimiter is a token bucket shared by every provider.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter. Non-positive values fall back to the
// defaults.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	every := rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	return &RateLimiter{limiter: rate.NewLimiter(every, cfg.BurstSize)}
}

// Allow reports whether a message may be sent now and consumes a token if so.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// AllowAt is Allow evaluated at t.
func (rl *RateLimiter) AllowAt(t time.Time) bool {
	return rl.limiter.AllowN(t, 1)
}

// Tokens returns the number of tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}
