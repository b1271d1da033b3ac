package llmclient

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter guarding one credential's outbound
// call rate, so a single hot credential can't trip the provider's own
// rate limit and cascade into a cooldown.
type RateLimiter struct {
	mu sync.Mutex

	tokens         float64
	maxTokens      float64
	refillRate     float64
	lastRefillTime time.Time
	minInterval    time.Duration
}

// RateLimiterConfig configures burst size, refill rate, and minimum spacing.
type RateLimiterConfig struct {
	MaxTokens   float64
	RefillRate  float64
	MinInterval time.Duration
}

// DefaultRateLimiterConfig returns a conservative per-credential default:
// small burst, slow refill, since each credential also has its own
// provider-side quota to respect.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:   3,
		RefillRate:  0.1,
		MinInterval: 2 * time.Second,
	}
}

// NewRateLimiter creates a rate limiter starting at a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		tokens:         config.MaxTokens,
		maxTokens:      config.MaxTokens,
		refillRate:     config.RefillRate,
		lastRefillTime: time.Now(),
		minInterval:    config.MinInterval,
	}
}

// Wait blocks until a token is available, honoring ctx cancellation.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refillTokens()

		if r.tokens >= 1 {
			r.tokens--
			minInterval := r.minInterval
			r.mu.Unlock()

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(minInterval):
				return nil
			}
		}

		refillRate := r.refillRate
		r.mu.Unlock()

		waitTime := time.Duration(float64(time.Second) / refillRate)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

func (r *RateLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefillTime).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefillTime = now
}

// SetBackoffMultiplier slows the limiter after a 429. The slowdown is not
// undone later, and repeated calls compound it.
func (r *RateLimiter) SetBackoffMultiplier(multiplier float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refillRate = r.refillRate / multiplier
	r.minInterval = time.Duration(float64(r.minInterval) * multiplier)
}
