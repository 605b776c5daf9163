// Package ratelimit implements per-provider token buckets for aggregator
// sources.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/jobharvest/internal/telemetry"
)

// Limiter manages one token bucket per provider key.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]rate.Limit
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. A non-positive rate disables
// limiting for that key.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// PerProvider overrides DefaultRPS for specific keys.
	PerProvider map[string]float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	overrides := make(map[string]rate.Limit, len(cfg.PerProvider))
	for key, rps := range cfg.PerProvider {
		overrides[key] = toLimit(rps)
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  toLimit(cfg.DefaultRPS),
		defaultBurst: burst,
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until a token is available for provider, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	if provider == "" {
		provider = "unknown"
	}
	limiter := l.bucket(provider)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(provider, waited)
	}
	return nil
}

func (l *Limiter) bucket(provider string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[provider]
	if !ok {
		limit := l.defaultRate
		if override, found := l.overrides[provider]; found {
			limit = override
		}
		limiter = rate.NewLimiter(limit, l.defaultBurst)
		l.limiters[provider] = limiter
	}
	return limiter
}
