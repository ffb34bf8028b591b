// Package ratelimit implements per-source token bucket rate limiting for the
// fetch stage. Each source gets an independent limiter: one slow or
// rate-limited source must not starve another.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/immotrace/contact-pipeline/internal/metrics"
)

// Limiter manages per-source rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	overrides    map[string]Config
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter parameters for one source (or the default).
type Config struct {
	RPS   float64
	Burst int
}

// New creates a Limiter with a default config and optional per-source
// overrides.
func New(def Config, overrides map[string]Config) *Limiter {
	metrics.Init()
	r := rate.Limit(def.RPS)
	if def.RPS <= 0 {
		r = rate.Inf
	}
	burst := def.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		overrides:    overrides,
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the given source, respecting
// the context.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	limiter := l.limiterFor(source)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(source, delay)
	}
	return nil
}

func (l *Limiter) limiterFor(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[source]; ok {
		return limiter
	}
	r, burst := l.defaultRate, l.defaultBurst
	if cfg, ok := l.overrides[source]; ok {
		if cfg.RPS > 0 {
			r = rate.Limit(cfg.RPS)
		}
		if cfg.Burst > 0 {
			burst = cfg.Burst
		}
	}
	limiter := rate.NewLimiter(r, burst)
	l.limiters[source] = limiter
	return limiter
}
