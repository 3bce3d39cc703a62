// Package ratelimit implements per-host token buckets that pace navigations.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerHostQPS is the sustained rate per host; zero or less disables pacing.
	PerHostQPS float64
	Burst      int
	// OnDelay, when set, receives the host and the time spent waiting for a token.
	OnDelay func(host string, waited time.Duration)
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	onDelay  func(string, time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.PerHostQPS)
	if cfg.PerHostQPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		onDelay:  cfg.OnDelay,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.limit == rate.Inf {
		return nil
	}
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.onDelay != nil {
		l.onDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
