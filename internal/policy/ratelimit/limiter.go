// Package ratelimit throttles probes with a token bucket per poster host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/posterwatch/internal/metrics"
	"github.com/JakeFAU/posterwatch/internal/poster"
)

// Limiter manages per-site rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	onDelay      func(site string, d time.Duration)
}

// Config holds rate limiter configuration.
type Config struct {
	// RPS of zero or less disables throttling.
	RPS   float64
	Burst int
	// OnDelay is told about waits longer than a millisecond.
	OnDelay func(site string, d time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		onDelay:      cfg.OnDelay,
	}
}

// Wait blocks until a token is available for the host of url.
func (l *Limiter) Wait(ctx context.Context, url string) error {
	site := metrics.SanitizeSite(url)
	l.mu.Lock()
	limiter, exists := l.limiters[site]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[site] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && l.onDelay != nil {
		l.onDelay(site, d)
	}
	return nil
}

// Sites returns how many hosts have a bucket.
func (l *Limiter) Sites() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Wrap returns a Prober that waits for a token before delegating to next.
// A wait that fails counts as a transport failure of that URL.
func (l *Limiter) Wrap(next poster.Prober) poster.Prober {
	return poster.ProberFunc(func(ctx context.Context, url string) error {
		if err := l.Wait(ctx, url); err != nil {
			return &poster.TransportError{URL: url, Err: err}
		}
		return next.Probe(ctx, url)
	})
}
