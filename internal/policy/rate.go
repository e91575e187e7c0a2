// Package policy implements per-site rate control, retry classification and
// the site circuit breaker.
package policy

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateConfig tunes per-origin pacing.
type RateConfig struct {
	BaseDelay      time.Duration
	Jitter         time.Duration
	RPSPerOrigin   float64
	TargetInflight int
}

// RateController paces requests per origin: a token bucket caps request rate
// and a jittered delay is stretched whenever in-flight concurrency exceeds
// the auto-throttle target.
type RateController struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	inflight map[string]int

	cfg RateConfig
}

// NewRateController constructs a RateController.
func NewRateController(cfg RateConfig) *RateController {
	if cfg.TargetInflight <= 0 {
		cfg.TargetInflight = 2
	}
	if cfg.RPSPerOrigin <= 0 {
		cfg.RPSPerOrigin = 2
	}
	return &RateController{
		limiters: make(map[string]*rate.Limiter),
		inflight: make(map[string]int),
		cfg:      cfg,
	}
}

// Delay returns the effective pre-request delay for a site: base plus
// uniform random jitter plus the auto-throttle stretch.
func (r *RateController) Delay(site string, base time.Duration) time.Duration {
	if base <= 0 {
		base = r.cfg.BaseDelay
	}
	delay := base
	if r.cfg.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(r.cfg.Jitter)))
	}
	return delay + r.Throttle(site, base)
}

// Throttle returns the extra delay the auto-throttle imposes on top of the
// base pacing: zero at or below the in-flight target, then the base doubled
// for every unit above it. Callers that already pay the base delay elsewhere
// sleep only this amount.
func (r *RateController) Throttle(site string, base time.Duration) time.Duration {
	if base <= 0 {
		base = r.cfg.BaseDelay
	}
	r.mu.Lock()
	over := r.inflight[site] - r.cfg.TargetInflight
	r.mu.Unlock()
	if over <= 0 {
		return 0
	}
	stretched := base
	for ; over > 0; over-- {
		stretched *= 2
	}
	return stretched - base
}

// Wait blocks until the origin's token bucket admits another request.
func (r *RateController) Wait(ctx context.Context, rawURL string) error {
	origin := originOf(rawURL)

	r.mu.Lock()
	limiter, ok := r.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RPSPerOrigin), 1)
		r.limiters[origin] = limiter
	}
	r.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate wait for %s: %w", origin, err)
	}
	return nil
}

// Begin marks one request in flight for a site.
func (r *RateController) Begin(site string) {
	r.mu.Lock()
	r.inflight[site]++
	r.mu.Unlock()
}

// End marks one request finished for a site.
func (r *RateController) End(site string) {
	r.mu.Lock()
	if r.inflight[site] > 0 {
		r.inflight[site]--
	}
	r.mu.Unlock()
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
