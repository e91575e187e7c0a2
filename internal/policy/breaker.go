package policy

import (
	"sync"
	"time"

	"github.com/partswatch/partswatch/internal/catalog"
)

// DefaultFailureThreshold disables a site after this many consecutive
// retry exhaustions.
const DefaultFailureThreshold = 5

// HealthUpdate is the explicit write-back produced by the breaker. The
// orchestrator hands it to the profile store; profiles are never mutated
// from arbitrary call sites.
type HealthUpdate struct {
	Site                string
	ConsecutiveFailures int
	Active              bool
	LastSuccess         time.Time
}

// Breaker tracks consecutive failures per site and trips the site's active
// flag once the threshold is crossed. Any success resets the counter.
type Breaker struct {
	mu        sync.Mutex
	counts    map[string]int
	threshold int
	now       func() time.Time
}

// NewBreaker constructs a Breaker seeded from existing profile state.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Breaker{
		counts:    make(map[string]int),
		threshold: threshold,
		now:       time.Now,
	}
}

// Seed primes the counter from a stored profile so a restart does not forget
// a site that was already close to tripping.
func (b *Breaker) Seed(profile catalog.SiteProfile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[profile.Name] = profile.ConsecutiveFailures
}

// RecordFailure increments the site's consecutive-failure counter and
// returns the health update to persist. Active goes false once the
// threshold is crossed.
func (b *Breaker) RecordFailure(site string) HealthUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[site]++
	return HealthUpdate{
		Site:                site,
		ConsecutiveFailures: b.counts[site],
		Active:              b.counts[site] < b.threshold,
	}
}

// RecordSuccess resets the counter and stamps the last successful scrape.
func (b *Breaker) RecordSuccess(site string) HealthUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[site] = 0
	return HealthUpdate{
		Site:                site,
		ConsecutiveFailures: 0,
		Active:              true,
		LastSuccess:         b.now(),
	}
}

// Tripped reports whether the site has crossed the failure threshold.
func (b *Breaker) Tripped(site string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts[site] >= b.threshold
}
