// Package identity maintains a rotating pool of (proxy, user-agent)
// identities used to vary the apparent origin of crawl requests.
package identity

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/metrics"
)

const (
	// maxStrikes moves an identity to the failed set after this many
	// consecutive failures.
	maxStrikes = 3

	defaultRotationInterval = 300 * time.Second
	defaultProbeTimeout     = 5 * time.Second
	probeParallelism        = 20
)

// Rotation strategies selectable via Config.Strategy.
const (
	StrategyInterval = "interval"
	StrategyRandom   = "random"
)

// Identity is one (proxy, user-agent) pair. The zero value means a direct,
// unproxied connection with the default user agent; it is a valid degraded
// state, never an error.
type Identity struct {
	ProxyURL  string
	UserAgent string
}

// Direct reports whether the identity carries no proxy.
func (id Identity) Direct() bool { return id.ProxyURL == "" }

type entry struct {
	identity Identity
	failures int
	latency  time.Duration
	lastUsed time.Time
}

// Config tunes pool behavior.
type Config struct {
	RotationInterval time.Duration
	ProbeTimeout     time.Duration
	ProbeURLs        []string
	UserAgents       []string

	// Strategy selects how Acquire rotates: StrategyInterval advances a
	// round-robin cursor once per RotationInterval (the default),
	// StrategyRandom picks a random working identity per request.
	Strategy string
}

// Pool holds working and failed identity sets behind a single mutex; pool
// sizes are small and writes are rare.
type Pool struct {
	mu           sync.Mutex
	working      []*entry
	failed       []*entry
	cursor       int
	lastRotation time.Time

	cfg       Config
	clientFor func(proxy *url.URL) *http.Client
	logger    *zap.Logger
	now       func() time.Time
}

// NewPool constructs an empty pool. Populate it with Validate.
func NewPool(cfg Config, logger *zap.Logger) *Pool {
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = defaultRotationInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if len(cfg.ProbeURLs) == 0 {
		cfg.ProbeURLs = []string{"http://httpbin.org/ip"}
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	p := &Pool{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	p.clientFor = func(proxy *url.URL) *http.Client {
		return &http.Client{
			Timeout:   cfg.ProbeTimeout,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxy)},
		}
	}
	return p
}

// Validate probes each candidate proxy against the configured endpoints and
// partitions the results into working and failed sets, recording latency.
// Candidates without a user agent are paired with one from the built-in list.
func (p *Pool) Validate(ctx context.Context, proxies []string) {
	type result struct {
		e  *entry
		ok bool
	}

	sem := make(chan struct{}, probeParallelism)
	results := make(chan result, len(proxies))
	var wg sync.WaitGroup

	for i, raw := range proxies {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			e := &entry{identity: Identity{
				ProxyURL:  raw,
				UserAgent: p.cfg.UserAgents[i%len(p.cfg.UserAgents)],
			}}
			latency, ok := p.probe(ctx, raw)
			e.latency = latency
			results <- result{e: e, ok: ok}
		}(i, raw)
	}

	wg.Wait()
	close(results)

	p.mu.Lock()
	defer p.mu.Unlock()
	for res := range results {
		if res.ok {
			p.working = append(p.working, res.e)
			p.logger.Debug("proxy validated",
				zap.String("proxy", res.e.identity.ProxyURL),
				zap.Duration("latency", res.e.latency))
		} else {
			p.failed = append(p.failed, res.e)
			p.logger.Warn("proxy failed validation",
				zap.String("proxy", res.e.identity.ProxyURL))
		}
	}
	p.publishSizes()
	p.logger.Info("identity pool validated",
		zap.Int("working", len(p.working)),
		zap.Int("failed", len(p.failed)))
}

// probe checks a single proxy against the known endpoints, returning the
// first successful round-trip latency.
func (p *Pool) probe(ctx context.Context, proxy string) (time.Duration, bool) {
	proxyURL, err := url.Parse(proxy)
	if err != nil {
		return 0, false
	}
	client := p.clientFor(proxyURL)
	for _, probeURL := range p.cfg.ProbeURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
		if err != nil {
			continue
		}
		start := p.now()
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return p.now().Sub(start), true
		}
	}
	return 0, false
}

// Acquire returns the next identity per the configured rotation strategy.
// An empty pool yields the zero Identity (direct connection).
func (p *Pool) Acquire() Identity {
	if p.cfg.Strategy == StrategyRandom {
		return p.AcquireRandom()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.working) == 0 {
		return Identity{UserAgent: p.cfg.UserAgents[0]}
	}

	now := p.now()
	if now.Sub(p.lastRotation) >= p.cfg.RotationInterval {
		p.cursor = (p.cursor + 1) % len(p.working)
		p.lastRotation = now
	}
	if p.cursor >= len(p.working) {
		p.cursor = 0
	}
	e := p.working[p.cursor]
	e.lastUsed = now
	return e.identity
}

// AcquireRandom returns a random working identity, or the zero Identity when
// the pool is empty.
func (p *Pool) AcquireRandom() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.working) == 0 {
		return Identity{UserAgent: p.cfg.UserAgents[0]}
	}
	e := p.working[rand.Intn(len(p.working))]
	e.lastUsed = p.now()
	return e.identity
}

// ReleaseFailure records a failed request through an identity. Three
// consecutive failures demote it from the working to the failed set.
func (p *Pool) ReleaseFailure(id Identity) {
	if id.Direct() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.working {
		if e.identity.ProxyURL != id.ProxyURL {
			continue
		}
		e.failures++
		if e.failures >= maxStrikes {
			p.working = append(p.working[:i], p.working[i+1:]...)
			p.failed = append(p.failed, e)
			if p.cursor >= len(p.working) {
				p.cursor = 0
			}
			p.logger.Warn("identity moved to failed set",
				zap.String("proxy", id.ProxyURL),
				zap.Int("failures", e.failures))
			p.publishSizes()
		}
		return
	}
}

// ReleaseSuccess resets the consecutive-failure count for an identity.
func (p *Pool) ReleaseSuccess(id Identity) {
	if id.Direct() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.working {
		if e.identity.ProxyURL == id.ProxyURL {
			e.failures = 0
			return
		}
	}
}

// Recover re-probes the failed set and returns healthy identities to the
// working set with their failure counts reset.
func (p *Pool) Recover(ctx context.Context) int {
	p.mu.Lock()
	candidates := make([]*entry, len(p.failed))
	copy(candidates, p.failed)
	p.mu.Unlock()

	var recovered []*entry
	for _, e := range candidates {
		if latency, ok := p.probe(ctx, e.identity.ProxyURL); ok {
			e.failures = 0
			e.latency = latency
			recovered = append(recovered, e)
		}
	}
	if len(recovered) == 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range recovered {
		for i, e := range p.failed {
			if e == r {
				p.failed = append(p.failed[:i], p.failed[i+1:]...)
				break
			}
		}
		p.working = append(p.working, r)
	}
	p.publishSizes()
	p.logger.Info("identities recovered", zap.Int("count", len(recovered)))
	return len(recovered)
}

// RunRecovery periodically re-validates failed identities until ctx ends.
func (p *Pool) RunRecovery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Recover(ctx)
		}
	}
}

// Stats reports current pool sizes.
func (p *Pool) Stats() (working, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.working), len(p.failed)
}

func (p *Pool) publishSizes() {
	metrics.SetIdentityPoolSize("working", len(p.working))
	metrics.SetIdentityPoolSize("failed", len(p.failed))
}
