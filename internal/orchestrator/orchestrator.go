// Package orchestrator runs crawl sessions: it fans site profiles out to
// per-site collectors, enforces the global close conditions and records the
// session audit trail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/extract"
	"github.com/partswatch/partswatch/internal/identity"
	"github.com/partswatch/partswatch/internal/metrics"
	"github.com/partswatch/partswatch/internal/pipeline"
	"github.com/partswatch/partswatch/internal/policy"
	"github.com/partswatch/partswatch/internal/store"
)

// Config tunes one orchestrator instance. Zero limits disable the
// corresponding close condition.
type Config struct {
	GlobalConcurrency int
	PerSiteMax        int
	UserAgent         string
	RequestTimeout    time.Duration
	SessionTimeout    time.Duration
	MaxItems          int
	MaxPages          int
	MaxErrors         int
	Currency          string
	BaseDelay         time.Duration
	Jitter            time.Duration
	RPSPerOrigin      float64
	TargetInflight    int
	RetryBudget       int
	FailureThreshold  int
}

// Orchestrator coordinates crawl sessions. All collaborators are injected;
// the orchestrator owns none of them beyond a session's lifetime.
type Orchestrator struct {
	cfg        Config
	profiles   store.SiteProfileStore
	sessions   store.SessionStore
	writer     store.ListingWriter
	identities *identity.Pool
	registry   *extract.Registry
	logger     *zap.Logger

	now   func() time.Time
	newID func() string
}

// New constructs an Orchestrator.
func New(cfg Config, profiles store.SiteProfileStore, sessions store.SessionStore, writer store.ListingWriter, identities *identity.Pool, registry *extract.Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = extract.NewRegistry()
	}
	if cfg.GlobalConcurrency <= 0 {
		cfg.GlobalConcurrency = 16
	}
	if cfg.PerSiteMax <= 0 {
		cfg.PerSiteMax = 5
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Orchestrator{
		cfg:        cfg,
		profiles:   profiles,
		sessions:   sessions,
		writer:     writer,
		identities: identities,
		registry:   registry,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// sessionState is the shared mutable state of one running session.
type sessionState struct {
	ctx       context.Context
	pipeline  *pipeline.Pipeline
	tracker   *policy.RetryTracker
	breaker   *policy.Breaker
	rate      *policy.RateController
	globalSem chan struct{}

	mu          sync.Mutex
	closed      bool
	closeReason string
	pages       int
	requests    int
	errors      int
	health      map[string]policy.HealthUpdate
	siteClosed  map[string]bool
}

func (s *sessionState) close(reason string) (first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.closeReason = reason
	return true
}

func (s *sessionState) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.ctx.Err() != nil
}

func (s *sessionState) closeSite(site string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.siteClosed[site] = true
}

func (s *sessionState) isSiteClosed(site string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.siteClosed[site]
}

func (s *sessionState) recordHealth(u policy.HealthUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[u.Site] = u
}

// Run executes one crawl session over the named sites, or over every active
// profile when sites is empty. The returned session is terminal; the error is
// non-nil only for catastrophic setup failures.
func (o *Orchestrator) Run(ctx context.Context, sites []string) (catalog.CrawlSession, error) {
	session := catalog.CrawlSession{
		ID:        o.newID(),
		Sites:     sites,
		Status:    catalog.SessionPending,
		StartedAt: o.now().UTC(),
	}

	profiles, err := o.loadProfiles(ctx, sites)
	if err != nil {
		session.Status = catalog.SessionFailed
		session.ErrorText = err.Error()
		o.finalize(ctx, &session, catalog.SessionCounters{})
		return session, err
	}
	if len(profiles) == 0 {
		session.Status = catalog.SessionFailed
		session.ErrorText = "no active site profiles to crawl"
		o.finalize(ctx, &session, catalog.SessionCounters{})
		return session, errors.New(session.ErrorText)
	}
	session.Sites = make([]string, 0, len(profiles))
	for _, p := range profiles {
		session.Sites = append(session.Sites, p.Name)
	}

	if err := o.sessions.CreateSession(ctx, session); err != nil {
		session.Status = catalog.SessionFailed
		session.ErrorText = fmt.Sprintf("create session: %v", err)
		return session, fmt.Errorf("create session: %w", err)
	}
	session.Status = catalog.SessionRunning
	if err := o.sessions.UpdateSession(ctx, session.ID, session.Status, "", catalog.SessionCounters{}); err != nil {
		o.logger.Warn("session status update failed", zap.Error(err))
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.SessionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.SessionTimeout)
		defer cancel()
	}

	state := &sessionState{
		ctx: runCtx,
		pipeline: pipeline.New(pipeline.Config{
			Writer:   o.writer,
			Currency: o.cfg.Currency,
			Logger:   o.logger,
		}),
		tracker: policy.NewRetryTracker(o.cfg.RetryBudget),
		breaker: policy.NewBreaker(o.cfg.FailureThreshold),
		rate: policy.NewRateController(policy.RateConfig{
			BaseDelay:      o.cfg.BaseDelay,
			Jitter:         o.cfg.Jitter,
			TargetInflight: o.cfg.TargetInflight,
			RPSPerOrigin:   o.cfg.RPSPerOrigin,
		}),
		globalSem:  make(chan struct{}, o.cfg.GlobalConcurrency),
		health:     make(map[string]policy.HealthUpdate),
		siteClosed: make(map[string]bool),
	}
	for _, p := range profiles {
		state.breaker.Seed(p)
	}

	o.logger.Info("crawl session started",
		zap.String("session", session.ID),
		zap.Strings("sites", session.Sites))

	var wg sync.WaitGroup
	for _, profile := range profiles {
		wg.Add(1)
		go func(profile catalog.SiteProfile) {
			defer wg.Done()
			o.crawlSite(state, profile)
		}(profile)
	}
	wg.Wait()

	counters := state.pipeline.Counters()
	state.mu.Lock()
	counters.Pages = state.pages
	counters.Requests = state.requests
	counters.Errors = state.errors
	reason := state.closeReason
	health := make([]policy.HealthUpdate, 0, len(state.health))
	for _, u := range state.health {
		health = append(health, u)
	}
	state.mu.Unlock()

	o.writeHealth(ctx, health)

	switch {
	case ctx.Err() != nil:
		session.Status = catalog.SessionCancelled
		session.ErrorText = "session cancelled"
	default:
		// Close conditions (including the wall-clock timeout) end the
		// session early but leave it completed.
		session.Status = catalog.SessionCompleted
	}
	o.finalize(ctx, &session, counters)

	o.logger.Info("crawl session finished",
		zap.String("session", session.ID),
		zap.String("status", string(session.Status)),
		zap.String("close_reason", reason),
		zap.Int("found", counters.Found),
		zap.Int("saved", counters.Saved),
		zap.Int("dropped", counters.Dropped),
		zap.Int("duplicates", counters.Duplicates),
		zap.Int("failed", counters.Failed),
		zap.Int("pages", counters.Pages),
		zap.Int("errors", counters.Errors))
	return session, nil
}

func (o *Orchestrator) loadProfiles(ctx context.Context, sites []string) ([]catalog.SiteProfile, error) {
	var (
		profiles []catalog.SiteProfile
		err      error
	)
	if len(sites) == 0 {
		profiles, err = o.profiles.ListProfiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("load site profiles: %w", err)
		}
	} else {
		for _, site := range sites {
			p, err := o.profiles.GetProfile(ctx, site)
			if errors.Is(err, store.ErrNotFound) {
				// A bad name skips that site only; the rest of the
				// session proceeds.
				o.logger.Warn("skipping unknown site",
					zap.String("site", site),
					zap.Error(fmt.Errorf("%w: no profile named %q", catalog.ErrConfiguration, site)))
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("load site profile %s: %w", site, err)
			}
			profiles = append(profiles, p)
		}
	}

	active := profiles[:0]
	for _, p := range profiles {
		if !p.Active {
			o.logger.Info("skipping inactive site", zap.String("site", p.Name))
			continue
		}
		active = append(active, p)
	}
	return active, nil
}

func (o *Orchestrator) writeHealth(ctx context.Context, updates []policy.HealthUpdate) {
	// The session context may already be expired; health write-backs get
	// their own short deadline.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, u := range updates {
		if err := o.profiles.UpdateHealth(wctx, u.Site, u.ConsecutiveFailures, u.Active, u.LastSuccess); err != nil {
			o.logger.Warn("health write-back failed",
				zap.String("site", u.Site), zap.Error(err))
		}
	}
}

func (o *Orchestrator) finalize(ctx context.Context, session *catalog.CrawlSession, counters catalog.SessionCounters) {
	session.Counters = counters
	now := o.now().UTC()
	session.EndedAt = &now
	metrics.ObserveSession(string(session.Status))

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := o.sessions.UpdateSession(wctx, session.ID, session.Status, session.ErrorText, counters)
	if errors.Is(err, store.ErrNotFound) {
		// Setup failed before the audit row existed; record the terminal
		// row directly.
		err = o.sessions.CreateSession(wctx, *session)
	}
	if err != nil {
		o.logger.Warn("session finalize failed",
			zap.String("session", session.ID), zap.Error(err))
	}
}
