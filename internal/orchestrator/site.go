package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/extract"
	"github.com/partswatch/partswatch/internal/identity"
	"github.com/partswatch/partswatch/internal/metrics"
	"github.com/partswatch/partswatch/internal/policy"
)

// siteCrawl drives one site's collector within a session.
type siteCrawl struct {
	o         *Orchestrator
	state     *sessionState
	profile   catalog.SiteProfile
	extractor extract.SiteExtractor
	base      *url.URL
	logger    *zap.Logger
	pages     atomic.Int64
}

func (o *Orchestrator) crawlSite(state *sessionState, profile catalog.SiteProfile) {
	logger := o.logger.With(zap.String("site", profile.Name))

	base, err := url.Parse(profile.BaseURL)
	if err != nil || base.Host == "" {
		logger.Error("invalid base url", zap.String("base_url", profile.BaseURL), zap.Error(err))
		return
	}

	sc := &siteCrawl{
		o:         o,
		state:     state,
		profile:   profile,
		extractor: o.registry.For(profile.Name),
		base:      base,
		logger:    logger,
	}

	collector, err := sc.newCollector()
	if err != nil {
		logger.Error("collector setup failed", zap.Error(err))
		return
	}

	starts := sc.extractor.StartURLs(profile)
	logger.Info("site crawl started",
		zap.Int("start_urls", len(starts)),
		zap.Duration("delay", sc.delay()))
	for _, u := range starts {
		if err := collector.Visit(u); err != nil {
			logger.Debug("start url rejected", zap.String("url", u), zap.Error(err))
		}
	}
	collector.Wait()
	logger.Info("site crawl finished", zap.Int64("pages", sc.pages.Load()))
}

func (sc *siteCrawl) newCollector() (*colly.Collector, error) {
	ua := sc.profile.UserAgent
	if ua == "" {
		ua = sc.o.cfg.UserAgent
	}
	host := sc.base.Hostname()

	collector := colly.NewCollector(
		colly.AllowedDomains(host, "www."+host),
		colly.UserAgent(ua),
		colly.Async(true),
	)
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(sc.o.cfg.RequestTimeout)

	parallelism := sc.profile.Concurrency
	if parallelism <= 0 || parallelism > sc.o.cfg.PerSiteMax {
		parallelism = sc.o.cfg.PerSiteMax
	}
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: parallelism,
		Delay:       sc.delay(),
		RandomDelay: sc.o.cfg.Jitter,
	}); err != nil {
		return nil, fmt.Errorf("set limit rule: %w", err)
	}

	if sc.o.identities != nil {
		collector.SetProxyFunc(sc.proxyFor)
	}

	collector.OnRequest(sc.onRequest)
	collector.OnResponse(sc.onResponse)
	collector.OnScraped(sc.onScraped)
	collector.OnError(sc.onError)
	return collector, nil
}

// delay prefers the profile's own pacing over the global base delay.
func (sc *siteCrawl) delay() time.Duration {
	if sc.profile.Delay > 0 {
		return sc.profile.Delay
	}
	return sc.o.cfg.BaseDelay
}

// proxyFor acquires one identity per fetch and applies the whole pair to the
// outgoing request: the user agent as a header and the proxy both as the
// transport's choice and as a context value, so the response's ProxyURL
// names exactly the proxy that carried it.
func (sc *siteCrawl) proxyFor(pr *http.Request) (*url.URL, error) {
	id := sc.o.identities.Acquire()
	if id.UserAgent != "" {
		pr.Header.Set("User-Agent", id.UserAgent)
	}
	if id.Direct() {
		return nil, nil
	}
	u, err := url.Parse(id.ProxyURL)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(pr.Context(), colly.ProxyURLKey, u.String())
	*pr = *pr.WithContext(ctx)
	return u, nil
}

func (sc *siteCrawl) onRequest(r *colly.Request) {
	if sc.state.isClosed() || sc.state.isSiteClosed(sc.profile.Name) {
		r.Abort()
		return
	}

	sc.state.globalSem <- struct{}{}
	if err := sc.state.rate.Wait(sc.state.ctx, r.URL.String()); err != nil {
		<-sc.state.globalSem
		r.Abort()
		return
	}
	sc.state.rate.Begin(sc.profile.Name)

	// Auto-throttle: the LimitRule already paces the base delay, so only the
	// stretch above it is paid here.
	if extra := sc.state.rate.Throttle(sc.profile.Name, sc.delay()); extra > 0 {
		select {
		case <-sc.state.ctx.Done():
		case <-time.After(extra):
		}
	}

	r.Ctx.Put("started", sc.o.now())

	sc.state.mu.Lock()
	sc.state.requests++
	sc.state.mu.Unlock()
}

func (sc *siteCrawl) onScraped(r *colly.Response) {
	<-sc.state.globalSem
	sc.state.rate.End(sc.profile.Name)
}

func (sc *siteCrawl) onResponse(r *colly.Response) {
	site := sc.profile.Name
	if started, ok := r.Ctx.GetAny("started").(time.Time); ok {
		metrics.ObserveFetch(site, r.StatusCode, sc.o.now().Sub(started))
	}
	sc.releaseIdentity(r, true)
	sc.state.recordHealth(sc.state.breaker.RecordSuccess(site))

	sc.pages.Add(1)
	sc.state.mu.Lock()
	sc.state.pages++
	pages := sc.state.pages
	sc.state.mu.Unlock()

	if sc.profile.MaxPages > 0 && sc.pages.Load() >= int64(sc.profile.MaxPages) {
		sc.state.closeSite(site)
		sc.logger.Info("site page limit reached", zap.Int("max_pages", sc.profile.MaxPages))
	}
	if sc.o.cfg.MaxPages > 0 && pages >= sc.o.cfg.MaxPages {
		if sc.state.close("page limit reached") {
			sc.logger.Info("session page limit reached", zap.Int("max_pages", sc.o.cfg.MaxPages))
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		sc.logger.Debug("unparsable page", zap.String("url", r.Request.URL.String()), zap.Error(err))
		return
	}

	pageURL := r.Request.URL.String()
	if listing, ok := sc.extractor.Listing(doc, pageURL, sc.profile); ok {
		listing.ScrapedAt = sc.o.now().UTC()
		sc.state.pipeline.Process(sc.state.ctx, listing)

		if sc.o.cfg.MaxItems > 0 && sc.state.pipeline.Counters().Found >= sc.o.cfg.MaxItems {
			if sc.state.close("item limit reached") {
				sc.logger.Info("session item limit reached", zap.Int("max_items", sc.o.cfg.MaxItems))
			}
		}
		return
	}

	// Navigation page: queue product links and the next pagination page.
	for _, link := range sc.extractor.ProductLinks(doc, r.Request.URL, sc.profile) {
		if err := r.Request.Visit(link); err != nil {
			sc.logger.Debug("link rejected", zap.String("url", link), zap.Error(err))
		}
	}
	if next := sc.extractor.NextPage(doc, r.Request.URL, sc.profile); next != "" {
		if err := r.Request.Visit(next); err != nil {
			sc.logger.Debug("pagination rejected", zap.String("url", next), zap.Error(err))
		}
	}
}

func (sc *siteCrawl) onError(r *colly.Response, err error) {
	// Release shared capacity before any retry so a nested fetch can never
	// starve the semaphore.
	<-sc.state.globalSem
	site := sc.profile.Name
	sc.state.rate.End(site)
	metrics.ObserveFetch(site, r.StatusCode, 0)
	sc.releaseIdentity(r, false)

	sc.state.mu.Lock()
	sc.state.errors++
	errs := sc.state.errors
	sc.state.mu.Unlock()
	if sc.o.cfg.MaxErrors > 0 && errs >= sc.o.cfg.MaxErrors {
		if sc.state.close("error limit reached") {
			sc.logger.Warn("session error limit reached", zap.Int("max_errors", sc.o.cfg.MaxErrors))
		}
	}

	reqURL := r.Request.URL.String()
	if policy.Retryable(r.StatusCode, err) && !sc.state.isClosed() && sc.state.tracker.Allow(reqURL) {
		metrics.ObserveRetry(site)
		sc.logger.Debug("retrying request",
			zap.Int("attempt", sc.state.tracker.Attempts(reqURL)),
			zap.Error(&catalog.TransientFetchError{URL: reqURL, StatusCode: r.StatusCode, Err: err}))
		if rerr := r.Request.Retry(); rerr != nil {
			sc.logger.Debug("retry rejected", zap.String("url", reqURL), zap.Error(rerr))
		}
		return
	}

	update := sc.state.breaker.RecordFailure(site)
	sc.state.recordHealth(update)
	sc.logger.Warn("request failed",
		zap.String("url", reqURL),
		zap.Int("status", r.StatusCode),
		zap.Int("consecutive_failures", update.ConsecutiveFailures),
		zap.Error(err))
	if !update.Active {
		sc.state.closeSite(site)
		sc.logger.Error("circuit breaker tripped, disabling site",
			zap.Int("consecutive_failures", update.ConsecutiveFailures))
	}
}

func (sc *siteCrawl) releaseIdentity(r *colly.Response, success bool) {
	if sc.o.identities == nil {
		return
	}
	id := identity.Identity{ProxyURL: r.Request.ProxyURL}
	if success {
		sc.o.identities.ReleaseSuccess(id)
	} else {
		sc.o.identities.ReleaseFailure(id)
	}
}
