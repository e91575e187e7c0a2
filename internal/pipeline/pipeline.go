// Package pipeline runs scraped listings through staged processing: validate,
// clean, dedup and persist. Each stage either keeps the listing or drops it
// with a reason; a dropped listing never reaches later stages and never
// aborts the session.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/extract"
	"github.com/partswatch/partswatch/internal/metrics"
	"github.com/partswatch/partswatch/internal/store"
)

// Verdict is the outcome of one stage (or of the whole pipeline).
type Verdict struct {
	Listing   catalog.Listing
	Kept      bool
	Stage     string
	Reason    string
	Err       error
	ProductID int64
	Created   bool
}

// Keep passes the (possibly rewritten) listing to the next stage.
func Keep(l catalog.Listing) Verdict {
	return Verdict{Listing: l, Kept: true}
}

// Drop rejects the listing with a stage name and reason.
func Drop(stage, reason string) Verdict {
	return Verdict{Stage: stage, Reason: reason}
}

// DropError rejects the listing with a classifiable error; the reason is the
// error text.
func DropError(stage string, err error) Verdict {
	return Verdict{Stage: stage, Reason: err.Error(), Err: err}
}

// Stage processes one listing.
type Stage interface {
	Name() string
	Process(ctx context.Context, l catalog.Listing) Verdict
}

// Pipeline chains the stages and keeps cumulative session counters.
type Pipeline struct {
	stages []Stage
	logger *zap.Logger

	mu       sync.Mutex
	counters catalog.SessionCounters
}

// Config carries pipeline construction inputs.
type Config struct {
	Writer   store.ListingWriter
	Currency string
	Logger   *zap.Logger
}

// New wires the standard stage chain: validate, clean, dedup, persist.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	currency := cfg.Currency
	if currency == "" {
		currency = catalog.DefaultCurrency
	}
	return &Pipeline{
		stages: []Stage{
			validateStage{},
			cleanStage{currency: currency},
			newDedupStage(),
			persistStage{writer: cfg.Writer},
		},
		logger: logger,
	}
}

// Process runs one listing through every stage and updates the counters.
// The returned verdict carries the final listing and, when persisted, the
// product id it resolved to.
func (p *Pipeline) Process(ctx context.Context, l catalog.Listing) Verdict {
	p.add(func(c *catalog.SessionCounters) { c.Found++ })

	current := l
	for _, stage := range p.stages {
		v := stage.Process(ctx, current)
		if !v.Kept {
			v.Stage = stage.Name()
			p.recordDrop(v)
			return v
		}
		current = v.Listing
		if stage.Name() == "persist" {
			p.add(func(c *catalog.SessionCounters) {
				c.Processed++
				c.Saved++
			})
			metrics.ObserveListing("saved")
			p.logger.Debug("listing saved",
				zap.String("site", current.Site),
				zap.Int64("product_id", v.ProductID),
				zap.Bool("created", v.Created))
			return v
		}
	}

	// Unreachable while persist is the terminal stage.
	p.add(func(c *catalog.SessionCounters) { c.Processed++ })
	return Keep(current)
}

func (p *Pipeline) recordDrop(v Verdict) {
	p.add(func(c *catalog.SessionCounters) {
		c.Dropped++
		switch v.Stage {
		case "dedup":
			c.Duplicates++
		case "persist":
			c.Failed++
		}
	})
	switch v.Stage {
	case "dedup":
		metrics.ObserveListing("duplicate")
	case "persist":
		metrics.ObserveListing("failed")
	default:
		metrics.ObserveListing("dropped")
	}
	p.logger.Debug("listing dropped",
		zap.String("stage", v.Stage),
		zap.String("reason", v.Reason))
}

// Counters returns a snapshot of the cumulative counters.
func (p *Pipeline) Counters() catalog.SessionCounters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

func (p *Pipeline) add(f func(*catalog.SessionCounters)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.counters)
}

// validateStage rejects listings that cannot become observations.
type validateStage struct{}

func (validateStage) Name() string { return "validate" }

func (validateStage) Process(_ context.Context, l catalog.Listing) Verdict {
	if utf8.RuneCountInString(strings.TrimSpace(l.Name)) < 3 {
		return DropError("", fmt.Errorf("%w: name shorter than 3 characters", catalog.ErrValidation))
	}
	if l.Price <= 0 {
		return DropError("", fmt.Errorf("%w: non-positive price %.2f", catalog.ErrValidation, l.Price))
	}
	if l.Site == "" {
		return DropError("", fmt.Errorf("%w: missing site", catalog.ErrValidation))
	}
	u, err := url.Parse(l.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return DropError("", fmt.Errorf("%w: source url is not http(s)", catalog.ErrValidation))
	}
	return Keep(l)
}

// cleanStage finalizes normalization: text cleanup, category, currency, SKU
// and availability defaults.
type cleanStage struct {
	currency string
}

func (cleanStage) Name() string { return "clean" }

func (s cleanStage) Process(_ context.Context, l catalog.Listing) Verdict {
	l.Name = extract.CleanText(l.Name)
	l.Description = extract.CleanText(l.Description)
	if l.Category == "" {
		l.Category = catalog.DefaultCategory
	}
	if l.Currency == "" {
		l.Currency = s.currency
	}
	if l.SKU == "" {
		l.SKU = extract.GenerateSKU(l.Site, l.Name, l.SourceURL)
	}
	if l.Availability == "" {
		l.Availability = catalog.Available
	}
	return Keep(l)
}

// dedupStage drops listings whose (site, name signature) was already seen in
// this session. The seen-set lives and dies with the pipeline instance, so
// dedup is session-scoped by construction.
type dedupStage struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newDedupStage() *dedupStage {
	return &dedupStage{seen: make(map[string]struct{})}
}

func (*dedupStage) Name() string { return "dedup" }

func (s *dedupStage) Process(_ context.Context, l catalog.Listing) Verdict {
	key := l.Site + "|" + extract.Signature(l.Name)
	s.mu.Lock()
	_, dup := s.seen[key]
	if !dup {
		s.seen[key] = struct{}{}
	}
	s.mu.Unlock()
	if dup {
		return Drop("", "duplicate listing in session")
	}
	return Keep(l)
}

// persistStage writes the listing through the transactional store. A write
// failure drops the item and the session continues.
type persistStage struct {
	writer store.ListingWriter
}

func (persistStage) Name() string { return "persist" }

func (s persistStage) Process(ctx context.Context, l catalog.Listing) Verdict {
	if s.writer == nil {
		return Drop("", "no listing writer configured")
	}
	id, created, err := s.writer.SaveListing(ctx, l)
	if err != nil {
		return DropError("", err)
	}
	v := Keep(l)
	v.ProductID = id
	v.Created = created
	return v
}
