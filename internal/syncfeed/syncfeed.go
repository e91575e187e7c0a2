// Package syncfeed exposes the latest aggregated prices for products linked
// to an external catalog. Reads are fronted by the result cache because
// downstream sync jobs poll this feed far more often than summaries change.
package syncfeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/cache"
	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store"
)

// Price types selectable by the feed consumer.
const (
	PriceAvg = "avg"
	PriceMin = "min"
	PriceMax = "max"
)

// Entry is one product's latest price for the external catalog.
type Entry struct {
	ProductID  int64     `json:"product_id"`
	ExternalID string    `json:"external_id"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

// Feed reads latest prices for monitored products with external ids.
type Feed struct {
	products  store.ProductStore
	summaries store.SummaryStore
	cache     *cache.Cache
	ttl       time.Duration
	logger    *zap.Logger
}

// Config carries the feed's dependencies.
type Config struct {
	Products  store.ProductStore
	Summaries store.SummaryStore
	Cache     *cache.Cache
	TTL       time.Duration
	Logger    *zap.Logger
}

// New constructs a Feed.
func New(cfg Config) *Feed {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Feed{
		products:  cfg.Products,
		summaries: cfg.Summaries,
		cache:     cfg.Cache,
		ttl:       ttl,
		logger:    logger,
	}
}

// LatestPrices returns one entry per active, monitored product that carries
// an external id and has at least one summary. priceType selects which
// statistic is exported.
func (f *Feed) LatestPrices(ctx context.Context, priceType string) ([]Entry, error) {
	switch priceType {
	case PriceAvg, PriceMin, PriceMax:
	default:
		return nil, fmt.Errorf("%w: unknown price type %q", catalog.ErrConfiguration, priceType)
	}

	if f.cache == nil {
		return f.build(ctx, priceType)
	}

	var entries []Entry
	err := f.cache.GetOrCompute(ctx, "syncfeed:"+priceType, f.ttl, &entries,
		func(ctx context.Context) (any, error) {
			return f.build(ctx, priceType)
		})
	if errors.Is(err, cache.ErrMiss) {
		return nil, nil
	}
	return entries, err
}

// Invalidate drops cached feed results, typically after an aggregation pass.
func (f *Feed) Invalidate(ctx context.Context) error {
	if f.cache == nil {
		return nil
	}
	return f.cache.Clear(ctx, "syncfeed:*")
}

func (f *Feed) build(ctx context.Context, priceType string) ([]Entry, error) {
	products, err := f.products.ListMonitored(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync feed: %w", err)
	}

	var entries []Entry
	for _, p := range products {
		if p.ExternalID == "" {
			continue
		}
		latest, err := f.summaries.LatestSummary(ctx, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sync feed: product %d: %w", p.ID, err)
		}

		price := latest.Avg
		switch priceType {
		case PriceMin:
			price = latest.Min
		case PriceMax:
			price = latest.Max
		}
		entries = append(entries, Entry{
			ProductID:  p.ID,
			ExternalID: p.ExternalID,
			Price:      price,
			Timestamp:  latest.Date,
		})
	}
	f.logger.Debug("sync feed built",
		zap.String("price_type", priceType),
		zap.Int("entries", len(entries)))
	return entries, nil
}
