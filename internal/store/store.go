// Package store defines the durable-store contracts consumed by the crawl
// and aggregation pipelines. Implementations live in the postgres and memory
// subpackages; the interfaces keep the pipelines decoupled from any one
// engine.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/partswatch/partswatch/internal/catalog"
)

// ErrNotFound is returned when a keyed read matches nothing.
var ErrNotFound = errors.New("store: not found")

// SiteProfileStore reads crawl configuration and writes back health state.
type SiteProfileStore interface {
	ListProfiles(ctx context.Context) ([]catalog.SiteProfile, error)
	GetProfile(ctx context.Context, site string) (catalog.SiteProfile, error)
	// UpdateHealth persists the failure counter, active flag and, when
	// non-zero, the last successful scrape timestamp.
	UpdateHealth(ctx context.Context, site string, consecutiveFailures int, active bool, lastSuccess time.Time) error
}

// ListingWriter persists one accepted listing transactionally: product
// upsert plus one immutable price observation commit or roll back together.
type ListingWriter interface {
	SaveListing(ctx context.Context, listing catalog.Listing) (productID int64, created bool, err error)
}

// ProductStore reads canonical products.
type ProductStore interface {
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
	ListMonitored(ctx context.Context) ([]catalog.Product, error)
}

// ObservationStore reads the append-only price history.
type ObservationStore interface {
	// ListWindow returns all observations with ScrapedAt in [from, to).
	ListWindow(ctx context.Context, from, to time.Time) ([]catalog.PriceObservation, error)
}

// SummaryStore reads and upserts derived daily summaries.
type SummaryStore interface {
	UpsertSummary(ctx context.Context, summary catalog.PriceSummary) error
	ListSummaries(ctx context.Context, productID int64, from, to time.Time) ([]catalog.PriceSummary, error)
	ListSummariesSince(ctx context.Context, since time.Time) ([]catalog.PriceSummary, error)
	LatestSummary(ctx context.Context, productID int64) (catalog.PriceSummary, error)
}

// SessionStore appends and finalizes crawl session audit rows.
type SessionStore interface {
	CreateSession(ctx context.Context, session catalog.CrawlSession) error
	UpdateSession(ctx context.Context, id string, status catalog.SessionStatus, errText string, counters catalog.SessionCounters) error
	GetSession(ctx context.Context, id string) (catalog.CrawlSession, error)
}
