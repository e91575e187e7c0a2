// Package catalog defines the canonical data model shared across subsystems.
package catalog

import "time"

// DefaultCategory is assigned when a listing's category cannot be resolved.
const DefaultCategory = "لوازم جانبی خودرو"

// DefaultCurrency is the currency recorded when a site does not declare one.
const DefaultCurrency = "IRR"

// Availability classifies a listing's stock status.
type Availability string

// Availability values stored on observations.
const (
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

// Listing is one scraped price fact for one product on one site at one time.
// It lives only for the duration of the pipeline and is never persisted as-is.
type Listing struct {
	Site         string
	SourceURL    string
	Name         string
	Price        float64
	Currency     string
	Category     string
	Description  string
	ImageURL     string
	SKU          string
	Availability Availability
	ScrapedAt    time.Time
}

// Product is the canonical catalog entity aggregating listings across sites.
type Product struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	SKU         string            `json:"sku,omitempty"`
	Category    string            `json:"category"`
	Description string            `json:"description,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	SiteURLs    map[string]string `json:"site_urls"`
	ExternalID  string            `json:"external_id,omitempty"`
	Active      bool              `json:"is_active"`
	Monitored   bool              `json:"is_monitored"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	LastScraped time.Time         `json:"last_scraped"`
}

// PriceObservation is an immutable historical price record, one per accepted
// listing.
type PriceObservation struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	Site      string       `json:"site_name"`
	Price     float64      `json:"price"`
	Currency  string       `json:"currency"`
	Available bool         `json:"available"`
	ScrapedAt time.Time    `json:"scraped_at"`
	Status    Availability `json:"-"`
}

// PriceSummary is the derived daily statistic for one product. It is upserted
// idempotently per (product, date) and never hand-edited.
type PriceSummary struct {
	ProductID       int64     `json:"product_id"`
	Date            time.Time `json:"date"`
	Avg             float64   `json:"avg_price"`
	Min             float64   `json:"min_price"`
	Max             float64   `json:"max_price"`
	Median          float64   `json:"median_price"`
	StdDev          float64   `json:"std_dev"`
	Count           int       `json:"price_count"`
	OutliersRemoved int       `json:"outliers_removed"`
}

// SiteProfile carries per-site crawl configuration and health state.
type SiteProfile struct {
	Name                string            `json:"site_name"`
	BaseURL             string            `json:"base_url"`
	Selectors           map[string]string `json:"selectors"`
	Delay               time.Duration     `json:"request_delay"`
	Concurrency         int               `json:"concurrent_requests"`
	UserAgent           string            `json:"user_agent,omitempty"`
	MaxPages            int               `json:"max_pages"`
	Active              bool              `json:"is_active"`
	Available           bool              `json:"is_available"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastSuccess         time.Time         `json:"last_successful_scrape"`
}

// SessionStatus is the lifecycle state of a crawl session.
type SessionStatus string

// Session status values persisted in the session log.
const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// SessionCounters tracks per-session item and page totals.
type SessionCounters struct {
	Found      int `json:"found"`
	Processed  int `json:"processed"`
	Dropped    int `json:"dropped"`
	Duplicates int `json:"duplicates"`
	Saved      int `json:"saved"`
	Failed     int `json:"failed"`
	Pages      int `json:"pages"`
	Requests   int `json:"requests"`
	Errors     int `json:"errors"`
}

// CrawlSession is the append-only audit row for one orchestration run.
type CrawlSession struct {
	ID        string          `json:"session_id"`
	Sites     []string        `json:"sites"`
	Status    SessionStatus   `json:"status"`
	Counters  SessionCounters `json:"counters"`
	StartedAt time.Time       `json:"start_time"`
	EndedAt   *time.Time      `json:"end_time,omitempty"`
	ErrorText string          `json:"error_text,omitempty"`
}

// Duration returns the session wall-clock time, zero until terminal.
func (s CrawlSession) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// TrendDirection labels the sign of a price trend.
type TrendDirection string

// Trend directions reported by the aggregation engine.
const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// TrendReport describes price movement for a product over a lookback window.
type TrendReport struct {
	ProductID   int64          `json:"product_id"`
	Direction   TrendDirection `json:"trend_direction"`
	Percentage  float64        `json:"trend_percentage"`
	CurrentAvg  float64        `json:"current_avg"`
	MinInPeriod float64        `json:"min_in_period"`
	MaxInPeriod float64        `json:"max_in_period"`
	DataPoints  int            `json:"data_points"`
}

// PriceAlert reports a significant short-window price change.
type PriceAlert struct {
	ProductID     int64     `json:"product_id"`
	ProductName   string    `json:"product_name"`
	PreviousPrice float64   `json:"previous_price"`
	CurrentPrice  float64   `json:"current_price"`
	ChangePercent float64   `json:"change_percent"`
	Direction     string    `json:"alert_type"`
	Timestamp     time.Time `json:"timestamp"`
}

// CategorySummary aggregates the latest summaries of a category's products.
type CategorySummary struct {
	Category     string  `json:"category"`
	ProductCount int     `json:"product_count"`
	Avg          float64 `json:"avg_price"`
	Min          float64 `json:"min_price"`
	Max          float64 `json:"max_price"`
	Median       float64 `json:"median_price"`
	Range        float64 `json:"price_range"`
}
