// Package aggregate reduces persisted price observations into daily
// summaries, trend reports, category roll-ups and price alerts.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/metrics"
	"github.com/partswatch/partswatch/internal/notify"
	"github.com/partswatch/partswatch/internal/store"
)

// Defaults for the analysis windows.
const (
	DefaultTrendDays         = 30
	DefaultAlertThresholdPct = 10.0

	trendBucketSpan = 7
	alertLookback   = 48 * time.Hour
)

// Engine runs the batch aggregation passes. All reads and writes go through
// the injected stores; the notifier is best-effort.
type Engine struct {
	observations store.ObservationStore
	summaries    store.SummaryStore
	products     store.ProductStore
	notifier     notify.Notifier
	logger       *zap.Logger
	now          func() time.Time
}

// Config carries the engine's dependencies.
type Config struct {
	Observations store.ObservationStore
	Summaries    store.SummaryStore
	Products     store.ProductStore
	Notifier     notify.Notifier
	Logger       *zap.Logger
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Engine{
		observations: cfg.Observations,
		summaries:    cfg.Summaries,
		products:     cfg.Products,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
	}
}

// DayResult reports one AggregateDay pass.
type DayResult struct {
	Date             time.Time
	Products         int
	SummariesWritten int
	Observations     int
}

// AggregateDay reduces one UTC day of observations into per-product
// summaries. Re-running the same day overwrites the previous rows, so the
// pass is idempotent.
func (e *Engine) AggregateDay(ctx context.Context, date time.Time) (DayResult, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	obs, err := e.observations.ListWindow(ctx, day, next)
	if err != nil {
		return DayResult{}, fmt.Errorf("aggregate %s: %w", day.Format("2006-01-02"), err)
	}

	byProduct := make(map[int64][]float64)
	for _, o := range obs {
		if o.Price <= 0 {
			continue
		}
		byProduct[o.ProductID] = append(byProduct[o.ProductID], o.Price)
	}

	result := DayResult{Date: day, Products: len(byProduct), Observations: len(obs)}
	for productID, prices := range byProduct {
		kept, removed := filterOutliers(prices)
		sorted := make([]float64, len(kept))
		copy(sorted, kept)
		sort.Float64s(sorted)

		summary := catalog.PriceSummary{
			ProductID:       productID,
			Date:            day,
			Avg:             mean(sorted),
			Min:             sorted[0],
			Max:             sorted[len(sorted)-1],
			Median:          median(sorted),
			StdDev:          stdDev(sorted),
			Count:           len(sorted),
			OutliersRemoved: removed,
		}
		if err := e.summaries.UpsertSummary(ctx, summary); err != nil {
			return result, fmt.Errorf("aggregate %s: product %d: %w",
				day.Format("2006-01-02"), productID, err)
		}
		result.SummariesWritten++
		metrics.ObserveSummary()
	}

	e.logger.Info("day aggregated",
		zap.String("date", day.Format("2006-01-02")),
		zap.Int("products", result.Products),
		zap.Int("observations", result.Observations),
		zap.Int("summaries", result.SummariesWritten))
	return result, nil
}

// Trend reports price movement for a product over a lookback window by
// comparing the mean of the most recent seven daily summaries against the
// mean of the earliest seven in the window.
func (e *Engine) Trend(ctx context.Context, productID int64, days int) (catalog.TrendReport, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	now := e.now().UTC()
	since := now.AddDate(0, 0, -days)

	rows, err := e.summaries.ListSummaries(ctx, productID, since, now.AddDate(0, 0, 1))
	if err != nil {
		return catalog.TrendReport{}, fmt.Errorf("trend for product %d: %w", productID, err)
	}

	report := catalog.TrendReport{
		ProductID:  productID,
		Direction:  catalog.TrendStable,
		DataPoints: len(rows),
	}
	if len(rows) == 0 {
		return report, catalog.ErrNoObservations
	}

	avgs := make([]float64, len(rows))
	report.MinInPeriod = rows[0].Avg
	report.MaxInPeriod = rows[0].Avg
	for i, r := range rows {
		avgs[i] = r.Avg
		report.MinInPeriod = math.Min(report.MinInPeriod, r.Avg)
		report.MaxInPeriod = math.Max(report.MaxInPeriod, r.Avg)
	}
	report.CurrentAvg = avgs[len(avgs)-1]

	if len(avgs) < 2 {
		return report, nil
	}

	recentSpan := trendBucketSpan
	if recentSpan > len(avgs) {
		recentSpan = len(avgs)
	}
	recent := mean(avgs[len(avgs)-recentSpan:])
	older := mean(avgs[:recentSpan])
	if older == 0 {
		return report, nil
	}

	report.Percentage = (recent - older) / older * 100
	switch {
	case report.Percentage > 0:
		report.Direction = catalog.TrendIncreasing
	case report.Percentage < 0:
		report.Direction = catalog.TrendDecreasing
	}
	return report, nil
}

// Alerts scans the last two days of summaries and reports products whose two
// most recent daily averages moved by at least thresholdPct. Found alerts are
// forwarded to the notifier best-effort.
func (e *Engine) Alerts(ctx context.Context, thresholdPct float64) ([]catalog.PriceAlert, error) {
	if thresholdPct <= 0 {
		thresholdPct = DefaultAlertThresholdPct
	}
	now := e.now().UTC()

	rows, err := e.summaries.ListSummariesSince(ctx, now.Add(-alertLookback))
	if err != nil {
		return nil, fmt.Errorf("alert scan: %w", err)
	}

	byProduct := make(map[int64][]catalog.PriceSummary)
	for _, r := range rows {
		byProduct[r.ProductID] = append(byProduct[r.ProductID], r)
	}

	var alerts []catalog.PriceAlert
	for productID, sums := range byProduct {
		if len(sums) < 2 {
			continue
		}
		sort.Slice(sums, func(i, j int) bool { return sums[i].Date.Before(sums[j].Date) })
		prev := sums[len(sums)-2].Avg
		curr := sums[len(sums)-1].Avg
		if prev == 0 {
			continue
		}
		change := (curr - prev) / prev * 100
		if math.Abs(change) < thresholdPct {
			continue
		}

		direction := "increase"
		if change < 0 {
			direction = "decrease"
		}
		name := ""
		if p, err := e.products.GetProduct(ctx, productID); err == nil {
			name = p.Name
		} else if !errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("alert product lookup failed",
				zap.Int64("product_id", productID), zap.Error(err))
		}
		alerts = append(alerts, catalog.PriceAlert{
			ProductID:     productID,
			ProductName:   name,
			PreviousPrice: prev,
			CurrentPrice:  curr,
			ChangePercent: change,
			Direction:     direction,
			Timestamp:     now,
		})
		metrics.ObserveAlert()
	}

	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ProductID < alerts[j].ProductID })

	if len(alerts) > 0 {
		e.sendAlertDigest(ctx, alerts, thresholdPct)
	}
	return alerts, nil
}

func (e *Engine) sendAlertDigest(ctx context.Context, alerts []catalog.PriceAlert, thresholdPct float64) {
	fields := map[string]any{
		"count":         len(alerts),
		"threshold_pct": thresholdPct,
		"alerts":        alerts,
	}
	subject := fmt.Sprintf("%d price alert(s) above %.1f%%", len(alerts), thresholdPct)
	if err := e.notifier.Notify(ctx, subject, "price movement detected", fields); err != nil {
		e.logger.Warn("alert notification failed", zap.Error(err))
	}
}

// CategorySummary groups the latest summaries of active, monitored products
// by category.
func (e *Engine) CategorySummary(ctx context.Context) ([]catalog.CategorySummary, error) {
	products, err := e.products.ListMonitored(ctx)
	if err != nil {
		return nil, fmt.Errorf("category summary: %w", err)
	}

	byCategory := make(map[string][]float64)
	for _, p := range products {
		latest, err := e.summaries.LatestSummary(ctx, p.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("category summary: product %d: %w", p.ID, err)
		}
		category := p.Category
		if category == "" {
			category = catalog.DefaultCategory
		}
		byCategory[category] = append(byCategory[category], latest.Avg)
	}

	out := make([]catalog.CategorySummary, 0, len(byCategory))
	for category, avgs := range byCategory {
		sort.Float64s(avgs)
		out = append(out, catalog.CategorySummary{
			Category:     category,
			ProductCount: len(avgs),
			Avg:          mean(avgs),
			Min:          avgs[0],
			Max:          avgs[len(avgs)-1],
			Median:       median(avgs),
			Range:        avgs[len(avgs)-1] - avgs[0],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out, nil
}
