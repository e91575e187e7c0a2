package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/partswatch/partswatch/internal/aggregate"
	"github.com/partswatch/partswatch/internal/syncfeed"
)

func newAggregateCmd() *cobra.Command {
	var (
		dateStr   string
		threshold float64
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Reduce one day of observations into summaries and scan for alerts",
		Long: `Computes per-product daily price summaries with outlier filtering for
the given date (default today, UTC), then scans the last two days of
summaries for significant price movement and publishes any alerts.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			date := time.Now().UTC()
			if dateStr != "" {
				date, err = time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf("parse --date: %w", err)
				}
			}
			if threshold <= 0 {
				threshold = a.cfg.Aggregate.AlertThresholdPct
			}

			engine := aggregate.New(aggregate.Config{
				Observations: a.store,
				Summaries:    a.store,
				Products:     a.store,
				Notifier:     a.notifier,
				Logger:       a.logger,
			})

			ctx := cmd.Context()
			res, err := engine.AggregateDay(ctx, date)
			if err != nil {
				return fmt.Errorf("aggregate day: %w", err)
			}

			alerts, err := engine.Alerts(ctx, threshold)
			if err != nil {
				return fmt.Errorf("alert scan: %w", err)
			}

			// Derived reads are stale now; drop them so the next feed poll
			// recomputes.
			feed := syncfeed.New(syncfeed.Config{
				Products:  a.store,
				Summaries: a.store,
				Cache:     a.cache,
				Logger:    a.logger,
			})
			if err := feed.Invalidate(ctx); err != nil {
				a.logger.Warn("sync feed invalidation failed", zap.Error(err))
			}

			a.logger.Info("aggregation finished",
				zap.String("date", res.Date.Format("2006-01-02")),
				zap.Int("products", res.Products),
				zap.Int("summaries_written", res.SummariesWritten),
				zap.Int("alerts_raised", len(alerts)))
			return nil
		},
	}

	cmd.Flags().StringVar(&dateStr, "date", "", "day to aggregate, YYYY-MM-DD (default today UTC)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "alert threshold percent (default from config)")
	return cmd
}
