package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store"
)

const summaryColumns = `product_id, summary_date, avg_price, min_price,
	max_price, median_price, std_dev, price_count, outliers_removed`

func scanSummary(row pgx.Row) (catalog.PriceSummary, error) {
	var sum catalog.PriceSummary
	err := row.Scan(&sum.ProductID, &sum.Date, &sum.Avg, &sum.Min, &sum.Max,
		&sum.Median, &sum.StdDev, &sum.Count, &sum.OutliersRemoved)
	return sum, err
}

// UpsertSummary writes the daily summary for (product, date). Re-running the
// same day replaces the row, keeping aggregation idempotent.
func (s *Store) UpsertSummary(ctx context.Context, summary catalog.PriceSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_summaries
		   (product_id, summary_date, avg_price, min_price, max_price,
		    median_price, std_dev, price_count, outliers_removed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (product_id, summary_date) DO UPDATE SET
		   avg_price = EXCLUDED.avg_price,
		   min_price = EXCLUDED.min_price,
		   max_price = EXCLUDED.max_price,
		   median_price = EXCLUDED.median_price,
		   std_dev = EXCLUDED.std_dev,
		   price_count = EXCLUDED.price_count,
		   outliers_removed = EXCLUDED.outliers_removed`,
		summary.ProductID, summary.Date, summary.Avg, summary.Min, summary.Max,
		summary.Median, summary.StdDev, summary.Count, summary.OutliersRemoved)
	if err != nil {
		return fmt.Errorf("upsert summary for product %d: %w", summary.ProductID, err)
	}
	return nil
}

// ListSummaries returns one product's summaries with dates in [from, to),
// oldest first.
func (s *Store) ListSummaries(ctx context.Context, productID int64, from, to time.Time) ([]catalog.PriceSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM price_summaries
		 WHERE product_id = $1 AND summary_date >= $2 AND summary_date < $3
		 ORDER BY summary_date`,
		productID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list summaries for product %d: %w", productID, err)
	}
	defer rows.Close()
	return collectSummaries(rows)
}

// ListSummariesSince returns all summaries dated at or after since, ordered
// by product then date.
func (s *Store) ListSummariesSince(ctx context.Context, since time.Time) ([]catalog.PriceSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM price_summaries
		 WHERE summary_date >= $1
		 ORDER BY product_id, summary_date`,
		since)
	if err != nil {
		return nil, fmt.Errorf("list summaries since %s: %w", since.Format("2006-01-02"), err)
	}
	defer rows.Close()
	return collectSummaries(rows)
}

// LatestSummary returns the newest summary for a product.
func (s *Store) LatestSummary(ctx context.Context, productID int64) (catalog.PriceSummary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM price_summaries
		 WHERE product_id = $1
		 ORDER BY summary_date DESC LIMIT 1`,
		productID)
	sum, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.PriceSummary{}, store.ErrNotFound
	}
	if err != nil {
		return catalog.PriceSummary{}, fmt.Errorf("latest summary for product %d: %w", productID, err)
	}
	return sum, nil
}

func collectSummaries(rows pgx.Rows) ([]catalog.PriceSummary, error) {
	var out []catalog.PriceSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read summaries: %w", err)
	}
	return out, nil
}
