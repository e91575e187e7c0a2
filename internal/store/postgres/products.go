package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store"
)

const productColumns = `id, name, sku, category, description, image_url,
	site_urls, external_id, is_active, is_monitored, created_at, updated_at,
	last_scraped`

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var (
		p           catalog.Product
		rawURLs     []byte
		lastScraped *time.Time
	)
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Category, &p.Description,
		&p.ImageURL, &rawURLs, &p.ExternalID, &p.Active, &p.Monitored,
		&p.CreatedAt, &p.UpdatedAt, &lastScraped)
	if err != nil {
		return catalog.Product{}, err
	}
	if len(rawURLs) > 0 {
		if err := json.Unmarshal(rawURLs, &p.SiteURLs); err != nil {
			return catalog.Product{}, fmt.Errorf("decode site urls for product %d: %w", p.ID, err)
		}
	}
	if lastScraped != nil {
		p.LastScraped = *lastScraped
	}
	return p, nil
}

// GetProduct fetches one product by id.
func (s *Store) GetProduct(ctx context.Context, id int64) (catalog.Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, store.ErrNotFound
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// ListMonitored returns active, monitored products ordered by id.
func (s *Store) ListMonitored(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE is_active AND is_monitored ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list monitored products: %w", err)
	}
	defer rows.Close()

	var out []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list monitored products: %w", err)
	}
	return out, nil
}

// ListWindow returns price observations with scraped_at in [from, to).
func (s *Store) ListWindow(ctx context.Context, from, to time.Time) ([]catalog.PriceObservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, site_name, price, currency, available, scraped_at
		 FROM price_observations
		 WHERE scraped_at >= $1 AND scraped_at < $2
		 ORDER BY product_id, scraped_at`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var out []catalog.PriceObservation
	for rows.Next() {
		var o catalog.PriceObservation
		if err := rows.Scan(&o.ID, &o.ProductID, &o.Site, &o.Price,
			&o.Currency, &o.Available, &o.ScrapedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	return out, nil
}
