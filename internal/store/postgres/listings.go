package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/partswatch/partswatch/internal/catalog"
)

// SaveListing upserts the product matched by (name, site URL) and appends one
// price observation. Both writes share a transaction so a failure leaves no
// half-saved listing behind.
func (s *Store) SaveListing(ctx context.Context, listing catalog.Listing) (int64, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("%w: begin save listing: %v", catalog.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	var (
		productID int64
		rawURLs   []byte
		created   bool
	)
	err = tx.QueryRow(ctx,
		`SELECT id, site_urls FROM products
		 WHERE name = $1 AND site_urls->>$2 = $3
		 FOR UPDATE`,
		listing.Name, listing.Site, listing.SourceURL).Scan(&productID, &rawURLs)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		urls, mErr := json.Marshal(map[string]string{listing.Site: listing.SourceURL})
		if mErr != nil {
			return 0, false, fmt.Errorf("%w: encode site urls: %v", catalog.ErrPersistence, mErr)
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO products
			   (name, sku, category, description, image_url, site_urls,
			    is_active, is_monitored, last_scraped, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, true, true, $7, now(), now())
			 RETURNING id`,
			listing.Name, listing.SKU, listing.Category, listing.Description,
			listing.ImageURL, urls, listing.ScrapedAt).Scan(&productID)
		if err != nil {
			return 0, false, fmt.Errorf("%w: insert product: %v", catalog.ErrPersistence, err)
		}
		created = true
	case err != nil:
		return 0, false, fmt.Errorf("%w: lookup product: %v", catalog.ErrPersistence, err)
	default:
		var urls map[string]string
		if len(rawURLs) > 0 {
			if uErr := json.Unmarshal(rawURLs, &urls); uErr != nil {
				return 0, false, fmt.Errorf("%w: decode site urls: %v", catalog.ErrPersistence, uErr)
			}
		}
		if urls == nil {
			urls = make(map[string]string)
		}
		urls[listing.Site] = listing.SourceURL
		merged, mErr := json.Marshal(urls)
		if mErr != nil {
			return 0, false, fmt.Errorf("%w: encode site urls: %v", catalog.ErrPersistence, mErr)
		}
		_, err = tx.Exec(ctx,
			`UPDATE products
			 SET description = COALESCE(NULLIF($2, ''), description),
			     image_url   = COALESCE(NULLIF($3, ''), image_url),
			     site_urls   = $4,
			     last_scraped = $5,
			     updated_at   = now()
			 WHERE id = $1`,
			productID, listing.Description, listing.ImageURL, merged, listing.ScrapedAt)
		if err != nil {
			return 0, false, fmt.Errorf("%w: update product: %v", catalog.ErrPersistence, err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO price_observations
		   (product_id, site_name, price, currency, available, scraped_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		productID, listing.Site, listing.Price, listing.Currency,
		listing.Availability == catalog.Available, listing.ScrapedAt)
	if err != nil {
		return 0, false, fmt.Errorf("%w: insert observation: %v", catalog.ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("%w: commit save listing: %v", catalog.ErrPersistence, err)
	}
	return productID, created, nil
}
