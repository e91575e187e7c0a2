package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store"
)

const profileColumns = `site_name, base_url, selectors, request_delay_ms,
	concurrent_requests, user_agent, max_pages, is_active, is_available,
	consecutive_failures, last_successful_scrape`

func scanProfile(row pgx.Row) (catalog.SiteProfile, error) {
	var (
		p           catalog.SiteProfile
		selectors   []byte
		delayMs     int64
		lastSuccess *time.Time
	)
	err := row.Scan(&p.Name, &p.BaseURL, &selectors, &delayMs,
		&p.Concurrency, &p.UserAgent, &p.MaxPages, &p.Active, &p.Available,
		&p.ConsecutiveFailures, &lastSuccess)
	if err != nil {
		return catalog.SiteProfile{}, err
	}
	if len(selectors) > 0 {
		if err := json.Unmarshal(selectors, &p.Selectors); err != nil {
			return catalog.SiteProfile{}, fmt.Errorf("decode selectors for %s: %w", p.Name, err)
		}
	}
	p.Delay = time.Duration(delayMs) * time.Millisecond
	if lastSuccess != nil {
		p.LastSuccess = *lastSuccess
	}
	return p, nil
}

// ListProfiles returns every site profile ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]catalog.SiteProfile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM site_profiles ORDER BY site_name`)
	if err != nil {
		return nil, fmt.Errorf("list site profiles: %w", err)
	}
	defer rows.Close()

	var out []catalog.SiteProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list site profiles: %w", err)
	}
	return out, nil
}

// GetProfile fetches one site profile by name.
func (s *Store) GetProfile(ctx context.Context, site string) (catalog.SiteProfile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM site_profiles WHERE site_name = $1`, site)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.SiteProfile{}, store.ErrNotFound
	}
	if err != nil {
		return catalog.SiteProfile{}, fmt.Errorf("get site profile %s: %w", site, err)
	}
	return p, nil
}

// UpdateHealth writes back the breaker's verdict for a site. A zero
// lastSuccess leaves the stored timestamp untouched.
func (s *Store) UpdateHealth(ctx context.Context, site string, consecutiveFailures int, active bool, lastSuccess time.Time) error {
	var tag pgconn.CommandTag
	var err error
	if lastSuccess.IsZero() {
		tag, err = s.pool.Exec(ctx,
			`UPDATE site_profiles
			 SET consecutive_failures = $2, is_active = $3, updated_at = now()
			 WHERE site_name = $1`,
			site, consecutiveFailures, active)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE site_profiles
			 SET consecutive_failures = $2, is_active = $3,
			     last_successful_scrape = $4, updated_at = now()
			 WHERE site_name = $1`,
			site, consecutiveFailures, active, lastSuccess)
	}
	if err != nil {
		return fmt.Errorf("update health for %s: %w", site, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
