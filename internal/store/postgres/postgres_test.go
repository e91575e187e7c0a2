package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestGetProfileNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM site_profiles WHERE site_name`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHealthSkipsZeroTimestamp(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE site_profiles`).
		WithArgs("automoby", 3, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateHealth(context.Background(), "automoby", 3, false, time.Time{})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateHealthWritesLastSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE site_profiles`).
		WithArgs("automoby", 0, true, ts).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateHealth(context.Background(), "automoby", 0, true, ts)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveListingCreatesProductAndObservation(t *testing.T) {
	s, mock := newMockStore(t)
	scrapedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	listing := catalog.Listing{
		Site:         "automoby",
		SourceURL:    "https://automoby.ir/p/123",
		Name:         "لنت ترمز جلو پراید",
		Price:        450000,
		Currency:     "IRR",
		Category:     catalog.DefaultCategory,
		SKU:          "AUTOMOBY-a1b2c3d4",
		Availability: catalog.Available,
		ScrapedAt:    scrapedAt,
	}
	urls, _ := json.Marshal(map[string]string{listing.Site: listing.SourceURL})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, site_urls FROM products`).
		WithArgs(listing.Name, listing.Site, listing.SourceURL).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO products`).
		WithArgs(listing.Name, listing.SKU, listing.Category, "", "", urls, scrapedAt).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec(`INSERT INTO price_observations`).
		WithArgs(int64(42), listing.Site, listing.Price, listing.Currency, true, scrapedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, created, err := s.SaveListing(context.Background(), listing)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveListingUpdatesExistingProduct(t *testing.T) {
	s, mock := newMockStore(t)
	scrapedAt := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	listing := catalog.Listing{
		Site:         "mryadaki",
		SourceURL:    "https://mryadaki.com/p/9",
		Name:         "فیلتر روغن",
		Price:        120000,
		Currency:     "IRR",
		Availability: catalog.Unavailable,
		ScrapedAt:    scrapedAt,
	}
	existing, _ := json.Marshal(map[string]string{"automoby": "https://automoby.ir/p/9"})
	merged, _ := json.Marshal(map[string]string{
		"automoby": "https://automoby.ir/p/9",
		"mryadaki": listing.SourceURL,
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, site_urls FROM products`).
		WithArgs(listing.Name, listing.Site, listing.SourceURL).
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_urls"}).
			AddRow(int64(7), existing))
	mock.ExpectExec(`UPDATE products`).
		WithArgs(int64(7), "", "", merged, scrapedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO price_observations`).
		WithArgs(int64(7), listing.Site, listing.Price, listing.Currency, false, scrapedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	id, created, err := s.SaveListing(context.Background(), listing)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveListingRollsBackOnObservationFailure(t *testing.T) {
	s, mock := newMockStore(t)
	listing := catalog.Listing{
		Site:      "automoby",
		SourceURL: "https://automoby.ir/p/1",
		Name:      "شمع موتور",
		Price:     90000,
		Currency:  "IRR",
		ScrapedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, site_urls FROM products`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO products`).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO price_observations`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, _, err := s.SaveListing(context.Background(), listing)
	assert.ErrorIs(t, err, catalog.ErrPersistence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSummary(t *testing.T) {
	s, mock := newMockStore(t)
	sum := catalog.PriceSummary{
		ProductID: 42,
		Date:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Avg:       46500, Min: 45000, Max: 48000,
		Median: 46500, StdDev: 1290.99,
		Count: 4, OutliersRemoved: 1,
	}

	mock.ExpectExec(`INSERT INTO price_summaries`).
		WithArgs(sum.ProductID, sum.Date, sum.Avg, sum.Min, sum.Max,
			sum.Median, sum.StdDev, sum.Count, sum.OutliersRemoved).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, s.UpsertSummary(context.Background(), sum))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionLifecycle(t *testing.T) {
	s, mock := newMockStore(t)
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	sess := catalog.CrawlSession{
		ID:        "sess-1",
		Sites:     []string{"automoby"},
		Status:    catalog.SessionPending,
		StartedAt: started,
	}
	emptyCounters, _ := json.Marshal(catalog.SessionCounters{})

	mock.ExpectExec(`INSERT INTO crawl_sessions`).
		WithArgs(sess.ID, sess.Sites, "pending", emptyCounters, "", started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.CreateSession(context.Background(), sess))

	counters := catalog.SessionCounters{Found: 10, Saved: 8, Dropped: 2}
	raw, _ := json.Marshal(counters)
	mock.ExpectExec(`UPDATE crawl_sessions`).
		WithArgs("sess-1", "completed", raw, "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateSession(context.Background(), "sess-1",
		catalog.SessionCompleted, "", counters))

	assert.NoError(t, mock.ExpectationsWereMet())
}
