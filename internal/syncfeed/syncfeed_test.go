package syncfeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partswatch/partswatch/internal/cache"
	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store/memory"
)

func seedFeedStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.New()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	linked := st.PutProduct(catalog.Product{
		Name: "لنت ترمز جلو", ExternalID: "EXT-100",
		Active: true, Monitored: true,
	})
	unlinked := st.PutProduct(catalog.Product{
		Name: "فیلتر روغن",
		Active: true, Monitored: true,
	})
	inactive := st.PutProduct(catalog.Product{
		Name: "شمع موتور", ExternalID: "EXT-300",
		Active: false, Monitored: true,
	})

	for _, p := range []catalog.Product{linked, unlinked, inactive} {
		require.NoError(t, st.UpsertSummary(context.Background(), catalog.PriceSummary{
			ProductID: p.ID, Date: day,
			Avg: 46500, Min: 45000, Max: 48000, Median: 46500, Count: 4,
		}))
	}
	return st
}

func TestLatestPricesFiltersAndSelects(t *testing.T) {
	st := seedFeedStore(t)
	feed := New(Config{Products: st, Summaries: st})
	ctx := context.Background()

	entries, err := feed.LatestPrices(ctx, PriceAvg)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only linked, active, monitored products export")
	assert.Equal(t, "EXT-100", entries[0].ExternalID)
	assert.Equal(t, float64(46500), entries[0].Price)

	entries, err = feed.LatestPrices(ctx, PriceMin)
	require.NoError(t, err)
	assert.Equal(t, float64(45000), entries[0].Price)

	entries, err = feed.LatestPrices(ctx, PriceMax)
	require.NoError(t, err)
	assert.Equal(t, float64(48000), entries[0].Price)
}

func TestLatestPricesRejectsUnknownType(t *testing.T) {
	feed := New(Config{Products: memory.New(), Summaries: memory.New()})
	_, err := feed.LatestPrices(context.Background(), "median")
	assert.ErrorIs(t, err, catalog.ErrConfiguration)
}

func TestLatestPricesReadsThroughCache(t *testing.T) {
	st := seedFeedStore(t)
	c, err := cache.New(cache.Config{Backend: "memory"}, nil)
	require.NoError(t, err)
	feed := New(Config{Products: st, Summaries: st, Cache: c})
	ctx := context.Background()

	entries, err := feed.LatestPrices(ctx, PriceAvg)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// A new summary is invisible until the cache is invalidated.
	require.NoError(t, st.UpsertSummary(ctx, catalog.PriceSummary{
		ProductID: entries[0].ProductID,
		Date:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Avg:       99000, Min: 99000, Max: 99000, Median: 99000, Count: 1,
	}))

	cached, err := feed.LatestPrices(ctx, PriceAvg)
	require.NoError(t, err)
	assert.Equal(t, float64(46500), cached[0].Price)

	require.NoError(t, feed.Invalidate(ctx))
	fresh, err := feed.LatestPrices(ctx, PriceAvg)
	require.NoError(t, err)
	assert.Equal(t, float64(99000), fresh[0].Price)
}
