package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store"
)

func TestSaveListingUpsertsByNameAndURL(t *testing.T) {
	st := New()
	ctx := context.Background()
	listing := catalog.Listing{
		Site:      "automoby",
		SourceURL: "https://automoby.ir/p/1",
		Name:      "لنت ترمز جلو",
		Price:     45000,
		Currency:  "IRR",
		ScrapedAt: time.Now().UTC(),
	}

	id, created, err := st.SaveListing(ctx, listing)
	require.NoError(t, err)
	assert.True(t, created)

	// Same name and URL resolves to the same product.
	listing.Price = 46000
	id2, created, err := st.SaveListing(ctx, listing)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, id2)

	// Same name on another site creates a sibling URL, not a new product.
	other := listing
	other.Site = "mryadaki"
	other.SourceURL = "https://mryadaki.com/p/9"
	id3, created, err := st.SaveListing(ctx, other)
	require.NoError(t, err)
	assert.True(t, created, "no product matches that name and site URL pair yet")
	assert.NotEqual(t, id, id3)

	obs, err := st.ListWindow(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, obs, 3, "every save appends one observation")
}

func TestUpdateHealthUnknownSite(t *testing.T) {
	st := New()
	err := st.UpdateHealth(context.Background(), "ghost", 1, true, time.Time{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionTerminalStampsEnd(t *testing.T) {
	st := New()
	ctx := context.Background()
	require.NoError(t, st.CreateSession(ctx, catalog.CrawlSession{
		ID:        "s1",
		Status:    catalog.SessionPending,
		StartedAt: time.Now().UTC(),
	}))

	require.NoError(t, st.UpdateSession(ctx, "s1", catalog.SessionRunning, "", catalog.SessionCounters{}))
	sess, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sess.EndedAt)

	require.NoError(t, st.UpdateSession(ctx, "s1", catalog.SessionCompleted, "",
		catalog.SessionCounters{Saved: 3}))
	sess, err = st.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, 3, sess.Counters.Saved)
	assert.Positive(t, sess.Duration())
}

func TestLatestSummaryPicksNewestDate(t *testing.T) {
	st := New()
	ctx := context.Background()
	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	require.NoError(t, st.UpsertSummary(ctx, catalog.PriceSummary{ProductID: 1, Date: d1, Avg: 100}))
	require.NoError(t, st.UpsertSummary(ctx, catalog.PriceSummary{ProductID: 1, Date: d2, Avg: 200}))

	latest, err := st.LatestSummary(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(200), latest.Avg)

	_, err = st.LatestSummary(ctx, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
