package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partswatch/partswatch/internal/catalog"
	"github.com/partswatch/partswatch/internal/store/memory"
)

func validListing() catalog.Listing {
	return catalog.Listing{
		Site:      "automoby",
		SourceURL: "https://automoby.ir/p/100",
		Name:      "لنت ترمز جلو پراید",
		Price:     450000,
		ScrapedAt: time.Now().UTC(),
	}
}

func TestProcessSavesValidListing(t *testing.T) {
	st := memory.New()
	p := New(Config{Writer: st})

	v := p.Process(context.Background(), validListing())
	require.True(t, v.Kept)
	assert.True(t, v.Created)
	assert.NotZero(t, v.ProductID)

	// Clean stage filled in the defaults.
	assert.Equal(t, catalog.DefaultCategory, v.Listing.Category)
	assert.Equal(t, catalog.DefaultCurrency, v.Listing.Currency)
	assert.Equal(t, catalog.Available, v.Listing.Availability)
	assert.NotEmpty(t, v.Listing.SKU)

	c := p.Counters()
	assert.Equal(t, 1, c.Found)
	assert.Equal(t, 1, c.Saved)
	assert.Equal(t, 0, c.Dropped)
}

func TestProcessDropsInvalidListings(t *testing.T) {
	p := New(Config{Writer: memory.New()})
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*catalog.Listing)
	}{
		{"short name", func(l *catalog.Listing) { l.Name = "ab" }},
		{"zero price", func(l *catalog.Listing) { l.Price = 0 }},
		{"negative price", func(l *catalog.Listing) { l.Price = -10 }},
		{"missing site", func(l *catalog.Listing) { l.Site = "" }},
		{"ftp url", func(l *catalog.Listing) { l.SourceURL = "ftp://automoby.ir/p/1" }},
		{"relative url", func(l *catalog.Listing) { l.SourceURL = "/p/1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := validListing()
			tt.mutate(&l)
			v := p.Process(ctx, l)
			assert.False(t, v.Kept)
			assert.Equal(t, "validate", v.Stage)
		})
	}

	c := p.Counters()
	assert.Equal(t, len(tests), c.Found)
	assert.Equal(t, len(tests), c.Dropped)
	assert.Equal(t, 0, c.Saved)
}

func TestProcessDedupsWithinSession(t *testing.T) {
	p := New(Config{Writer: memory.New()})
	ctx := context.Background()

	first := validListing()
	v := p.Process(ctx, first)
	require.True(t, v.Kept)

	// Same name with folded digits and a different URL is still a duplicate.
	second := validListing()
	second.Name = "لنت ترمز جلو پراید"
	second.SourceURL = "https://automoby.ir/p/100?ref=home"
	v = p.Process(ctx, second)
	assert.False(t, v.Kept)
	assert.Equal(t, "dedup", v.Stage)

	// Same name on a different site is not a duplicate.
	third := validListing()
	third.Site = "mryadaki"
	third.SourceURL = "https://mryadaki.com/p/5"
	v = p.Process(ctx, third)
	assert.True(t, v.Kept)

	c := p.Counters()
	assert.Equal(t, 3, c.Found)
	assert.Equal(t, 2, c.Saved)
	assert.Equal(t, 1, c.Duplicates)
	assert.Equal(t, 1, c.Dropped)
}

func TestSeparateSessionsDoNotShareDedupState(t *testing.T) {
	st := memory.New()
	ctx := context.Background()

	first := New(Config{Writer: st})
	require.True(t, first.Process(ctx, validListing()).Kept)

	second := New(Config{Writer: st})
	v := second.Process(ctx, validListing())
	assert.True(t, v.Kept, "a fresh pipeline starts with an empty seen-set")
	assert.False(t, v.Created, "the product itself is recognized by the store")
}

type failingWriter struct{ err error }

func (w failingWriter) SaveListing(context.Context, catalog.Listing) (int64, bool, error) {
	return 0, false, w.err
}

func TestPersistFailureDropsButContinues(t *testing.T) {
	p := New(Config{Writer: failingWriter{err: errors.New("connection reset")}})
	ctx := context.Background()

	v := p.Process(ctx, validListing())
	assert.False(t, v.Kept)
	assert.Equal(t, "persist", v.Stage)

	other := validListing()
	other.Name = "فیلتر هوا ال نود"
	v = p.Process(ctx, other)
	assert.False(t, v.Kept, "writer still failing")

	c := p.Counters()
	assert.Equal(t, 2, c.Found)
	assert.Equal(t, 2, c.Failed)
	assert.Equal(t, 2, c.Dropped)
	assert.Equal(t, 0, c.Saved)
}
