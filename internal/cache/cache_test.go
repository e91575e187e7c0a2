package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partswatch/partswatch/internal/catalog"
)

func newMemoryCache(t *testing.T) (*Cache, *memoryBackend) {
	t.Helper()
	backend, err := newMemoryBackend(64)
	require.NoError(t, err)
	return NewWithBackend(backend, time.Minute), backend
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newMemoryCache(t)
	ctx := context.Background()

	in := catalog.PriceSummary{ProductID: 7, Avg: 46500, Count: 4}
	require.NoError(t, c.Set(ctx, "summary:7", in, 0))

	var out catalog.PriceSummary
	require.NoError(t, c.Get(ctx, "summary:7", &out))
	assert.Equal(t, in.ProductID, out.ProductID)
	assert.Equal(t, in.Avg, out.Avg)
	assert.Equal(t, in.Count, out.Count)
}

func TestGetMiss(t *testing.T) {
	c, _ := newMemoryCache(t)
	var out string
	assert.ErrorIs(t, c.Get(context.Background(), "absent", &out), ErrMiss)
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	c, backend := newMemoryCache(t)
	ctx := context.Background()

	base := time.Now()
	backend.now = func() time.Time { return base }
	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	var out string
	require.NoError(t, c.Get(ctx, "k", &out))

	backend.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)
}

func TestGetOrComputeComputesOncePerWindow(t *testing.T) {
	c, _ := newMemoryCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) (any, error) {
		calls++
		return catalog.TrendReport{ProductID: 1, Direction: catalog.TrendIncreasing, Percentage: 5}, nil
	}

	var first, second catalog.TrendReport
	require.NoError(t, c.GetOrCompute(ctx, "trend:1", time.Minute, &first, compute))
	require.NoError(t, c.GetOrCompute(ctx, "trend:1", time.Minute, &second, compute))

	assert.Equal(t, 1, calls, "second read must hit the cache")
	assert.Equal(t, first, second)
	assert.Equal(t, catalog.TrendIncreasing, second.Direction)
}

func TestGetOrComputeNilIsNotCached(t *testing.T) {
	c, _ := newMemoryCache(t)
	ctx := context.Background()

	calls := 0
	var out *catalog.TrendReport
	compute := func(context.Context) (any, error) {
		calls++
		return nil, nil
	}

	assert.ErrorIs(t, c.GetOrCompute(ctx, "empty", time.Minute, &out, compute), ErrMiss)
	assert.ErrorIs(t, c.GetOrCompute(ctx, "empty", time.Minute, &out, compute), ErrMiss)
	assert.Equal(t, 2, calls, "nil results are recomputed every time")
}

func TestClearPattern(t *testing.T) {
	c, _ := newMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "trend:1", 1, 0))
	require.NoError(t, c.Set(ctx, "trend:2", 2, 0))
	require.NoError(t, c.Set(ctx, "summary:1", 3, 0))

	require.NoError(t, c.Clear(ctx, "trend:*"))

	var out int
	assert.ErrorIs(t, c.Get(ctx, "trend:1", &out), ErrMiss)
	assert.ErrorIs(t, c.Get(ctx, "trend:2", &out), ErrMiss)
	assert.NoError(t, c.Get(ctx, "summary:1", &out), "other prefixes survive")
}

func TestStats(t *testing.T) {
	c, _ := newMemoryCache(t)
	ctx := context.Background()

	var out int
	_ = c.Get(ctx, "k", &out) // miss
	require.NoError(t, c.Set(ctx, "k", 1, 0))
	require.NoError(t, c.Get(ctx, "k", &out)) // hit

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Sets)
	assert.InDelta(t, 0.5, s.Rate, 0.001)
}

func TestGobFallbackForNonJSONValues(t *testing.T) {
	// Complex numbers cannot be JSON-encoded.
	in := complex(2.5, -1.5)
	raw, err := encodeValue(in)
	require.NoError(t, err)
	assert.Equal(t, byte(codecGob), raw[0])

	var out complex128
	require.NoError(t, decodeValue(raw, &out))
	assert.Equal(t, in, out)
}
