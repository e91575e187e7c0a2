package policy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/partswatch/partswatch/internal/catalog"
)

func TestRetryableClassification(t *testing.T) {
	for _, code := range []int{500, 502, 503, 504, 408, 429} {
		assert.True(t, Retryable(code, nil), "status %d must be retryable", code)
	}
	for _, code := range []int{400, 401, 403, 404, 410} {
		assert.False(t, Retryable(code, nil), "status %d must be terminal", code)
	}

	var netErr net.Error = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	assert.True(t, Retryable(0, netErr))
	assert.False(t, Retryable(0, context.Canceled))
	assert.False(t, Retryable(http.StatusOK, nil))
}

func TestRetryTrackerBudget(t *testing.T) {
	tr := NewRetryTracker(3)
	url := "https://automoby.ir/p/1"

	assert.True(t, tr.Allow(url))
	assert.True(t, tr.Allow(url))
	assert.False(t, tr.Allow(url), "third attempt exhausts a budget of 3")
	assert.Equal(t, 3, tr.Attempts(url))

	assert.True(t, tr.Allow("https://automoby.ir/p/2"), "budgets are per URL")
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker(3)

	u := b.RecordFailure("automoby")
	assert.True(t, u.Active)
	u = b.RecordFailure("automoby")
	assert.True(t, u.Active)
	assert.False(t, b.Tripped("automoby"))

	u = b.RecordFailure("automoby")
	assert.False(t, u.Active, "third failure crosses the threshold")
	assert.Equal(t, 3, u.ConsecutiveFailures)
	assert.True(t, b.Tripped("automoby"))
}

func TestBreakerSuccessResets(t *testing.T) {
	b := NewBreaker(3)
	b.RecordFailure("automoby")
	b.RecordFailure("automoby")

	u := b.RecordSuccess("automoby")
	assert.Equal(t, 0, u.ConsecutiveFailures)
	assert.True(t, u.Active)
	assert.False(t, u.LastSuccess.IsZero())

	u = b.RecordFailure("automoby")
	assert.Equal(t, 1, u.ConsecutiveFailures)
}

func TestBreakerSeedFromProfile(t *testing.T) {
	b := NewBreaker(3)
	b.Seed(catalog.SiteProfile{Name: "automoby", ConsecutiveFailures: 2})

	u := b.RecordFailure("automoby")
	assert.False(t, u.Active, "seeded counter plus one failure trips the breaker")
}

func TestRateControllerDelay(t *testing.T) {
	r := NewRateController(RateConfig{
		BaseDelay:      100 * time.Millisecond,
		Jitter:         50 * time.Millisecond,
		TargetInflight: 2,
	})

	for i := 0; i < 20; i++ {
		d := r.Delay("automoby", 0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 150*time.Millisecond)
	}

	// Over-target in-flight load stretches the delay.
	r.Begin("automoby")
	r.Begin("automoby")
	r.Begin("automoby")
	d := r.Delay("automoby", 0)
	assert.GreaterOrEqual(t, d, 200*time.Millisecond)

	r.End("automoby")
	d = r.Delay("automoby", 0)
	assert.Less(t, d, 150*time.Millisecond)
}

func TestThrottleStretchesOverTarget(t *testing.T) {
	r := NewRateController(RateConfig{
		BaseDelay:      100 * time.Millisecond,
		TargetInflight: 2,
	})

	assert.Zero(t, r.Throttle("automoby", 0), "idle site pays no stretch")
	r.Begin("automoby")
	r.Begin("automoby")
	assert.Zero(t, r.Throttle("automoby", 0), "at target pays no stretch")

	r.Begin("automoby")
	assert.Equal(t, 100*time.Millisecond, r.Throttle("automoby", 0))
	r.Begin("automoby")
	assert.Equal(t, 300*time.Millisecond, r.Throttle("automoby", 0))

	r.End("automoby")
	r.End("automoby")
	assert.Zero(t, r.Throttle("automoby", 0), "stretch drains with the in-flight load")
}

func TestRateControllerWaitPacesOrigin(t *testing.T) {
	r := NewRateController(RateConfig{RPSPerOrigin: 10})
	ctx := context.Background()

	assert.NoError(t, r.Wait(ctx, "https://automoby.ir/a"))

	start := time.Now()
	assert.NoError(t, r.Wait(ctx, "https://automoby.ir/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// A different origin is not paced by the first one.
	start = time.Now()
	assert.NoError(t, r.Wait(ctx, "https://mryadaki.com/a"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
