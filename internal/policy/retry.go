package policy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/partswatch/partswatch/internal/catalog"
)

// DefaultRetryBudget is the number of attempts allowed per request.
const DefaultRetryBudget = 3

// retryableStatus holds the HTTP codes treated as transient.
var retryableStatus = map[int]struct{}{
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
	http.StatusRequestTimeout:      {},
	http.StatusTooManyRequests:     {},
}

// Retryable classifies a failed request. Network-level failures and the
// transient HTTP codes are retryable; other 4xx and malformed responses are
// terminal for that request. Context cancellation is never retried.
func Retryable(statusCode int, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		if catalog.IsTransient(err) {
			return true
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
	}
	_, ok := retryableStatus[statusCode]
	return ok
}

// RetryTracker enforces a per-request retry budget across concurrent
// fetch callbacks.
type RetryTracker struct {
	mu       sync.Mutex
	attempts map[string]int
	budget   int
}

// NewRetryTracker constructs a tracker with the given budget; zero or
// negative budgets fall back to the default.
func NewRetryTracker(budget int) *RetryTracker {
	if budget <= 0 {
		budget = DefaultRetryBudget
	}
	return &RetryTracker{
		attempts: make(map[string]int),
		budget:   budget,
	}
}

// Allow records one more attempt for the URL and reports whether the retry
// budget still admits it.
func (t *RetryTracker) Allow(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[url]++
	return t.attempts[url] < t.budget
}

// Attempts returns the attempt count recorded for a URL.
func (t *RetryTracker) Attempts(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[url]
}
