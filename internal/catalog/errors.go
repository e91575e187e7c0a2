package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy. Per-item and per-request
// errors wrap one of these so every dropped item is attributable to exactly
// one kind.
var (
	// ErrValidation marks a malformed listing: drop, count, continue.
	ErrValidation = errors.New("listing validation failed")

	// ErrPersistence marks a store write failure: drop item, continue session.
	ErrPersistence = errors.New("persistence failed")

	// ErrConfiguration marks a missing or invalid site profile: skip the site.
	ErrConfiguration = errors.New("site configuration invalid")

	// ErrNoObservations is returned by aggregation when a window is empty.
	// Callers treat it as an empty result set, never as a failure.
	ErrNoObservations = errors.New("no observations in window")
)

// TransientFetchError marks a retryable network or server failure.
type TransientFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient fetch failure for %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transient fetch failure for %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientFetchError.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}
