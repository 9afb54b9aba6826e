package gcal

import (
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// SyncError classifies an external calendar failure for the reconciler:
// transient failures (timeouts, 5xx, rate limits) are retried with backoff,
// permanent ones (malformed payloads, missing events) fail immediately.
type SyncError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *SyncError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("calendar %s: %s: %v", e.Op, kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable calendar failure.
func IsTransient(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// classify wraps an API error with its retry class. Network-level failures
// carry no status code and are treated as transient.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &SyncError{Op: op, Transient: true, Err: err}
	}

	switch apiErr.Code {
	case 429, 500, 502, 503, 504:
		return &SyncError{Op: op, Transient: true, Err: err}
	case 403:
		for _, e := range apiErr.Errors {
			if e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded" {
				return &SyncError{Op: op, Transient: true, Err: err}
			}
		}
	}
	return &SyncError{Op: op, Transient: false, Err: err}
}
