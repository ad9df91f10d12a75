package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTask          = errors.New("task route is empty")
	ErrMissingTaskData    = errors.New("task payload missing session or run point")
	ErrEndTimeInFuture    = errors.New("custom end time is later than current time")
	ErrEndBeforeSemester  = errors.New("custom end time is before semester start")
	ErrBadCustomEndTime   = errors.New("custom end time is unparsable")
	ErrInsufficientCredit = errors.New("insufficient backfill credits")
	ErrStoreUnavailable   = errors.New("task store unavailable")
)

// UpstreamError reports a failed or malformed response from the upstream API.
// Upstream failures are the only transient class and are retried until the
// attempt budget is exhausted.
type UpstreamError struct {
	Path   string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.Path, e.Status, e.Body)
}

// Retryable reports whether a failed attempt should be re-queued. Payload
// validation, temporal ordering and credit shortage cannot heal on their own,
// so retrying them would only burn attempts.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrEmptyTask),
		errors.Is(err, ErrMissingTaskData),
		errors.Is(err, ErrEndTimeInFuture),
		errors.Is(err, ErrEndBeforeSemester),
		errors.Is(err, ErrBadCustomEndTime),
		errors.Is(err, ErrInsufficientCredit):
		return false
	}
	return true
}
