package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrDuplicate       = errors.New("duplicate")
	ErrUnavailable     = errors.New("unavailable")
	ErrSchemaInvalid   = errors.New("schema invalid")
	ErrStaleWrite      = errors.New("stale write")
	ErrCreditRejected  = errors.New("credit rejected")
	ErrSafeMode        = errors.New("safe mode engaged")
	ErrInternal        = errors.New("internal error")
)

// IsTransient reports whether an error should be retried by the queue
// substrate. Anything wrapping ErrUnavailable is transient; sentinel
// argument/state errors are not.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// RateLimitedError reports an exhausted provider budget. The queue substrate
// reschedules the job after RetryAfter without charging an attempt; the call
// never reached the provider.
type RateLimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Key, e.RetryAfter)
}
