package remote

import (
	"errors"
	"fmt"
)

// The send path dispatches on these error kinds: transient failures go to
// the outbox for backoff retry, everything else is terminal for the attempt.

// TransientError covers network failures, timeouts and 5xx responses.
// Safe to retry with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// AuthError covers 401/403 responses. Surfaced to the user, never silently
// retried.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed (status %d)", e.Status) }

// ValidationError covers requests the server (or client-side checks) reject
// as malformed. Never enqueued, never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Reason }

// RejectedError covers deterministic server rejections such as a duplicate
// create. Dropped from the outbox and logged, not retried.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by server (status %d): %s", e.Status, e.Reason)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRejected reports whether err is a deterministic server rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
