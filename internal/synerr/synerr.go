// Package synerr defines the error taxonomy used across the sync pipeline
// (spec §7): sentinel-wrapped kinds that callers branch on with errors.As,
// rather than sentinel values, since most of these carry context (an HTTP
// status, a UID, a duration).
package synerr

import (
	"errors"
	"fmt"
)

// AuthFailure indicates the CalDAV server returned 401/403. Cycle-level
// abort; surfaced to the tray UI as a modal.
type AuthFailure struct {
	StatusCode int
	URL        string
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("caldav auth failure: status=%d url=%s", e.StatusCode, e.URL)
}

// Cancelled wraps a context cancellation so call sites can distinguish
// service-stop from a per-cycle TriggerFullResync cancel for log wording.
type Cancelled struct {
	ServiceStop bool
	Cause       error
}

func (e *Cancelled) Error() string {
	if e.ServiceStop {
		return "cancelled: service stop"
	}
	return "cancelled: cycle superseded"
}

func (e *Cancelled) Unwrap() error { return e.Cause }

// TimedOut indicates the source fetch exceeded its deadline.
type TimedOut struct {
	Operation string
}

func (e *TimedOut) Error() string {
	return fmt.Sprintf("timed out: %s", e.Operation)
}

// HostUnavailable indicates the source automation host could not be
// attached after all retries. Cycle returns an empty desired set tagged
// model.DesiredNoData so the reconciler suppresses stale-reap.
type HostUnavailable struct {
	Reason error
}

func (e *HostUnavailable) Error() string {
	return fmt.Sprintf("source host unavailable: %v", e.Reason)
}

func (e *HostUnavailable) Unwrap() error { return e.Reason }

// TransientNetwork indicates a non-auth HTTP failure eligible for one retry.
type TransientNetwork struct {
	StatusCode int
	URL        string
	Cause      error
}

func (e *TransientNetwork) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient network error: url=%s: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("transient network error: status=%d url=%s", e.StatusCode, e.URL)
}

func (e *TransientNetwork) Unwrap() error { return e.Cause }

// ParseFailure indicates a bad PROPFIND response or bad iCal on verify.
type ParseFailure struct {
	Context string
	Cause   error
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failure (%s): %v", e.Context, e.Cause)
}

func (e *ParseFailure) Unwrap() error { return e.Cause }

// InvariantViolation indicates inconsistent timestamps or a duplicate
// signature; the event is adjusted in place where safe, dropped otherwise.
type InvariantViolation struct {
	Context string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Context)
}

// IsAuth reports whether err (or anything it wraps) is an AuthFailure.
func IsAuth(err error) bool {
	var a *AuthFailure
	return errors.As(err, &a)
}

// IsHostUnavailable reports whether err wraps HostUnavailable.
func IsHostUnavailable(err error) bool {
	var h *HostUnavailable
	return errors.As(err, &h)
}

// IsCancelled reports whether err wraps Cancelled.
func IsCancelled(err error) bool {
	var c *Cancelled
	return errors.As(err, &c)
}

// IsTimedOut reports whether err wraps TimedOut.
func IsTimedOut(err error) bool {
	var t *TimedOut
	return errors.As(err, &t)
}
