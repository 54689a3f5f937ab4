// Package fault defines the error taxonomy shared by the core services.
// Every operation classifies its failures so callers can decide between
// rejecting, re-polling, and retrying without parsing messages.
package fault

import (
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
)

// Kind classifies a domain error.
type Kind string

const (
	// KindInvalidInput rejects malformed requests. No state change.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound rejects requests for absent or foreign-owned records.
	KindNotFound Kind = "not_found"
	// KindConflict rejects operations illegal in the current case state,
	// duplicate reviews, and attempts to reopen a closed case.
	KindConflict Kind = "conflict"
	// KindExternalCapability marks diagnosis/generation capability failures.
	KindExternalCapability Kind = "external_capability"
	// KindConstraintViolation marks uniqueness collisions. Treated as
	// idempotent success by every caller; surfaced only so the caller can
	// re-read the winning row.
	KindConstraintViolation Kind = "constraint_violation"
)

// Error is a classified domain error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a fresh message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: eris.New(msg)}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: eris.Errorf(format, args...)}
}

// Wrap classifies an existing error, preserving its chain.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: eris.Wrap(err, msg)}
}

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

func is(err error, kind Kind) bool { return KindOf(err) == kind }

// IsInvalidInput reports whether err is an InvalidInput fault.
func IsInvalidInput(err error) bool { return is(err, KindInvalidInput) }

// IsNotFound reports whether err is a NotFound fault.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsConflict reports whether err is a Conflict fault.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsExternalCapability reports whether err is an external capability failure.
func IsExternalCapability(err error) bool { return is(err, KindExternalCapability) }

// IsConstraintViolation reports whether err is a uniqueness collision.
func IsConstraintViolation(err error) bool { return is(err, KindConstraintViolation) }

// HTTPStatus maps a fault kind to the HTTP status the server surface uses.
// Constraint violations never reach the transport layer; the mapping exists
// for completeness.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternalCapability:
		return http.StatusBadGateway
	case KindConstraintViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
