// Package apperr defines the closed error taxonomy of the workflow core.
// Every recoverable failure surfaced by a service is one of five kinds, so
// handlers and callers can branch on kind without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind int

const (
	// Validation: malformed or missing input (e.g. a line item missing its
	// type-specific id, a cash amount that does not match the total due).
	Validation Kind = iota
	// Precondition: the action is well-formed but illegal in the current
	// state (e.g. checking in an unpaid appointment as CHECKED_IN).
	Precondition
	// Conflict: a concurrent writer won the compare-and-swap.
	Conflict
	// Gateway: the payment provider is unreachable or returned an
	// undocumented code.
	Gateway
	// Correlation: an inbound gateway callback cannot be matched to an
	// appointment. Fatal for that callback; must be logged for manual
	// reconciliation.
	Correlation
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Precondition:
		return "precondition"
	case Conflict:
		return "conflict"
	case Gateway:
		return "gateway"
	case Correlation:
		return "correlation"
	}
	return "unknown"
}

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err (or anything it wraps) is an Error of kind k.
func IsKind(err error, k Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == k
	}
	return false
}

// HTTPStatus maps an error to the HTTP status the handlers respond with.
// Unclassified errors map to 500.
func HTTPStatus(err error) int {
	var ae *Error
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.Kind {
	case Validation:
		return http.StatusBadRequest
	case Precondition:
		return http.StatusUnprocessableEntity
	case Conflict:
		return http.StatusConflict
	case Gateway:
		return http.StatusBadGateway
	case Correlation:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
