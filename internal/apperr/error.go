// Package apperr provides the typed error kinds used to translate a
// failure from the layer where it originated (command result, DB error,
// PTY state) into the HTTP-facing vocabulary: Validation, NotFound,
// Conflict, Precondition, Upstream, Capacity, Internal.
//
// Every error is assigned a correlation id the first time it is
// wrapped, so an operator-visible message can be matched to the full
// cause in the logs.
package apperr

import (
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	Precondition
	Upstream
	Capacity
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Precondition:
		return "precondition"
	case Upstream:
		return "upstream"
	case Capacity:
		return "capacity"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code the web layer should use for this
// kind of error.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return 400
	case NotFound:
		return 404
	case Conflict:
		return 409
	case Precondition:
		return 400
	case Upstream:
		return 502
	case Capacity:
		return 500
	default:
		return 500
	}
}

// Error is a kinded, correlated application error.
type Error struct {
	Kind    Kind
	Message string
	UUID    string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a kinded error with a fresh correlation id.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, UUID: newID()}
}

// Wrap attaches a kind and human message to an underlying cause,
// preserving an existing *Error's kind/id if the cause already carries
// one.
func Wrap(cause error, kind Kind, message string) *Error {
	var existing *Error
	if errors.As(cause, &existing) {
		return existing
	}

	return &Error{Kind: kind, Message: message, UUID: newID(), cause: cause}
}

func newID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

// As extracts a *Error from err, matching the convention used throughout
// the task engine and web layer to decide the response shape.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Details renders the {error, details} payload body HTTP handlers
// return.
func (e *Error) Details() map[string]interface{} {
	return map[string]interface{}{
		"error":   e.Message,
		"kind":    e.Kind.String(),
		"id":      e.UUID,
		"details": errors.Cause(e).Error(),
	}
}
