package service

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Kind classifies a service failure for the transport layer to map onto
// its wire taxonomy.
type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindConflict
	KindPermission
	KindDatabase
	KindInternal
)

// Error is the failure type every collaborator returns. No raw database or
// driver error leaves the service layer.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether a client retry could plausibly succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindDatabase || e.Kind == KindInternal
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field}
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Permission(message string) *Error {
	return &Error{Kind: KindPermission, Message: message}
}

func Internal(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

// Database wraps a driver error, mapping unique-constraint violations to
// Conflict so duplicate inserts surface as client errors.
func Database(op string, err error) *Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return &Error{Kind: KindConflict, Message: op + " conflicts with an existing record", cause: err}
	}
	return &Error{Kind: KindDatabase, Message: op + " failed", cause: err}
}

// AsError extracts a *Error from err, wrapping unknown errors as internal.
func AsError(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return &Error{Kind: KindInternal, Message: "internal error", cause: err}
}
