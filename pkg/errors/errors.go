package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// ErrConflict covers lost booking races and unroutable requests; callers
	// may re-query availability and retry.
	ErrConflict = New("CONFLICT", http.StatusConflict, "booking conflict")
	// ErrIntegrity marks violations of structural uniqueness (duplicate
	// votes, duplicate external event links).
	ErrIntegrity = New("INTEGRITY_ERROR", http.StatusConflict, "integrity constraint violated")
	// ErrProvider wraps failures talking to an external calendar provider.
	ErrProvider = New("PROVIDER_ERROR", http.StatusBadGateway, "provider request failed")
	// ErrIllegalTransition is returned for appointment state machine misuse.
	ErrIllegalTransition = New("ILLEGAL_TRANSITION", http.StatusConflict, "illegal status transition")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Is reports whether err carries the sentinel's code.
func Is(err error, sentinel *Error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return sentinel != nil && e.Code == sentinel.Code
}
