package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes different error types
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeModeration ErrorType = "moderation"

	// Cache storage failures. These are logged and swallowed by the cache;
	// the type exists so storage backends can report them uniformly.
	ErrorTypeStorage ErrorType = "storage"

	// Remote failures
	ErrorTypeFetch     ErrorType = "fetch"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeServer    ErrorType = "server"

	ErrorTypeInternal ErrorType = "internal"
)

// Error is a categorized error with an optional hint for the user.
type Error struct {
	Type       ErrorType
	Message    string
	Cause      error
	Suggestion string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a helpful suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a categorized error.
func New(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

func NewValidation(message string) *Error {
	return New(ErrorTypeValidation, message, nil)
}

func NewAuth(message string, cause error) *Error {
	return New(ErrorTypeAuth, message, cause).WithSuggestion("Run 'betterme auth login' to sign in again")
}

func NewNotFound(resource string) *Error {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

func NewConflict(message string) *Error {
	return New(ErrorTypeConflict, message, nil)
}

// NewModeration reports content rejected by the moderation check.
func NewModeration(reason string) *Error {
	if reason == "" {
		reason = "content violates community guidelines"
	}
	return New(ErrorTypeModeration, reason, nil)
}

func NewStorage(op string, cause error) *Error {
	return New(ErrorTypeStorage, fmt.Sprintf("cache storage %s failed", op), cause)
}

// NewFetch wraps a failed fetch for a cache key.
func NewFetch(key string, cause error) *Error {
	return New(ErrorTypeFetch, fmt.Sprintf("fetch %q failed", key), cause)
}

func NewNetwork(message string, cause error) *Error {
	return New(ErrorTypeNetwork, message, cause).WithSuggestion("Check your internet connection and try again")
}

func NewInternal(message string, cause error) *Error {
	return New(ErrorTypeInternal, message, cause)
}

// TypeOf returns the type of the first *Error in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
}

// Is reports whether any *Error in err's chain has type t.
func Is(err error, t ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Cause
	}
	return false
}

// Suggestion returns the first suggestion found in err's chain.
func Suggestion(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Suggestion != "" {
			return e.Suggestion
		}
		err = e.Cause
	}
	return ""
}

// HTTPStatus maps an error to the status the companion API responds with.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeValidation, ErrorTypeModeration:
		return http.StatusUnprocessableEntity
	case ErrorTypeAuth:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeFetch, ErrorTypeNetwork, ErrorTypeServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
