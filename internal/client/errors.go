package client

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against any error returned by this package.
var (
	ErrInvalidZipCode = errors.New("invalid ZIP code")
	ErrNotFound       = errors.New("weather data not found")
	ErrAuth           = errors.New("authentication failed")
	ErrRateLimited    = errors.New("rate limited")
	ErrConnectivity   = errors.New("no response from weather provider")
	ErrUpstream       = errors.New("upstream failure")
)

// User-facing messages.
const (
	MsgInvalidZipCode = "Invalid ZIP code format"
	MsgZipNotFound    = "ZIP code not found"
	MsgNoCurrentData  = "No data found for this ZIP code"
	MsgNoForecastData = "No forecast data found"
	MsgAuth           = "API authentication error"
	MsgRateLimited    = "Too many requests. Try again later"
	MsgConnectivity   = "Connection error. Check your internet connection"
	MsgUnavailable    = "Unable to fetch weather data"
)

// Error is the single error value surfaced for every weather fetch failure.
// Error() is the human-readable message; Kind and Cause are reachable through errors.Is/As.
type Error struct {
	Kind    error
	Message string
	// Status is the provider HTTP status, or 0 when no response was received.
	Status int
	Cause  error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Detail includes the cause, for logs.
func (e *Error) Detail() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("%s (status %d): %v", e.Message, e.Status, e.Cause)
}

func newError(kind error, message string, status int, cause error) *Error {
	return &Error{Kind: kind, Message: message, Status: status, Cause: cause}
}

// InvalidZipCode is returned before any network I/O when the code is malformed.
func InvalidZipCode(zipCode string) *Error {
	return newError(ErrInvalidZipCode, MsgInvalidZipCode, 0, fmt.Errorf("zip code %q", zipCode))
}

// Message returns the user-facing message for err. Errors not produced by
// this package map to the generic message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return MsgUnavailable
}

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

const (
	ErrorCategoryValidation   ErrorCategory = "validation"
	ErrorCategoryNotFound     ErrorCategory = "not_found"
	ErrorCategoryAuth         ErrorCategory = "auth"
	ErrorCategoryRateLimited  ErrorCategory = "rate_limited"
	ErrorCategoryConnectivity ErrorCategory = "connectivity"
	ErrorCategoryUpstream     ErrorCategory = "upstream"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidZipCode):
		return ErrorCategoryValidation
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrAuth):
		return ErrorCategoryAuth
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrConnectivity):
		return ErrorCategoryConnectivity
	case errors.Is(err, ErrUpstream):
		return ErrorCategoryUpstream
	default:
		return ErrorCategoryUnknown
	}
}
