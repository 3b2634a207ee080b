// Package apierr defines the transport-agnostic error taxonomy shared by
// the core and its HTTP/WebSocket surfaces.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code tags an error with its taxonomy kind.
type Code string

const (
	CodeBadRequest      Code = "bad_request"
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeHistoryPruned   Code = "history_pruned"
	CodePayloadTooLarge Code = "payload_too_large"
	CodeRateLimited     Code = "rate_limited"
	CodeOTPRequired     Code = "otp_required"
	CodeInternal        Code = "internal"
)

// Error is a tagged error. Details is optional structured context that is
// safe to expose to clients.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a tagged error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a tagged error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured context to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Convenience constructors for the common kinds.

func BadRequest(format string, args ...any) *Error {
	return Newf(CodeBadRequest, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return Newf(CodeUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return Newf(CodeForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Newf(CodeConflict, format, args...)
}

func HistoryPruned(format string, args ...any) *Error {
	return Newf(CodeHistoryPruned, format, args...)
}

func PayloadTooLarge(format string, args ...any) *Error {
	return Newf(CodePayloadTooLarge, format, args...)
}

func Internal(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// From extracts the tagged error from err, wrapping unknown errors as
// internal so transport layers never leak raw error strings untagged.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// HTTPStatus maps the error code to its HTTP surface per the protocol.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeOTPRequired:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeHistoryPruned:
		return http.StatusGone
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
