// Package domainerrors provides coded errors shared by services and transports.
//
// Services return these errors so transport layers can map them to status codes
// without inspecting messages. Stores should return sentinel errors instead
// (see pkg/platform/sentinel) and let services translate them.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies an error for callers and transports.
type Code string

const (
	// CodeValidation marks malformed input rejected before any persistence.
	CodeValidation Code = "validation_error"
	// CodeBadRequest marks requests that cannot be decoded.
	CodeBadRequest Code = "bad_request"
	// CodeConflict marks illegal state transitions and version mismatches.
	CodeConflict Code = "conflict"
	// CodeForbidden marks actors not permitted to act on a resource.
	CodeForbidden Code = "forbidden"
	// CodeUnauthorized marks missing or invalid caller identity.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound marks missing resources.
	CodeNotFound Code = "not_found"
	// CodeUnavailable marks transient infrastructure failures.
	CodeUnavailable Code = "unavailable"
	// CodeTimeout marks operations aborted by a deadline.
	CodeTimeout Code = "timeout"
	// CodeInternal marks unexpected failures. Messages are never shown to callers.
	CodeInternal Code = "internal_error"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if errors.As(err, &de) {
			if de.Code == code {
				return true
			}
			err = de.Err
			continue
		}
		return false
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Is reports whether err is a domain error, optionally returning it.
func Is(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ToHTTPStatus maps a code to an HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeForbidden:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
