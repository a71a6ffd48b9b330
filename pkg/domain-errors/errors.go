// Package domainerrors defines the error taxonomy shared by all services.
//
// Stores return infrastructure sentinels (pkg/platform/sentinel); services
// translate them into DomainError values carrying a stable Code so transport
// layers can map each failure kind to a distinct HTTP status without string
// matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error. Codes are part of the API contract:
// callers distinguish "your input was bad" from "the business rule was
// violated" from "someone else consumed the remaining quantity first"
// by code alone.
type Code string

const (
	CodeValidation            Code = "validation_error"
	CodeBadRequest            Code = "bad_request"
	CodeNotFound              Code = "not_found"
	CodeConflict              Code = "conflict"
	CodeInsufficientRemaining Code = "insufficient_remaining"
	CodeInvalidState          Code = "invalid_state"
	CodeInvariantViolation    Code = "invariant_violation"
	CodeUnauthorized          Code = "unauthorized"
	CodeForbidden             Code = "forbidden"
	CodeTimeout               Code = "timeout"
	CodeInternal              Code = "internal_error"
)

// DomainError is the canonical error type crossing service boundaries.
type DomainError struct {
	Code    Code
	Message string
	Err     error
}

func (e DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e DomainError) Unwrap() error { return e.Err }

// New constructs a DomainError without an underlying cause.
func New(code Code, message string) error {
	return DomainError{Code: code, Message: message}
}

// Newf constructs a DomainError with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/As chains.
func Wrap(err error, code Code, message string) error {
	return DomainError{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// unclassified errors.
func CodeOf(err error) Code {
	var de DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to its HTTP status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeInvariantViolation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeInsufficientRemaining, CodeInvalidState:
		return http.StatusUnprocessableEntity
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
