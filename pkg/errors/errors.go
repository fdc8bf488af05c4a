// Package errors carries typed error codes from the services to the HTTP
// envelope. Each code decides its status, retry hint, and whether details
// reach the client.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodeOverRelease         Code = "OVER_RELEASE"
	CodeInvalidTransition   Code = "INVALID_STATUS_TRANSITION"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeRefundExceedsAmount Code = "REFUND_EXCEEDS_AMOUNT"
	CodeOrderNotFound       Code = "ORDER_NOT_FOUND"
	CodeReservationNotFound Code = "RESERVATION_NOT_FOUND"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	retryable   = true
	showDetails = true
	hideDetails = false
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, false, "validation failed", showDetails},
	CodeUnauthorized:  {http.StatusUnauthorized, false, "authentication required", hideDetails},
	CodeForbidden:     {http.StatusForbidden, false, "access denied", hideDetails},
	CodeNotFound:      {http.StatusNotFound, false, "resource not found", hideDetails},
	CodeConflict:      {http.StatusConflict, false, "conflict detected", hideDetails},
	CodeStateConflict: {http.StatusUnprocessableEntity, false, "state transition disallowed", showDetails},
	CodeIdempotency:   {http.StatusConflict, false, "idempotency key reused", showDetails},
	CodeInternal:      {http.StatusInternalServerError, retryable, "internal server error", hideDetails},
	CodeDependency:    {http.StatusServiceUnavailable, retryable, "dependency unavailable", showDetails},

	CodeInsufficientStock:   {http.StatusBadRequest, false, "insufficient stock", showDetails},
	CodeOverRelease:         {http.StatusConflict, false, "release exceeds reserved stock", showDetails},
	CodeInvalidTransition:   {http.StatusBadRequest, false, "invalid status transition", showDetails},
	CodeInvalidSignature:    {http.StatusBadRequest, false, "payment signature invalid", hideDetails},
	CodeRefundExceedsAmount: {http.StatusBadRequest, false, "refund exceeds refundable amount", showDetails},
	CodeOrderNotFound:       {http.StatusNotFound, false, "order not found", hideDetails},
	CodeReservationNotFound: {http.StatusNotFound, false, "reservation not found", hideDetails},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error every service returns.
// A nil *Error reads as an internal error with no message.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches code and message to err, keeping err reachable via Unwrap.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether the outermost *Error in err's chain has code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
