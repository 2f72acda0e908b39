package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code. Codes are part of the API
// contract; clients branch on them to decide whether an operation is
// retryable.
type Code string

const (
	CodeValidation          Code = "VALIDATION"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeSlotTaken           Code = "SLOT_TAKEN"
	CodeMethodConflict      Code = "METHOD_CONFLICT"
	CodeLocationRequired    Code = "LOCATION_REQUIRED"
	CodePaymentNotConfirmed Code = "PAYMENT_NOT_CONFIRMED"
	CodeWrongCode           Code = "WRONG_CODE"
	CodeCodeExhausted       Code = "CODE_EXHAUSTED"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// AppError represents an application error
type AppError struct {
	Code    Code                   `json:"code"`
	Message string                 `json:"message"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps an error code to its response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeSlotTaken, CodeMethodConflict,
		CodeLocationRequired, CodePaymentNotConfirmed, CodeWrongCode:
		return http.StatusConflict
	case CodeCodeExhausted:
		return http.StatusGone
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry after adjusting intent.
// Conflict-class errors are expected and never logged as faults.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case CodeInvalidTransition, CodeSlotTaken, CodeMethodConflict,
		CodeLocationRequired, CodePaymentNotConfirmed, CodeWrongCode,
		CodeUpstreamUnavailable:
		return true
	}
	return false
}

// AsAppError unwraps err into an *AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	ae, ok := AsAppError(err)
	return ok && ae.Code == code
}

// Error constructors
func NewValidation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewInvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Meta:    map[string]interface{}{"from": from, "to": to},
	}
}

func NewSlotTaken() *AppError {
	return &AppError{
		Code:    CodeSlotTaken,
		Message: "the requested slot is no longer available",
	}
}

func NewMethodConflict(message string) *AppError {
	return &AppError{Code: CodeMethodConflict, Message: message}
}

func NewLocationRequired() *AppError {
	return &AppError{
		Code:    CodeLocationRequired,
		Message: "a service location must be set before confirmation",
	}
}

func NewPaymentNotConfirmed(message string) *AppError {
	return &AppError{Code: CodePaymentNotConfirmed, Message: message}
}

func NewWrongCode(remaining int) *AppError {
	return &AppError{
		Code:    CodeWrongCode,
		Message: "incorrect verification code",
		Meta:    map[string]interface{}{"remaining_attempts": remaining},
	}
}

func NewCodeExhausted() *AppError {
	return &AppError{
		Code:    CodeCodeExhausted,
		Message: "too many incorrect codes, contact support",
	}
}

func NewUpstreamUnavailable(upstream string, err error) *AppError {
	return &AppError{
		Code:    CodeUpstreamUnavailable,
		Message: fmt.Sprintf("%s is unavailable", upstream),
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "internal server error",
		Err:     err,
	}
}
