package common

import (
	"errors"
	"net/http"
)

// AppError is an error the HTTP layer can render as-is: a stable machine code, a client-safe
// message and the status to answer with. Err keeps the cause for logs and errors.Is.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Status is HTTPStatus, defaulting to 500.
func (e *AppError) Status() int {
	if e == nil || e.HTTPStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatus
}

func newError(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	e := newError(status, code, message)
	e.Err = err
	return e
}

func BadRequest(message string, details any) *AppError {
	e := newError(http.StatusBadRequest, "BAD_REQUEST", message)
	e.Details = details
	return e
}

func NotFound(message string) *AppError {
	return newError(http.StatusNotFound, "NOT_FOUND", message)
}

// Unprocessable is a 422 for input that parsed but cannot be accepted.
func Unprocessable(code, message string, err error) *AppError {
	return NewAppError(code, message, http.StatusUnprocessableEntity, err)
}

// Internal hides err behind a generic 500 message.
func Internal(err error) *AppError {
	return NewAppError("INTERNAL", "internal server error", http.StatusInternalServerError, err)
}

func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError returns the AppError in err's chain, or Internal(err).
func AsAppError(err error) *AppError {
	var target *AppError
	if errors.As(err, &target) {
		return target
	}
	return Internal(err)
}
