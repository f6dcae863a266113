package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

// Is matches any AppError carrying the same code, so sentinel values
// can be compared with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
)

// Pipeline error codes
const (
	ErrInfrastructure ErrorCode = iota + 2000
	ErrDecode
	ErrUnknownEventType
	ErrDelivery
)

// Sentinels for errors.Is checks.
var (
	Infrastructure   = &AppError{Code: ErrInfrastructure}
	Decode           = &AppError{Code: ErrDecode}
	UnknownEventType = &AppError{Code: ErrUnknownEventType}
	Delivery         = &AppError{Code: ErrDelivery}
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// NewInfrastructure marks a failure that aborts a whole dispatch cycle.
func NewInfrastructure(op string, err error) *AppError {
	return &AppError{
		Code:    ErrInfrastructure,
		Message: op,
		Err:     err,
	}
}

func NewDecode(message string, err error) *AppError {
	return &AppError{
		Code:    ErrDecode,
		Message: message,
		Err:     err,
	}
}

func NewUnknownEventType(eventType string) *AppError {
	return &AppError{
		Code:    ErrUnknownEventType,
		Message: fmt.Sprintf("unknown event type %q", eventType),
	}
}

func NewDelivery(target string, err error) *AppError {
	return &AppError{
		Code:    ErrDelivery,
		Message: fmt.Sprintf("deliver to %s", target),
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in the chain, or 0.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}
