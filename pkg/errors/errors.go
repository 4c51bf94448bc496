package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeNotAParticipant    = "NOT_A_PARTICIPANT"
	CodeNotFound           = "NOT_FOUND"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeBadRequest         = "BAD_REQUEST"
	CodeTransient          = "TRANSIENT_DELIVERY_FAILURE"
	CodeAlreadyRead        = "CONFLICT_ALREADY_READ"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeInternal           = "INTERNAL_ERROR"
	CodeForbidden          = "FORBIDDEN"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Unauthenticated is fatal for the caller: the credential is missing, invalid
// or expired.
func Unauthenticated(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthenticated,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func NotAParticipant(conversationID string) *AppError {
	return &AppError{
		Code:    CodeNotAParticipant,
		Message: fmt.Sprintf("caller is not a participant of conversation %s", conversationID),
		Status:  http.StatusForbidden,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func FailedPrecondition(message string, err error) *AppError {
	return &AppError{
		Code:    CodeFailedPrecondition,
		Message: message,
		Status:  http.StatusPreconditionFailed,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// Transient marks a store or network hiccup. The client keeps the message
// visible as failed and the user may resend it.
func Transient(message string, err error) *AppError {
	return &AppError{
		Code:    CodeTransient,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func AlreadyRead() *AppError {
	return &AppError{
		Code:    CodeAlreadyRead,
		Message: "read marker is already at or past this position",
		Status:  http.StatusConflict,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:    CodeTooManyRequests,
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the AppError code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}
