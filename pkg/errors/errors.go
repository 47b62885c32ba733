package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	CodeBlocked               = "BLOCKED"
	CodeNotFound              = "NOT_FOUND"
	CodeForbidden             = "FORBIDDEN"
	CodeDeletionWindowExpired = "DELETION_WINDOW_EXPIRED"
	CodeInvalidPrice          = "INVALID_PRICE"
	CodeRemoteUnavailable     = "REMOTE_UNAVAILABLE"
	CodePartialFailure        = "PARTIAL_FAILURE"
	CodeBadRequest            = "BAD_REQUEST"
	CodeConflict              = "CONFLICT"
	CodeTooManyRequests       = "TOO_MANY_REQUESTS"
	CodeInternal              = "INTERNAL_ERROR"
	CodeUnauthorized          = "UNAUTHORIZED"
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

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
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

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
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

func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
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

// Blocked is returned when either participant has blocked the other.
func Blocked(senderID, receiverID string) *AppError {
	return &AppError{
		Code:    CodeBlocked,
		Message: fmt.Sprintf("messaging between %s and %s is blocked", senderID, receiverID),
		Status:  http.StatusForbidden,
	}
}

func DeletionWindowExpired(message string) *AppError {
	return &AppError{
		Code:    CodeDeletionWindowExpired,
		Message: message,
		Status:  http.StatusGone,
	}
}

func InvalidPrice(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidPrice,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func RemoteUnavailable(message string, err error) *AppError {
	return &AppError{
		Code:    CodeRemoteUnavailable,
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func PartialFailure(message string, err error) *AppError {
	return &AppError{
		Code:    CodePartialFailure,
		Message: message,
		Status:  http.StatusMultiStatus,
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

// IsTerminal reports whether err is a validation outcome that must never be
// retried automatically.
func IsTerminal(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeBlocked, CodeForbidden, CodeDeletionWindowExpired, CodeInvalidPrice, CodeBadRequest:
		return true
	}
	return false
}

// FromRemote translates a store or transport error into the application
// taxonomy. AppErrors pass through untouched.
func FromRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RemoteUnavailable(op+" timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return RemoteUnavailable(op+" canceled", err)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return NotFound(op, err)
	case codes.AlreadyExists:
		return &AppError{Code: CodeConflict, Message: op + ": already exists", Status: http.StatusConflict, Err: err}
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return RemoteUnavailable(op+" failed", err)
	case codes.PermissionDenied:
		return Forbidden(op+" denied", err)
	}
	return Internal(op+" failed", err)
}
