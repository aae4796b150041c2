package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies failures by how they may be retried.
type ErrorCode string

const (
	// ErrCodePermission covers camera/mic permission refusals; not
	// retryable without user action outside the system.
	ErrCodePermission ErrorCode = "PERMISSION_DENIED"
	// ErrCodeDevice covers busy or missing capture hardware; retryable
	// via explicit re-invocation.
	ErrCodeDevice ErrorCode = "DEVICE_ERROR"
	// ErrCodeSignaling covers subscribe timeouts and publish failures;
	// retryable by the owning controller, bounded.
	ErrCodeSignaling ErrorCode = "SIGNALING_ERROR"
	// ErrCodeNegotiation covers malformed or out-of-state descriptions;
	// the offending message is dropped, the session survives.
	ErrCodeNegotiation ErrorCode = "NEGOTIATION_ERROR"
	// ErrCodeTransport covers ICE/connectivity failures; drives the
	// session state machine's retry policy.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	// ErrCodeRecording covers recording and replay-upload failures;
	// never fatal to the stream lifecycle.
	ErrCodeRecording ErrorCode = "RECORDING_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a taxonomy code alongside the underlying cause.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether re-invoking the failed operation can succeed
// without outside intervention.
func (e *AppError) Retryable() bool {
	switch e.Code {
	case ErrCodeDevice, ErrCodeSignaling, ErrCodeTransport:
		return true
	default:
		return false
	}
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewPermissionError(message string) *AppError {
	return New(ErrCodePermission, message, http.StatusForbidden)
}

func NewDeviceError(err error) *AppError {
	return Wrap(err, ErrCodeDevice, "capture device unavailable", http.StatusServiceUnavailable)
}

func NewSignalingError(err error) *AppError {
	return Wrap(err, ErrCodeSignaling, "signaling failure", http.StatusBadGateway)
}

func NewNegotiationError(message string) *AppError {
	return New(ErrCodeNegotiation, message, http.StatusBadRequest)
}

func NewTransportError(err error) *AppError {
	return Wrap(err, ErrCodeTransport, "transport failure", http.StatusBadGateway)
}

func NewRecordingError(err error) *AppError {
	return Wrap(err, ErrCodeRecording, "no replay saved", http.StatusOK)
}

func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewConflictError(message string) *AppError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

func NewInternalError(message string) *AppError {
	return New(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts an AppError from an error chain, or nil.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
