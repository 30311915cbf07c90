package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"roomcast/internal/core/domain"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrCodeRateLimit             ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodePeerNotFound          ErrorCode = "PEER_NOT_FOUND"
	ErrCodeRoomNotFound          ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeDuplicatePeer         ErrorCode = "DUPLICATE_PEER"
	ErrCodeTransportNotFound     ErrorCode = "TRANSPORT_NOT_FOUND"
	ErrCodeProducerNotFound      ErrorCode = "PRODUCER_NOT_FOUND"
	ErrCodeConsumerNotFound      ErrorCode = "CONSUMER_NOT_FOUND"
	ErrCodeCannotConsume         ErrorCode = "CANNOT_CONSUME"
	ErrCodeTransportNotConnected ErrorCode = "TRANSPORT_NOT_CONNECTED"
	ErrCodeAlreadyJoined         ErrorCode = "ALREADY_JOINED"
	ErrCodeSessionClosed         ErrorCode = "SESSION_CLOSED"
	ErrCodeEngine                ErrorCode = "ENGINE_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Detail is the error shape carried in signaling responses and HTTP bodies.
type Detail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *AppError) Detail() Detail {
	return Detail{Code: e.Code, Message: e.Message}
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

var domainCodes = []struct {
	err    error
	code   ErrorCode
	status int
}{
	{domain.ErrInvalidRequest, ErrCodeInvalidInput, http.StatusBadRequest},
	{domain.ErrPeerNotFound, ErrCodePeerNotFound, http.StatusNotFound},
	{domain.ErrRoomNotFound, ErrCodeRoomNotFound, http.StatusNotFound},
	{domain.ErrDuplicatePeer, ErrCodeDuplicatePeer, http.StatusConflict},
	{domain.ErrTransportNotFound, ErrCodeTransportNotFound, http.StatusNotFound},
	{domain.ErrProducerNotFound, ErrCodeProducerNotFound, http.StatusNotFound},
	{domain.ErrConsumerNotFound, ErrCodeConsumerNotFound, http.StatusNotFound},
	{domain.ErrCannotConsume, ErrCodeCannotConsume, http.StatusUnprocessableEntity},
	{domain.ErrTransportNotConnected, ErrCodeTransportNotConnected, http.StatusConflict},
	{domain.ErrAlreadyJoined, ErrCodeAlreadyJoined, http.StatusConflict},
	{domain.ErrSessionClosed, ErrCodeSessionClosed, http.StatusGone},
}

// FromDomain maps an error returned by the core services to an AppError.
// Unknown errors become INTERNAL_ERROR; nil stays nil.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	var engineErr *domain.EngineError
	if stderrors.As(err, &engineErr) {
		return WrapError(err, ErrCodeEngine, err.Error(), http.StatusBadGateway)
	}
	for _, m := range domainCodes {
		if stderrors.Is(err, m.err) {
			return WrapError(err, m.code, err.Error(), m.status)
		}
	}
	return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}
