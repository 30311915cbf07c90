package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"roomcast/internal/core/domain"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see through AppError")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("room")
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.HTTPStatus != 404 {
		t.Errorf("HTTPStatus = %v, want 404", err.HTTPStatus)
	}
	if err.Detail().Message != "room not found" {
		t.Errorf("Detail().Message = %q", err.Detail().Message)
	}
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{"peer", domain.ErrPeerNotFound, ErrCodePeerNotFound, 404},
		{"room wrapped", fmt.Errorf("%w: lobby", domain.ErrRoomNotFound), ErrCodeRoomNotFound, 404},
		{"duplicate", domain.ErrDuplicatePeer, ErrCodeDuplicatePeer, 409},
		{"transport", domain.ErrTransportNotFound, ErrCodeTransportNotFound, 404},
		{"producer", domain.ErrProducerNotFound, ErrCodeProducerNotFound, 404},
		{"consumer", domain.ErrConsumerNotFound, ErrCodeConsumerNotFound, 404},
		{"cannot consume", domain.ErrCannotConsume, ErrCodeCannotConsume, 422},
		{"not connected", domain.ErrTransportNotConnected, ErrCodeTransportNotConnected, 409},
		{"already joined", domain.ErrAlreadyJoined, ErrCodeAlreadyJoined, 409},
		{"closed", domain.ErrSessionClosed, ErrCodeSessionClosed, 410},
		{"invalid", fmt.Errorf("%w: bad kind", domain.ErrInvalidRequest), ErrCodeInvalidInput, 400},
		{"engine", domain.NewEngineError("produce", errors.New("boom")), ErrCodeEngine, 502},
		{"unknown", errors.New("something else"), ErrCodeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromDomain(tt.err)
			if appErr == nil {
				t.Fatal("FromDomain() returned nil")
			}
			if appErr.Code != tt.code {
				t.Errorf("Code = %v, want %v", appErr.Code, tt.code)
			}
			if appErr.HTTPStatus != tt.status {
				t.Errorf("HTTPStatus = %v, want %v", appErr.HTTPStatus, tt.status)
			}
			if !errors.Is(appErr, tt.err) {
				t.Error("mapped error should wrap the original")
			}
		})
	}

	if FromDomain(nil) != nil {
		t.Error("FromDomain(nil) should be nil")
	}
	rate := NewRateLimitError()
	if FromDomain(rate) != rate {
		t.Error("FromDomain should pass AppError through")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("handler: %w", appErr)
	if result := GetAppError(wrapped); result != appErr {
		t.Error("GetAppError() should extract AppError from wrapped error")
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
}
