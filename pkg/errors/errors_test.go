package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"meshcall/internal/core/domain"
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
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("call_id", "call-1").WithContext("count", 42)

	if err.Context["call_id"] != "call-1" {
		t.Errorf("Context[call_id] = %v, want 'call-1'", err.Context["call_id"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNewInvalidInputError(t *testing.T) {
	err := NewInvalidInputError("invalid input")
	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidInput)
	}
	if err.HTTPStatus != 400 {
		t.Errorf("HTTPStatus = %v, want 400", err.HTTPStatus)
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("call")
	if err.Code != ErrCodeNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
	}
	if err.HTTPStatus != 404 {
		t.Errorf("HTTPStatus = %v, want 404", err.HTTPStatus)
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
	if !IsAppError(fmt.Errorf("outer: %w", appErr)) {
		t.Error("IsAppError() should unwrap fmt-wrapped errors")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	// Direct AppError
	result := GetAppError(appErr)
	if result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	// fmt-wrapped error
	result = GetAppError(fmt.Errorf("handler: %w", appErr))
	if result != appErr {
		t.Error("GetAppError() should extract AppError from wrapped error")
	}

	// Regular error
	regularErr := errors.New("regular error")
	result = GetAppError(regularErr)
	if result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   ErrorCode
		wantStatus int
	}{
		{"call not found", domain.ErrCallNotFound, ErrCodeNotFound, http.StatusNotFound},
		{"group call not found", domain.ErrGroupCallNotFound, ErrCodeNotFound, http.StatusNotFound},
		{"invalid transition", domain.ErrInvalidTransition, ErrCodeConflict, http.StatusConflict},
		{"group call ended", domain.ErrGroupCallEnded, ErrCodeConflict, http.StatusConflict},
		{"group call full", domain.ErrGroupCallFull, ErrCodeConflict, http.StatusConflict},
		{"unknown error", errors.New("boom"), ErrCodeInternal, http.StatusInternalServerError},
		{"wrapped domain error", fmt.Errorf("repo: %w", domain.ErrCallNotFound), ErrCodeNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromDomain(tt.err)
			if appErr.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", appErr.Code, tt.wantCode)
			}
			if appErr.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %v, want %v", appErr.HTTPStatus, tt.wantStatus)
			}
			if !errors.Is(appErr, tt.err) {
				t.Error("FromDomain() should keep the original error in the chain")
			}
		})
	}

	if FromDomain(nil) != nil {
		t.Error("FromDomain(nil) should return nil")
	}
}
