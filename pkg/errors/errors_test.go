package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrCodeNegotiation, "unexpected answer", http.StatusBadRequest)
	assert.Contains(t, err.Error(), "NEGOTIATION_ERROR")
	assert.Contains(t, err.Error(), "unexpected answer")

	cause := errors.New("ice timeout")
	wrapped := Wrap(cause, ErrCodeTransport, "transport failure", http.StatusBadGateway)
	assert.Contains(t, wrapped.Error(), "ice timeout")
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_Retryable(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		retryable bool
	}{
		{ErrCodePermission, false},
		{ErrCodeDevice, true},
		{ErrCodeSignaling, true},
		{ErrCodeTransport, true},
		{ErrCodeNegotiation, false},
		{ErrCodeRecording, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x", http.StatusInternalServerError)
			assert.Equal(t, tt.retryable, err.Retryable())
		})
	}
}

func TestGetAppError(t *testing.T) {
	app := NewDeviceError(errors.New("camera busy"))
	chained := fmt.Errorf("start capture: %w", app)

	got := GetAppError(chained)
	assert.NotNil(t, got)
	assert.Equal(t, ErrCodeDevice, got.Code)

	assert.Nil(t, GetAppError(errors.New("plain")))
}
