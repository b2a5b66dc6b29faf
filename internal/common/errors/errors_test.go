package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Logger Implementation
// ==========================

type recordingLogger struct {
	warns  []string
	errors []string
	fields []map[string]interface{}
}

func (l *recordingLogger) Warn(msg string, fields map[string]interface{}) {
	l.warns = append(l.warns, msg)
	l.fields = append(l.fields, fields)
}

func (l *recordingLogger) Error(msg string, fields map[string]interface{}) {
	l.errors = append(l.errors, msg)
	l.fields = append(l.fields, fields)
}

// ==========================
// Taxonomy Tests
// ==========================

func TestGetErrorCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want Category
	}{
		{ErrCodeValidationFailed, CategoryValidation},
		{ErrCodeAuthFailed, CategoryAuth},
		{ErrCodeUnauthenticated, CategoryAuth},
		{ErrCodeSessionSuperseded, CategoryAuth},
		{ErrCodeNotAuthorized, CategoryNotAuthorized},
		{ErrCodeNetwork, CategoryNetwork},
		{ErrCodeTimeout, CategoryNetwork},
		{ErrCodeBackend, CategoryBackend},
		{ErrCodeNotFound, CategoryBackend},
		{ErrCodeInvalidTransition, CategoryBackend},
		{ErrCodePaymentDeclined, CategoryPayment},
		{ErrCodePaymentConfirmationFailed, CategoryPayment},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorCategory(tt.code))
		})
	}
}

func TestNewBackendError(t *testing.T) {
	notFound := NewBackendError(http.StatusNotFound, "")
	assert.Equal(t, ErrCodeNotFound, notFound.Code)
	assert.Equal(t, "Not Found", notFound.Message)
	assert.False(t, notFound.Retryable)

	server := NewBackendError(http.StatusInternalServerError, "boom")
	assert.Equal(t, ErrCodeBackend, server.Code)
	assert.Equal(t, "boom", server.Message)
	assert.True(t, server.Retryable)
	assert.Equal(t, http.StatusInternalServerError, server.StatusCode)
}

func TestAsThroughWrapping(t *testing.T) {
	base := NewPaymentConfirmationError("pi_123", stderrors.New("500"))
	wrapped := fmt.Errorf("pay fee: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "pi_123", got.Metadata["paymentIntentId"])
	assert.True(t, HasCode(wrapped, ErrCodePaymentConfirmationFailed))
	assert.True(t, IsCategory(wrapped, CategoryPayment))
	assert.False(t, IsUnauthenticated(wrapped))
}

func TestUnwrapExposesCause(t *testing.T) {
	err := NewNetworkError("GET /loans", context.DeadlineExceeded)
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "GET /loans", err.Metadata["operation"])
}

// ==========================
// Handler Tests
// ==========================

func TestNormalize(t *testing.T) {
	assert.Equal(t, ErrCodeTimeout, Normalize(fmt.Errorf("x: %w", context.DeadlineExceeded)).Code)
	assert.Equal(t, ErrCodeNetwork, Normalize(context.Canceled).Code)
	assert.Equal(t, ErrCodeInternal, Normalize(stderrors.New("plain")).Code)

	std := NewAuthError("bad", nil)
	assert.Same(t, std, Normalize(std))
}

func TestHandler_Report(t *testing.T) {
	log := &recordingLogger{}
	h := NewHandler(log)

	assert.Nil(t, h.Report("noop", nil))

	got := h.Report("submit", NewValidationError([]FieldError{{Field: "loanAmount", Message: "Maximum 5000"}}))
	assert.Equal(t, ErrCodeValidationFailed, got.Code)
	assert.Equal(t, []string{"Operation rejected"}, log.warns)

	h.Report("confirm", NewBackendError(http.StatusBadGateway, "upstream"))
	assert.Equal(t, []string{"Operation failed"}, log.errors)
	assert.Equal(t, http.StatusBadGateway, log.fields[1]["statusCode"])
	assert.Equal(t, "backend", log.fields[1]["errorCategory"])
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "", UserMessage(NewNotAuthorizedError("admin")))
	assert.Equal(t, "Invalid password", UserMessage(NewAuthError("Invalid password", nil)))
	assert.Contains(t, UserMessage(NewTimeoutError("GET", nil)), "too long")
	assert.Contains(t, UserMessage(NewNetworkError("GET", nil)), "Could not reach")
	assert.Equal(t, "Something went wrong", UserMessage(stderrors.New("x")))
}
