// Package errors provides the client's error taxonomy.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeAuthFailed        ErrorCode = "AUTH_FAILED"
	ErrCodeUnauthenticated   ErrorCode = "UNAUTHENTICATED"
	ErrCodeSessionSuperseded ErrorCode = "SESSION_SUPERSEDED"

	ErrCodeNotAuthorized ErrorCode = "NOT_AUTHORIZED"

	ErrCodeNetwork ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	ErrCodeBackend           ErrorCode = "BACKEND_ERROR"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	ErrCodePaymentDeclined           ErrorCode = "PAYMENT_DECLINED"
	ErrCodePaymentConfirmationFailed ErrorCode = "PAYMENT_CONFIRMATION_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Category groups codes the way callers react to them.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryAuth          Category = "auth"
	CategoryNotAuthorized Category = "not_authorized"
	CategoryNetwork       Category = "network"
	CategoryBackend       Category = "backend"
	CategoryPayment       Category = "payment"
	CategoryInternal      Category = "internal"
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// StandardError represents a structured application error.
type StandardError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Retryable  bool                   `json:"retryable"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Fields     []FieldError           `json:"fields,omitempty"`
	StatusCode int                    `json:"statusCode,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Cause      error                  `json:"-"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Category returns the taxonomy bucket of the error code.
func (e *StandardError) Category() Category {
	return GetErrorCategory(e.Code)
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

func causeText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewValidationError reports client-side field failures. No network call was made.
func NewValidationError(fields []FieldError) *StandardError {
	e := newError(ErrCodeValidationFailed, "Please correct the highlighted fields", "", nil)
	e.Fields = fields
	return e
}

// NewAuthError reports that the identity provider or the backend exchange rejected the user.
func NewAuthError(message string, cause error) *StandardError {
	if message == "" {
		message = "Authentication failed"
	}
	return newError(ErrCodeAuthFailed, message, causeText(cause), cause)
}

// NewUnauthenticatedError reports a 401 from the backend.
func NewUnauthenticatedError(path string) *StandardError {
	e := newError(ErrCodeUnauthenticated, "Session is no longer valid", path, nil)
	e.StatusCode = http.StatusUnauthorized
	return e
}

// NewSessionSupersededError reports an operation whose result lost to a later one.
func NewSessionSupersededError(op string) *StandardError {
	return newError(ErrCodeSessionSuperseded, "Session changed while the request was in flight", op, nil)
}

// NewNotAuthorizedError reports a role mismatch. It is resolved by redirect.
func NewNotAuthorizedError(required string) *StandardError {
	return newError(ErrCodeNotAuthorized, "Not authorized", "requires "+required, nil)
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(op string, cause error) *StandardError {
	e := newError(ErrCodeNetwork, "Network request failed", causeText(cause), cause)
	e.Retryable = true
	return e.WithMetadata("operation", op)
}

// NewTimeoutError reports a call that exceeded its bound.
func NewTimeoutError(op string, cause error) *StandardError {
	e := newError(ErrCodeTimeout, "Request timed out", causeText(cause), cause)
	e.Retryable = true
	return e.WithMetadata("operation", op)
}

// NewBackendError reports a non-2xx backend response.
func NewBackendError(status int, message string) *StandardError {
	code := ErrCodeBackend
	if status == http.StatusNotFound {
		code = ErrCodeNotFound
	}
	if message == "" {
		message = http.StatusText(status)
	}
	e := newError(code, message, "", nil)
	e.StatusCode = status
	e.Retryable = status >= 500
	return e
}

// NewInvalidTransitionError reports an action not allowed in the current state.
func NewInvalidTransitionError(action, state string) *StandardError {
	return newError(ErrCodeInvalidTransition,
		fmt.Sprintf("cannot %s while %s", action, state), "", nil).
		WithMetadata("action", action).
		WithMetadata("state", state)
}

// NewPaymentDeclinedError reports a processor decline or an unsuccessful intent.
func NewPaymentDeclinedError(message string, cause error) *StandardError {
	if message == "" {
		message = "Payment failed"
	}
	return newError(ErrCodePaymentDeclined, message, causeText(cause), cause)
}

// NewPaymentConfirmationError reports that the backend did not record a
// payment the processor already accepted.
func NewPaymentConfirmationError(paymentIntentID string, cause error) *StandardError {
	return newError(ErrCodePaymentConfirmationFailed,
		"Payment was taken but could not be confirmed; it will show once the backend records it",
		causeText(cause), cause).
		WithMetadata("paymentIntentId", paymentIntentID)
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(cause error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", causeText(cause), cause)
}

// ==========================
// 3. Inspection Helpers
// ==========================

// As returns the StandardError in err's chain, if any.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Code == code
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, category Category) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Category() == category
}

// IsUnauthenticated reports a backend 401.
func IsUnauthenticated(err error) bool {
	return HasCode(err, ErrCodeUnauthenticated)
}

// GetErrorCategory returns the category for an error code.
func GetErrorCategory(code ErrorCode) Category {
	switch code {
	case ErrCodeValidationFailed:
		return CategoryValidation
	case ErrCodeAuthFailed, ErrCodeUnauthenticated, ErrCodeSessionSuperseded:
		return CategoryAuth
	case ErrCodeNotAuthorized:
		return CategoryNotAuthorized
	case ErrCodeNetwork, ErrCodeTimeout:
		return CategoryNetwork
	case ErrCodeBackend, ErrCodeNotFound, ErrCodeInvalidTransition:
		return CategoryBackend
	case ErrCodePaymentDeclined, ErrCodePaymentConfirmationFailed:
		return CategoryPayment
	default:
		return CategoryInternal
	}
}
