// internal/common/errors/handler.go
package errors

import (
	"context"
	stderrors "errors"
	"time"
)

// Handler normalizes and logs operation errors with standardized fields.
type Handler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// Report logs err under op and returns it as a StandardError. Validation and
// authorization outcomes log at warn; everything else at error.
func (h *Handler) Report(op string, err error) *StandardError {
	if err == nil {
		return nil
	}

	stdErr := Normalize(err)

	fields := map[string]interface{}{
		"operation":     op,
		"errorCode":     string(stdErr.Code),
		"errorCategory": string(stdErr.Category()),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
	}
	if stdErr.StatusCode != 0 {
		fields["statusCode"] = stdErr.StatusCode
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}

	switch stdErr.Category() {
	case CategoryValidation, CategoryNotAuthorized:
		h.logger.Warn("Operation rejected", fields)
	default:
		h.logger.Error("Operation failed", fields)
	}

	return stdErr
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("", err)
	}
	if stderrors.Is(err, context.Canceled) {
		return &StandardError{
			Code:      ErrCodeNetwork,
			Message:   "Request cancelled",
			Details:   err.Error(),
			Timestamp: time.Now().UTC(),
			Cause:     err,
		}
	}
	return NewInternalError(err)
}

// UserMessage returns the text to show in a notification, or "" when the
// error must not be surfaced (role mismatches are resolved by redirect).
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	stdErr := Normalize(err)
	switch stdErr.Category() {
	case CategoryNotAuthorized:
		return ""
	case CategoryNetwork:
		if stdErr.Code == ErrCodeTimeout {
			return "The request took too long. Please try again."
		}
		return "Could not reach the server. Please try again."
	case CategoryInternal:
		return "Something went wrong"
	default:
		return stdErr.Message
	}
}
