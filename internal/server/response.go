// internal/server/response.go
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"microloan-client/internal/common/errors"
)

// Response is the envelope of every dashboard API reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, status int, code, message string, data ...interface{}) {
	c.Abort()

	resp := Response{Success: false, Message: message, Error: code}
	if len(data) > 0 {
		resp.Data = data[0]
	}
	c.JSON(status, resp)
}

// redirect tells the dashboard where to go. GET requests follow a real
// redirect; other methods get the target in the body.
func redirect(c *gin.Context, status int, code, to string) {
	if c.Request.Method == http.MethodGet {
		c.Abort()
		c.Redirect(http.StatusFound, to)
		return
	}
	fail(c, status, code, "", gin.H{"redirectTo": to})
}

// StatusFor maps an error onto the HTTP status the dashboard sees.
func StatusFor(err *errors.StandardError) int {
	switch err.Code {
	case errors.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeAuthFailed, errors.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case errors.ErrCodeNotAuthorized:
		return http.StatusForbidden
	case errors.ErrCodeSessionSuperseded, errors.ErrCodeInvalidTransition:
		return http.StatusConflict
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeBackend:
		if err.StatusCode >= 400 && err.StatusCode < 500 {
			return err.StatusCode
		}
		return http.StatusBadGateway
	case errors.ErrCodePaymentDeclined, errors.ErrCodePaymentConfirmationFailed:
		return http.StatusPaymentRequired
	case errors.ErrCodeNetwork:
		return http.StatusServiceUnavailable
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err. Unauthenticated calls are sent to the login
// page and role mismatches home, matching the route guard.
func respondError(c *gin.Context, err error) {
	stdErr := errors.Normalize(err)
	switch stdErr.Code {
	case errors.ErrCodeUnauthenticated:
		redirect(c, http.StatusUnauthorized, string(stdErr.Code), LoginPath)
		return
	case errors.ErrCodeNotAuthorized:
		redirect(c, http.StatusForbidden, string(stdErr.Code), "/")
		return
	}

	message := errors.UserMessage(stdErr)
	if message == "" {
		message = stdErr.Message
	}

	// metadata is diagnostic; requestLogger logs it, the client never sees it
	_ = c.Error(stdErr).SetMeta(stdErr.Metadata)

	if len(stdErr.Fields) > 0 {
		fail(c, StatusFor(stdErr), string(stdErr.Code), message, gin.H{"fields": stdErr.Fields})
		return
	}
	fail(c, StatusFor(stdErr), string(stdErr.Code), message)
}
