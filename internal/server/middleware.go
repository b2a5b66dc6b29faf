// internal/server/middleware.go
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"microloan-client/internal/common/logger"
	"microloan-client/internal/common/metrics"
	"microloan-client/internal/common/observability"
	"microloan-client/internal/guard"
	"microloan-client/internal/models"
)

const sessionKey = "session"

func recoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered", map[string]interface{}{
					"error": err,
					"path":  c.Request.URL.Path,
				})
				fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		c.Next()
	}
}

func requestLogger(log logger.Logger, obs *observability.Observability) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		obs.RecordOperation(c.Request.Context(), c.Request.Method+" "+route, metrics.StatusClass(c.Writer.Status()), time.Since(start))

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"route":       route,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		last := c.Errors.Last()
		if last != nil {
			fields["error"] = last.Error()
			if meta, ok := last.Meta.(map[string]interface{}); ok && len(meta) > 0 {
				fields["errorMeta"] = meta
			}
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Warn("request failed", fields)
		case last != nil:
			log.Info("request rejected", fields)
		default:
			log.Debug("request", fields)
		}
	}
}

// guardMiddleware evaluates req against a single session snapshot and
// stores that snapshot for the handler.
func guardMiddleware(sessions Sessions, req guard.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := sessions.Snapshot()
		c.Set(sessionKey, snap)

		d := guard.Evaluate(snap, req)
		switch d.Outcome {
		case guard.Wait:
			c.AbortWithStatusJSON(http.StatusAccepted, Response{
				Success: false,
				Message: "Session is loading",
				Data:    gin.H{"loading": true},
			})
		case guard.Redirect:
			redirect(c, http.StatusForbidden, "NOT_AUTHORIZED", d.RedirectTo)
		default:
			c.Next()
		}
	}
}

// currentSession returns the snapshot the guard saw.
func currentSession(c *gin.Context) models.Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(models.Session); ok {
			return s
		}
	}
	return models.Session{}
}
