package middleware

import (
	"time"

	"github.com/google/uuid"

	"github.com/gin-gonic/gin"

	"github.com/peluqueria/booking-engine/pkg/logger"
)

// RequestLogging attaches a request ID and logs method/path/status/latency
// for every request except the bare health/metrics probes.
func RequestLogging(log logger.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		reqLogger := log.With(
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
		)
		reqLogger.Info("request started")

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		respLogger := reqLogger.With("status_code", statusCode, "duration_ms", duration.Milliseconds())

		switch {
		case statusCode >= 500:
			respLogger.Error("request completed with server error")
		case statusCode >= 400:
			respLogger.Warn("request completed with client error")
		default:
			respLogger.Info("request completed")
		}
	}
}

// ErrorLogging logs any errors gin handlers attached via c.Error.
func ErrorLogging(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		errLogger := log.With("path", c.Request.URL.Path, "method", c.Request.Method)
		if requestID, exists := c.Get("request_id"); exists {
			errLogger = errLogger.With("request_id", requestID)
		}
		for _, err := range c.Errors {
			errLogger.Error("request error", "error", err.Error())
		}
	}
}
