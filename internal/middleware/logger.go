package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/erp-admin/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		statusCode := c.Writer.Status()
		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"method", c.Request.Method,
			"path", path,
			"status", statusCode,
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}

		switch {
		case statusCode >= 500:
			log.Error(lastError(c), "Server error", fields...)
		case statusCode >= 400:
			log.Warn(lastError(c), "Client error", fields...)
		default:
			log.Debug("Request processed", fields...)
		}
	}
}

func lastError(c *gin.Context) error {
	if len(c.Errors) == 0 {
		return nil
	}
	return c.Errors.Last().Err
}
