package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/logger"
)

// Logger writes one line per request. Client rejections such as a low
// balance or a frozen wallet log at warn, server failures at error.
func Logger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if actor := c.GetHeader(ActorIDHeader); actor != "" {
			attrs = append(attrs, "actor", actor, "role", c.GetHeader(ActorRoleHeader))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		logger.FromContext(c.Request.Context(), base).Log(c.Request.Context(), level, "HTTP request", attrs...)
	}
}
