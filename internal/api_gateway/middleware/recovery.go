package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
)

// Recovery converts a handler panic into a 500 envelope. Ledger writes run
// in their own transaction, so a panic past that point has already rolled back.
func Recovery(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			metrics.RecordPanic(route)
			logger.FromContext(c.Request.Context(), base).Error("Handler panicked",
				"panic", fmt.Sprint(recovered),
				"route", route,
				"method", c.Request.Method,
				"actor", c.GetHeader(ActorIDHeader),
				"stack", string(debug.Stack()),
			)

			body := gin.H{"error": gin.H{
				"code":    "INTERNAL_SERVER_ERROR",
				"message": "An internal server error occurred",
			}}
			if correlationID := GetCorrelationID(c); correlationID != "" {
				body["correlation_id"] = correlationID
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()

		c.Next()
	}
}
