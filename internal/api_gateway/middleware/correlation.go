package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/logger"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	CorrelationIDKey    = "correlation_id"

	// maxCorrelationIDLength bounds ids copied into logs and Kafka headers
	maxCorrelationIDLength = 128
)

// CorrelationID tags the request with the caller's id or a fresh one. The
// id is echoed back and carried on the request context, so engine logs and
// queued callbacks share it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := acceptCorrelationID(c.GetHeader(CorrelationIDHeader))
		c.Header(CorrelationIDHeader, correlationID)
		c.Set(CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(logger.WithCorrelationID(c.Request.Context(), correlationID))
		c.Next()
	}
}

// acceptCorrelationID keeps a caller supplied id only when it is short and
// printable ASCII
func acceptCorrelationID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxCorrelationIDLength {
		return uuid.New().String()
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < 0x21 || raw[i] > 0x7e {
			return uuid.New().String()
		}
	}
	return raw
}

// GetCorrelationID returns the id set by CorrelationID, or "" outside it
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(CorrelationIDKey)
}
