package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// Headers set by the trusted authentication layer in front of the gateway
const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
	PartnerIDHeader = "X-Partner-ID"

	capabilitiesKey = "capabilities"
)

// Capabilities turns the authenticated principal into a capability.Set.
// Requests without an actor get the empty set, so every guarded engine
// operation rejects them. A partner role needs a partner id.
func Capabilities() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(ActorIDHeader))
		if actor == "" {
			c.Set(capabilitiesKey, capability.None())
			c.Next()
			return
		}

		role := shared.PartnerRole(strings.ToLower(strings.TrimSpace(c.GetHeader(ActorRoleHeader))))
		if !role.Valid() {
			abortForbidden(c, "Unknown actor role")
			return
		}

		partnerID := uuid.Nil
		if raw := strings.TrimSpace(c.GetHeader(PartnerIDHeader)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				abortForbidden(c, "Invalid partner id header")
				return
			}
			partnerID = id
		}
		if role != shared.RoleAdmin && partnerID == uuid.Nil {
			abortForbidden(c, "Partner actors must carry a partner id")
			return
		}

		c.Set(capabilitiesKey, capability.ForRole(actor, partnerID, role))
		c.Next()
	}
}

// GetCapabilities returns the caller's capability set, empty when absent
func GetCapabilities(c *gin.Context) capability.Set {
	if v, ok := c.Get(capabilitiesKey); ok {
		if caps, ok := v.(capability.Set); ok {
			return caps
		}
	}
	return capability.None()
}

func abortForbidden(c *gin.Context, message string) {
	response := gin.H{
		"error": gin.H{
			"code":    "FORBIDDEN",
			"message": message,
		},
	}
	if correlationID := GetCorrelationID(c); correlationID != "" {
		response["correlation_id"] = correlationID
	}
	c.AbortWithStatusJSON(http.StatusForbidden, response)
}
