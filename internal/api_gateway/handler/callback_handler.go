package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// CallbackHandler accepts provider payment callbacks
type CallbackHandler struct {
	callbackService service.CallbackService
	logger          *slog.Logger
}

// NewCallbackHandler creates a new callback handler
func NewCallbackHandler(logger *slog.Logger, callbackService service.CallbackService) *CallbackHandler {
	return &CallbackHandler{
		callbackService: callbackService,
		logger:          logger,
	}
}

// Payment queues a callback for the settlement worker and answers 202.
// A callback whose external id is already recorded answers 200 with the stored transaction.
func (h *CallbackHandler) Payment(c *gin.Context) {
	var req PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	cb := &shared.PaymentCallback{
		ExternalID:         req.ExternalID,
		PartnerID:          uuid.MustParse(req.PartnerID),
		ServiceType:        shared.ServiceType(req.ServiceType),
		Mode:               req.Mode,
		CardType:           req.CardType,
		CardBrand:          req.CardBrand,
		CardClassification: req.CardClassification,
		Amount:             req.Amount,
		Status:             shared.CallbackStatus(req.Status),
		Instant:            req.Instant,
		CorrelationID:      middleware.GetCorrelationID(c),
	}
	if req.CapturedAt != nil {
		cb.CapturedAt = req.CapturedAt.UTC()
	}

	existing, err := h.callbackService.Submit(c.Request.Context(), cb)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if existing != nil {
		RespondOK(c, existing)
		return
	}

	RespondAccepted(c, gin.H{
		"external_id": cb.ExternalID,
		"status":      "QUEUED",
	})
}
