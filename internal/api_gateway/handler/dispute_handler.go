package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/dispute_controller"
	"github.com/partner-wallet-ledger/internal/domain/dispute"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// DisputeHandler handles HTTP requests for transaction disputes
type DisputeHandler struct {
	disputeService service.DisputeService
	logger         *slog.Logger
}

// NewDisputeHandler creates a new dispute handler
func NewDisputeHandler(logger *slog.Logger, disputeService service.DisputeService) *DisputeHandler {
	return &DisputeHandler{
		disputeService: disputeService,
		logger:         logger,
	}
}

// Raise opens a dispute against a business transaction
func (h *DisputeHandler) Raise(c *gin.Context) {
	var req RaiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	d, err := h.disputeService.Raise(c.Request.Context(), dispute_controller.RaiseRequest{
		TransactionRef: req.TransactionRef,
		PartnerID:      uuid.MustParse(req.PartnerID),
		WalletType:     shared.WalletType(req.WalletType),
		Reason:         req.Reason,
	}, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondCreated(c, d)
}

// Transition applies hold, resolve or reject to a dispute
func (h *DisputeHandler) Transition(c *gin.Context) {
	id, ok := pathID(c, "dispute")
	if !ok {
		return
	}

	var req TransitionDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	d, err := h.disputeService.Transition(c.Request.Context(), id, dispute.Action(req.Action), req.Resolution, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, d)
}

// GetByID returns one dispute
func (h *DisputeHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c, "dispute")
	if !ok {
		return
	}

	d, err := h.disputeService.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if !canView(c, d.PartnerID) {
		return
	}
	RespondOK(c, d)
}
