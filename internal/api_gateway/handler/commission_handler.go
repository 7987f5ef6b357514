package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/domain/capability"
)

// CommissionHandler handles HTTP requests for upline commissions
type CommissionHandler struct {
	commissionService service.CommissionService
	logger            *slog.Logger
}

// NewCommissionHandler creates a new commission handler
func NewCommissionHandler(logger *slog.Logger, commissionService service.CommissionService) *CommissionHandler {
	return &CommissionHandler{
		commissionService: commissionService,
		logger:            logger,
	}
}

// Distribute resolves the fee of a transaction and credits the upline shares.
// Repeating the call for the same transaction returns the stored shares.
func (h *CommissionHandler) Distribute(c *gin.Context) {
	var req DistributeCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if err := middleware.GetCapabilities(c).Require(capability.ScopeCommissionAdmin); err != nil {
		RespondError(c, h.logger, err)
		return
	}

	feeReq, ok := toFeeRequest(c, req.FeeRequest)
	if !ok {
		return
	}

	dist, err := h.commissionService.DistributeFee(c.Request.Context(), feeReq, req.TransactionID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, dist)
}

// Adjust changes a locked commission within the configured bounds
func (h *CommissionHandler) Adjust(c *gin.Context) {
	id, ok := pathID(c, "commission")
	if !ok {
		return
	}

	var req AdjustCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	adj, err := h.commissionService.Adjust(c.Request.Context(), id, req.Amount, req.Reason, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, adj)
}

// Release unlocks a commission for payout
func (h *CommissionHandler) Release(c *gin.Context) {
	id, ok := pathID(c, "commission")
	if !ok {
		return
	}

	entry, err := h.commissionService.Release(c.Request.Context(), id, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, entry)
}

// ListByTransaction lists the commissions paid for one transaction
func (h *CommissionHandler) ListByTransaction(c *gin.Context) {
	transactionID := c.Query("transaction_id")
	if transactionID == "" {
		RespondBadRequest(c, "Query parameter transaction_id is required")
		return
	}

	entries, err := h.commissionService.ListByTransaction(c.Request.Context(), transactionID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, entries)
}
