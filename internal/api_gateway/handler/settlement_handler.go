package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/settlement_orchestrator"
)

// SettlementHandler handles HTTP requests for wallet-to-bank settlements
type SettlementHandler struct {
	settlementService service.SettlementService
	logger            *slog.Logger
}

// NewSettlementHandler creates a new settlement handler
func NewSettlementHandler(logger *slog.Logger, settlementService service.SettlementService) *SettlementHandler {
	return &SettlementHandler{
		settlementService: settlementService,
		logger:            logger,
	}
}

// Create reserves wallet funds for a settlement. A repeated request_id
// returns the settlement created the first time.
func (h *SettlementHandler) Create(c *gin.Context) {
	var req CreateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	st, err := h.settlementService.Request(c.Request.Context(), settlement_orchestrator.SettlementRequest{
		PartnerID:  uuid.MustParse(req.PartnerID),
		WalletType: shared.WalletType(req.WalletType),
		Amount:     req.Amount,
		Mode:       settlement.Mode(req.Mode),
		RequestID:  req.RequestID,
	}, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondCreated(c, st)
}

// Release approves (and pays out) or rejects a pending settlement
func (h *SettlementHandler) Release(c *gin.Context) {
	id, ok := pathID(c, "settlement")
	if !ok {
		return
	}

	var req ReleaseSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	st, err := h.settlementService.Release(c.Request.Context(), id, settlement.Action(req.Action), middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, st)
}

// Reconcile records the manual outcome of a settlement left in processing
func (h *SettlementHandler) Reconcile(c *gin.Context) {
	id, ok := pathID(c, "settlement")
	if !ok {
		return
	}

	var req ReconcileSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	st, err := h.settlementService.Reconcile(c.Request.Context(), id, settlement.Outcome(req.Outcome), req.PayoutReference, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, st)
}

// GetByID returns one settlement
func (h *SettlementHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c, "settlement")
	if !ok {
		return
	}

	st, err := h.settlementService.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if !canView(c, st.PartnerID) {
		return
	}
	RespondOK(c, st)
}
