package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/dispute_controller"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
)

// WalletHandler handles HTTP requests for wallet postings, balances and flags
type WalletHandler struct {
	ledgerService    service.LedgerService
	statementService service.StatementService
	disputeService   service.DisputeService
	logger           *slog.Logger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(
	logger *slog.Logger,
	ledgerService service.LedgerService,
	statementService service.StatementService,
	disputeService service.DisputeService,
) *WalletHandler {
	return &WalletHandler{
		ledgerService:    ledgerService,
		statementService: statementService,
		disputeService:   disputeService,
		logger:           logger,
	}
}

// Credit adds money to a wallet. A replayed reference returns the original entry with 200.
func (h *WalletHandler) Credit(c *gin.Context) {
	h.post(c, ledger.DirectionCredit)
}

// Debit removes money from a wallet
func (h *WalletHandler) Debit(c *gin.Context) {
	h.post(c, ledger.DirectionDebit)
}

func (h *WalletHandler) post(c *gin.Context, direction ledger.Direction) {
	ref, ok := walletRef(c)
	if !ok {
		return
	}

	var req PostingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	p := ledger.Posting{
		Wallet:         ref,
		Amount:         req.Amount,
		FundCategory:   shared.FundCategory(req.FundCategory),
		ServiceType:    shared.ServiceType(req.ServiceType),
		TxnType:        req.TxnType,
		ReferenceID:    req.ReferenceID,
		TransactionRef: req.TransactionRef,
		Remarks:        req.Remarks,
	}

	caps := middleware.GetCapabilities(c)
	if req.Override {
		elevated, err := caps.Elevate()
		if err != nil {
			RespondError(c, h.logger, err)
			return
		}
		h.logger.Warn("Posting with admin override",
			"wallet", ref.String(),
			"reference_id", req.ReferenceID,
			"actor", caps.Actor(),
		)
		caps = elevated
	}
	var (
		res *ledger.PostingResult
		err error
	)
	if direction == ledger.DirectionCredit {
		res, err = h.ledgerService.Credit(c.Request.Context(), p, caps)
	} else {
		res, err = h.ledgerService.Debit(c.Request.Context(), p, caps)
	}
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	response := PostingResponse{Entry: mapEntryToResponse(res.Entry), Replayed: res.Replayed}
	if res.Replayed {
		RespondOK(c, response)
		return
	}
	RespondCreated(c, response)
}

// GetBalance returns the materialized balance of a wallet
func (h *WalletHandler) GetBalance(c *gin.Context) {
	ref, ok := walletRef(c)
	if !ok || !canView(c, ref.PartnerID) {
		return
	}

	balance, err := h.ledgerService.GetBalance(c.Request.Context(), ref)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, mapBalanceToResponse(balance))
}

// ListEntries pages through the wallet's ledger entries, newest first
func (h *WalletHandler) ListEntries(c *gin.Context) {
	ref, ok := walletRef(c)
	if !ok || !canView(c, ref.PartnerID) {
		return
	}

	var params EntryListParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.logger.Error("Invalid entry list parameters", "error", err)
		RespondBadRequest(c, "Invalid entry list parameters")
		return
	}
	status := ledger.Status(params.Status)
	if status != "" && !status.Valid() {
		RespondBadRequest(c, "Invalid entry status")
		return
	}

	entries, err := h.ledgerService.ListEntries(c.Request.Context(), ref, ledger.ListFilter{
		Status: status,
		Limit:  params.PerPage,
		Offset: (params.Page - 1) * params.PerPage,
	})
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	response := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		response = append(response, mapEntryToResponse(e))
	}
	RespondOK(c, response)
}

// GetStatement serves the wallet statement from the read model
func (h *WalletHandler) GetStatement(c *gin.Context) {
	ref, ok := walletRef(c)
	if !ok || !canView(c, ref.PartnerID) {
		return
	}

	var params StatementParams
	if err := c.ShouldBindQuery(&params); err != nil {
		h.logger.Error("Invalid statement parameters", "error", err)
		RespondBadRequest(c, "Invalid statement parameters")
		return
	}

	lines, total, err := h.statementService.GetStatement(c.Request.Context(), ref, params.From, params.To, params.Page, params.PerPage)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	RespondWithPaginatedData(c, http.StatusOK, lines, params.Page, params.PerPage, int(total))
}

// Reconcile recomputes the wallet from its entries and reports any drift
func (h *WalletHandler) Reconcile(c *gin.Context) {
	ref, ok := walletRef(c)
	if !ok || !canView(c, ref.PartnerID) {
		return
	}

	rec, err := h.ledgerService.ReconcileWallet(c.Request.Context(), ref)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, rec)
}

// Hold sets or clears the settlement hold of a wallet
func (h *WalletHandler) Hold(c *gin.Context) {
	h.setFlag(c, h.disputeService.HoldWallet)
}

// Freeze sets or clears the full freeze of a wallet
func (h *WalletHandler) Freeze(c *gin.Context) {
	h.setFlag(c, h.disputeService.FreezeWallet)
}

type flagSetter func(ctx context.Context, ref wallet.Ref, enabled bool, caps capability.Set) (*dispute_controller.WalletHold, error)

func (h *WalletHandler) setFlag(c *gin.Context, set flagSetter) {
	ref, ok := walletRef(c)
	if !ok {
		return
	}

	var req WalletFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	hold, err := set(c.Request.Context(), ref, *req.Enabled, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, hold)
}
