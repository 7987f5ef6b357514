package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/domain/transfer"
	"github.com/partner-wallet-ledger/internal/transfer_saga"
)

// TransferHandler handles HTTP requests for hierarchy fund transfers
type TransferHandler struct {
	transferService service.TransferService
	logger          *slog.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(logger *slog.Logger, transferService service.TransferService) *TransferHandler {
	return &TransferHandler{
		transferService: transferService,
		logger:          logger,
	}
}

// Push moves funds from the caller to a partner below it
func (h *TransferHandler) Push(c *gin.Context) {
	h.start(c, transfer.KindPush)
}

// Pull moves funds from a partner below the caller to the caller
func (h *TransferHandler) Pull(c *gin.Context) {
	h.start(c, transfer.KindPull)
}

func (h *TransferHandler) start(c *gin.Context, kind transfer.Kind) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	caps := middleware.GetCapabilities(c)
	tr := transfer_saga.TransferRequest{
		PartnerID:      optionalUUID(req.PartnerID, caps.PartnerID()),
		CounterpartyID: uuid.MustParse(req.CounterpartyID),
		Amount:         req.Amount,
		Remarks:        req.Remarks,
	}

	var (
		t   *transfer.Transfer
		err error
	)
	if kind == transfer.KindPush {
		t, err = h.transferService.Push(c.Request.Context(), tr, caps)
	} else {
		t, err = h.transferService.Pull(c.Request.Context(), tr, caps)
	}
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondCreated(c, t)
}

// GetByID returns one transfer saga
func (h *TransferHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c, "transfer")
	if !ok {
		return
	}

	t, err := h.transferService.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if middleware.GetCapabilities(c).PartnerID() != t.Destination.PartnerID && !canView(c, t.Source.PartnerID) {
		return
	}
	RespondOK(c, t)
}
