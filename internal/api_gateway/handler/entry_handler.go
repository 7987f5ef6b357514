package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
)

// EntryHandler handles HTTP requests for single ledger entries
type EntryHandler struct {
	ledgerService service.LedgerService
	logger        *slog.Logger
}

// NewEntryHandler creates a new entry handler
func NewEntryHandler(logger *slog.Logger, ledgerService service.LedgerService) *EntryHandler {
	return &EntryHandler{
		ledgerService: ledgerService,
		logger:        logger,
	}
}

// GetByID returns one ledger entry
func (h *EntryHandler) GetByID(c *gin.Context) {
	id, ok := pathID(c, "entry")
	if !ok {
		return
	}

	entry, err := h.ledgerService.GetEntry(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	if !canView(c, entry.PartnerID) {
		return
	}
	RespondOK(c, mapEntryToResponse(entry))
}

// Hold puts a completed entry on hold
func (h *EntryHandler) Hold(c *gin.Context) {
	h.setStatus(c, ledger.StatusHold)
}

// Release completes a held or pending entry
func (h *EntryHandler) Release(c *gin.Context) {
	h.setStatus(c, ledger.StatusCompleted)
}

// Reverse marks an entry reversed, removing its balance effect
func (h *EntryHandler) Reverse(c *gin.Context) {
	h.setStatus(c, ledger.StatusReversed)
}

func (h *EntryHandler) setStatus(c *gin.Context, status ledger.Status) {
	id, ok := pathID(c, "entry")
	if !ok {
		return
	}

	entry, err := h.ledgerService.SetEntryStatus(c.Request.Context(), id, status, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, mapEntryToResponse(entry))
}
