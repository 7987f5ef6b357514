package handler

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
)

// BatchHandler handles manual batch settlement runs
type BatchHandler struct {
	batchService service.BatchService
	logger       *slog.Logger
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(logger *slog.Logger, batchService service.BatchService) *BatchHandler {
	return &BatchHandler{
		batchService: batchService,
		logger:       logger,
	}
}

// Run settles captured transactions up to the cutoff, default start of
// today UTC. A run already holding the lease yields 409.
func (h *BatchHandler) Run(c *gin.Context) {
	var req RunBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	var cutoff time.Time
	if req.Cutoff != nil {
		cutoff = req.Cutoff.UTC()
	}

	result, err := h.batchService.Run(c.Request.Context(), cutoff, middleware.GetCapabilities(c))
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, result)
}
