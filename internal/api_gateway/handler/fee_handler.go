package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
)

// FeeHandler handles HTTP requests for fee resolution and scheme rates
type FeeHandler struct {
	feeService service.FeeService
	logger     *slog.Logger
}

// NewFeeHandler creates a new fee handler
func NewFeeHandler(logger *slog.Logger, feeService service.FeeService) *FeeHandler {
	return &FeeHandler{
		feeService: feeService,
		logger:     logger,
	}
}

// Resolve returns the rate and fee that apply to a transaction. Partners
// resolve for themselves; operators may name any partner.
func (h *FeeHandler) Resolve(c *gin.Context) {
	var req FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	feeReq, ok := toFeeRequest(c, req)
	if !ok {
		return
	}

	res, err := h.feeService.ResolveFee(c.Request.Context(), feeReq)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, res)
}

// CreateRate stores a new scheme rate version
func (h *FeeHandler) CreateRate(c *gin.Context) {
	var req CreateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	tier, err := scheme.ParseTier(req.Tier)
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}

	rate := &scheme.Rate{
		SchemeID:           optionalUUID(req.SchemeID, uuid.Nil),
		SchemeName:         req.SchemeName,
		Tier:               tier,
		Service:            scheme.Service(req.Service),
		Mode:               req.Mode,
		CardType:           req.CardType,
		CardBrand:          req.CardBrand,
		CardClassification: req.CardClassification,
		RatePercent:        req.RatePercent,
		MinFee:             req.MinFee,
		MaxFee:             req.MaxFee,
		EffectiveTo:        req.EffectiveTo,
	}
	if req.PartnerID != "" {
		partnerID := uuid.MustParse(req.PartnerID)
		rate.PartnerID = &partnerID
	}
	if req.EffectiveFrom != nil {
		rate.EffectiveFrom = req.EffectiveFrom.UTC()
	}

	if err := h.feeService.CreateRate(c.Request.Context(), rate, middleware.GetCapabilities(c)); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondCreated(c, rate)
}

// ListRates lists the stored rate versions of a fee service
func (h *FeeHandler) ListRates(c *gin.Context) {
	svc := scheme.Service(c.Query("service"))
	if svc == "" {
		RespondBadRequest(c, "Query parameter service is required")
		return
	}

	rates, err := h.feeService.ListRates(c.Request.Context(), svc)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	RespondOK(c, rates)
}

// toFeeRequest defaults the partner to the caller and checks an explicit
// partner is the caller's own unless the caller is an operator
func toFeeRequest(c *gin.Context, req FeeRequest) (scheme_resolver.FeeRequest, bool) {
	caps := middleware.GetCapabilities(c)
	partnerID := optionalUUID(req.PartnerID, caps.PartnerID())
	if partnerID == uuid.Nil {
		RespondBadRequest(c, "partner_id is required")
		return scheme_resolver.FeeRequest{}, false
	}
	if !canView(c, partnerID) {
		return scheme_resolver.FeeRequest{}, false
	}
	return scheme_resolver.FeeRequest{
		Amount:             req.Amount,
		ServiceType:        shared.ServiceType(req.ServiceType),
		Mode:               req.Mode,
		CardType:           req.CardType,
		CardBrand:          req.CardBrand,
		CardClassification: req.CardClassification,
		PartnerID:          partnerID,
	}, true
}
