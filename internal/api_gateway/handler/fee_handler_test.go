package handler

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func setupFeeRouter() (*gin.Engine, *MockFeeService) {
	svc := new(MockFeeService)
	h := NewFeeHandler(testLogger, svc)
	router := newRouter(func(r *gin.RouterGroup) {
		r.POST("/fees/resolve", h.Resolve)
		r.POST("/schemes/rates", h.CreateRate)
		r.GET("/schemes/rates", h.ListRates)
	})
	return router, svc
}

func TestFeeHandler_Resolve(t *testing.T) {
	partnerID := uuid.New()

	t.Run("CallerPartner", func(t *testing.T) {
		router, svc := setupFeeRouter()
		svc.On("ResolveFee", mock.Anything, scheme_resolver.FeeRequest{
			Amount:      decimal.RequireFromString("1000"),
			ServiceType: shared.ServiceTypePOS,
			CardType:    "credit",
			PartnerID:   partnerID,
		}).Return(&scheme.Resolution{
			Rate:      decimal.RequireFromString("1.5"),
			FeeAmount: decimal.RequireFromString("15"),
			Tier:      scheme.TierGolden,
		}, nil)

		rr, env := perform(t, router, http.MethodPost, "/api/v1/fees/resolve", map[string]interface{}{
			"amount":       "1000",
			"service_type": "pos",
			"card_type":    "credit",
		}, retailerActor(partnerID))

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp map[string]interface{}
		decodeData(t, env, &resp)
		assert.Equal(t, "golden", resp["tier"])
		assert.Equal(t, "15", resp["fee_amount"])
		svc.AssertExpectations(t)
	})

	t.Run("OtherPartnerForbidden", func(t *testing.T) {
		router, svc := setupFeeRouter()

		rr, _ := perform(t, router, http.MethodPost, "/api/v1/fees/resolve", map[string]interface{}{
			"amount":       "1000",
			"service_type": "pos",
			"partner_id":   uuid.NewString(),
		}, retailerActor(partnerID))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		svc.AssertNotCalled(t, "ResolveFee", mock.Anything, mock.Anything)
	})

	t.Run("OperatorMustNamePartner", func(t *testing.T) {
		router, _ := setupFeeRouter()

		rr, _ := perform(t, router, http.MethodPost, "/api/v1/fees/resolve", map[string]interface{}{
			"amount":       "1000",
			"service_type": "pos",
		}, adminActor)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestFeeHandler_CreateRate(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		router, svc := setupFeeRouter()
		svc.On("CreateRate", mock.Anything, mock.MatchedBy(func(r *scheme.Rate) bool {
			return r.Tier == scheme.TierCustom && r.PartnerID != nil && r.RatePercent.Equal(decimal.RequireFromString("0.9"))
		}), capsFor(capability.ScopeSchemeAdmin)).Return(nil)

		rr, _ := perform(t, router, http.MethodPost, "/api/v1/schemes/rates", map[string]interface{}{
			"scheme_name":  "Retail POS",
			"tier":         "custom",
			"service":      "pos",
			"partner_id":   uuid.NewString(),
			"rate_percent": "0.9",
		}, adminActor)

		assert.Equal(t, http.StatusCreated, rr.Code)
		svc.AssertExpectations(t)
	})

	t.Run("UnknownTier", func(t *testing.T) {
		router, svc := setupFeeRouter()

		rr, _ := perform(t, router, http.MethodPost, "/api/v1/schemes/rates", map[string]interface{}{
			"scheme_name":  "Retail POS",
			"tier":         "platinum",
			"service":      "pos",
			"rate_percent": "0.9",
		}, adminActor)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		svc.AssertNotCalled(t, "CreateRate", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestFeeHandler_ListRatesRequiresService(t *testing.T) {
	router, _ := setupFeeRouter()

	rr, _ := perform(t, router, http.MethodGet, "/api/v1/schemes/rates", nil, adminActor)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
