package api_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/api_gateway/handler"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// handlers groups the HTTP handlers mounted by the router
type handlers struct {
	wallet     *handler.WalletHandler
	entry      *handler.EntryHandler
	fee        *handler.FeeHandler
	commission *handler.CommissionHandler
	settlement *handler.SettlementHandler
	dispute    *handler.DisputeHandler
	batch      *handler.BatchHandler
	transfer   *handler.TransferHandler
	callback   *handler.CallbackHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, cfg *config.Config, r *gin.Engine, h handlers) {
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))
	v1.Use(middleware.Capabilities())
	{
		wallets := v1.Group("/wallets/:partner_id/:wallet_type")
		{
			wallets.POST("/credit", h.wallet.Credit)
			wallets.POST("/debit", h.wallet.Debit)
			wallets.GET("/balance", h.wallet.GetBalance)
			wallets.GET("/entries", h.wallet.ListEntries)
			wallets.GET("/statement", h.wallet.GetStatement)
			wallets.GET("/reconcile", h.wallet.Reconcile)
			wallets.POST("/hold", h.wallet.Hold)
			wallets.POST("/freeze", h.wallet.Freeze)
		}

		entries := v1.Group("/entries")
		{
			entries.GET("/:id", h.entry.GetByID)
			entries.POST("/:id/hold", h.entry.Hold)
			entries.POST("/:id/release", h.entry.Release)
			entries.POST("/:id/reverse", h.entry.Reverse)
		}

		v1.POST("/fees/resolve", h.fee.Resolve)
		schemes := v1.Group("/schemes")
		{
			schemes.POST("/rates", h.fee.CreateRate)
			schemes.GET("/rates", h.fee.ListRates)
		}

		commissions := v1.Group("/commissions")
		{
			commissions.GET("", h.commission.ListByTransaction)
			commissions.POST("/distribute", h.commission.Distribute)
			commissions.POST("/:id/adjust", h.commission.Adjust)
			commissions.POST("/:id/release", h.commission.Release)
		}

		settlements := v1.Group("/settlements")
		{
			settlements.POST("", h.settlement.Create)
			settlements.GET("/:id", h.settlement.GetByID)
			settlements.POST("/:id/release", h.settlement.Release)
			settlements.POST("/:id/reconcile", h.settlement.Reconcile)
		}

		disputes := v1.Group("/disputes")
		{
			disputes.POST("", h.dispute.Raise)
			disputes.GET("/:id", h.dispute.GetByID)
			disputes.POST("/:id/transition", h.dispute.Transition)
		}

		v1.POST("/batch/settlements/run", h.batch.Run)

		transfers := v1.Group("/transfers")
		{
			transfers.POST("/push", h.transfer.Push)
			transfers.POST("/pull", h.transfer.Pull)
			transfers.GET("/:id", h.transfer.GetByID)
		}

		v1.POST("/callbacks/payments", h.callback.Payment)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
}
