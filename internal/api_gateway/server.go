package api_gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/api_gateway/handler"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/config"
)

// Services are the engine operations exposed over HTTP
type Services struct {
	Ledger     service.LedgerService
	Statements service.StatementService
	Fees       service.FeeService
	Commission service.CommissionService
	Settlement service.SettlementService
	Disputes   service.DisputeService
	Batch      service.BatchService
	Transfers  service.TransferService
	Callbacks  service.CallbackService
}

// Server serves the partner wallet API
type Server struct {
	logger *slog.Logger
	srv    *http.Server
	router *gin.Engine
}

func ginMode(env string) string {
	switch env {
	case "production", "staging":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

func NewServer(log *slog.Logger, cfg *config.Config, svc Services) *Server {
	gin.SetMode(ginMode(cfg.Application.Env))
	router := gin.New()

	setupRouter(log, cfg, router, handlers{
		wallet:     handler.NewWalletHandler(log, svc.Ledger, svc.Statements, svc.Disputes),
		entry:      handler.NewEntryHandler(log, svc.Ledger),
		fee:        handler.NewFeeHandler(log, svc.Fees),
		commission: handler.NewCommissionHandler(log, svc.Commission),
		settlement: handler.NewSettlementHandler(log, svc.Settlement),
		dispute:    handler.NewDisputeHandler(log, svc.Disputes),
		batch:      handler.NewBatchHandler(log, svc.Batch),
		transfer:   handler.NewTransferHandler(log, svc.Transfers),
		callback:   handler.NewCallbackHandler(log, svc.Callbacks),
	})

	return &Server{
		logger: log,
		router: router,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       cfg.Server.IdleTimeout,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the listener fails or Stop is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("http server on %s: %w", s.srv.Addr, err)
}

// Stop lets in-flight requests finish until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Draining HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain http server: %w", err)
	}
	return nil
}
