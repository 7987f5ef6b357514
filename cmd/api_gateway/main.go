package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/partner-wallet-ledger/internal/api_gateway"
	"github.com/partner-wallet-ledger/internal/api_gateway/service"
	"github.com/partner-wallet-ledger/internal/batch_runner"
	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/data/mongo"
	"github.com/partner-wallet-ledger/internal/data/postgres"
	"github.com/partner-wallet-ledger/internal/dispute_controller"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/ledger_core"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/messaging/producers"
	"github.com/partner-wallet-ledger/internal/platform/payout"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/partner-wallet-ledger/internal/settlement_orchestrator"
	"github.com/partner-wallet-ledger/internal/transfer_saga"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("api_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	// Migrations run before the pool is handed out
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Callbacks are queued for the settlement worker
	callbackProducer, err := producers.NewCallbackProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize callback Kafka producer", "error", err)
		os.Exit(1)
	}

	// Repositories
	walletRepo := postgres.NewWalletRepository(log, postgresDB)
	entryRepo := postgres.NewLedgerRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	partnerDir := postgres.NewPartnerRepository(log, postgresDB)
	schemeRepo := postgres.NewSchemeRepository(log, postgresDB)
	commissionRepo := postgres.NewCommissionRepository(log, postgresDB)
	settlementRepo := postgres.NewSettlementRepository(log, postgresDB)
	disputeRepo := postgres.NewDisputeRepository(log, postgresDB)
	transactionRepo := postgres.NewProviderTransactionRepository(log, postgresDB)
	leaseRepo := postgres.NewLeaseRepository(log, postgresDB)
	transferRepo := postgres.NewTransferRepository(log, postgresDB)
	statementRepo := mongo.NewStatementRepository(log, mongoDB.Database())

	// Engine
	ledgerCore := ledger_core.NewService(log, &cfg.Ledger, postgresDB, walletRepo, entryRepo, outboxRepo)
	resolver, err := scheme_resolver.NewService(log, &cfg.Scheme, schemeRepo, partnerDir)
	if err != nil {
		log.Error("Failed to initialize scheme resolver", "error", err)
		os.Exit(1)
	}
	distributor, err := commission_distributor.NewService(log, commission.SharePolicy{
		DistributorPercent:       cfg.Commission.DistributorPercent,
		MasterDistributorPercent: cfg.Commission.MasterDistributorPercent,
		LockOnCreate:             cfg.Commission.LockOnCreate,
		MaxAdjustmentPercent:     cfg.Commission.MaxAdjustmentPercent,
	}, postgresDB, commissionRepo, partnerDir, ledgerCore, resolver)
	if err != nil {
		log.Error("Failed to initialize commission distributor", "error", err)
		os.Exit(1)
	}
	payoutClient := payout.NewClient(log, cfg.Settlement.PayoutURL, &http.Client{})
	orchestrator := settlement_orchestrator.NewService(log, &cfg.Settlement, postgresDB, settlementRepo, ledgerCore, payoutClient)
	disputes := dispute_controller.NewService(log, postgresDB, disputeRepo, ledgerCore, orchestrator)
	runner := batch_runner.NewRunner(log, &cfg.Batch, transactionRepo, leaseRepo, ledgerCore, resolver, distributor)
	saga := transfer_saga.NewService(log, &cfg.Saga, transferRepo, partnerDir, ledgerCore)

	server := api_gateway.NewServer(log, cfg, api_gateway.Services{
		Ledger:     ledgerCore,
		Statements: service.NewStatementService(&cfg.Ledger, statementRepo),
		Fees:       resolver,
		Commission: distributor,
		Settlement: orchestrator,
		Disputes:   disputes,
		Batch:      runner,
		Transfers:  saga,
		Callbacks:  service.NewCallbackService(log, transactionRepo, callbackProducer),
	})
	log.Info("REST server initialized")

	errChan := make(chan error, 1)

	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// An on-demand batch run finishes its current partner group first
	runner.Stop()
	cancelAppCtx()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	log.Info("Starting graceful shutdown...")

	// In-flight requests drain before their connections go away
	if err = server.Stop(shutdownCtx); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	postgresDB.Close()

	if err = callbackProducer.Close(); err != nil {
		log.Error("Error closing Kafka producer", "error", err)
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
		os.Exit(1)
	}
	log.Info("Server shutdown completed successfully")
}
