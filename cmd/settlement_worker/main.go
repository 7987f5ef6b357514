package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/partner-wallet-ledger/internal/batch_runner"
	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/data/mongo"
	"github.com/partner-wallet-ledger/internal/data/postgres"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/ledger_core"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/messaging/consumers"
	"github.com/partner-wallet-ledger/internal/platform/messaging/producers"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/partner-wallet-ledger/internal/settlement_worker/consumer"
	"github.com/partner-wallet-ledger/internal/settlement_worker/outbox_poller"
	"github.com/partner-wallet-ledger/internal/settlement_worker/posting"
	"github.com/partner-wallet-ledger/internal/settlement_worker/scheduler"
	"github.com/partner-wallet-ledger/internal/transfer_saga"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("settlement_worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)

	log.Info("Starting Settlement Worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

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

	// Repositories
	walletRepo := postgres.NewWalletRepository(log, postgresDB)
	entryRepo := postgres.NewLedgerRepository(log, postgresDB)
	outboxRepo := postgres.NewOutboxRepository(log, postgresDB)
	partnerDir := postgres.NewPartnerRepository(log, postgresDB)
	schemeRepo := postgres.NewSchemeRepository(log, postgresDB)
	commissionRepo := postgres.NewCommissionRepository(log, postgresDB)
	transactionRepo := postgres.NewProviderTransactionRepository(log, postgresDB)
	leaseRepo := postgres.NewLeaseRepository(log, postgresDB)
	transferRepo := postgres.NewTransferRepository(log, postgresDB)
	statementRepo := mongo.NewStatementRepository(log, mongoDB.Database())
	if err := statementRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to prepare statement collection", "error", err)
		os.Exit(1)
	}

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
	runner := batch_runner.NewRunner(log, &cfg.Batch, transactionRepo, leaseRepo, ledgerCore, resolver, distributor)
	saga := transfer_saga.NewService(log, &cfg.Saga, transferRepo, partnerDir, ledgerCore)

	// Callback posting runs on a bounded worker pool
	poster, err := posting.NewPooledPoster(
		posting.NewService(log, transactionRepo, ledgerCore, resolver, distributor),
		posting.PoolConfig{Size: cfg.WorkerPool.Size},
		log,
	)
	if err != nil {
		log.Error("Failed to initialize posting worker pool", "error", err)
		os.Exit(1)
	}

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}

	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)
	callbackHandler := consumer.NewCallbackEventHandler(log, poster, dlqProducer)

	poller := outbox_poller.NewPoller(
		&cfg.Outbox,
		outboxRepo,
		outbox_poller.NewStatementProjector(outboxRepo, statementRepo, log),
		log,
	)

	jobs, err := scheduler.New(log, &cfg.Batch, &cfg.Saga, runner, saga)
	if err != nil {
		log.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 2)
	var wg sync.WaitGroup

	log.Info("Starting Kafka consumer",
		"topic", cfg.Kafka.CallbackTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := kafkaConsumer.Subscribe(appCtx, callbackHandler.HandleMessage); err != nil {
		log.Error("Failed to subscribe to callbacks", "error", err)
		os.Exit(1)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("Starting Outbox Poller",
			"interval", cfg.Outbox.PollingInterval.String(),
			"batch_size", cfg.Outbox.BatchSize,
		)
		poller.Start(appCtx)
	}()

	jobs.Start()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:     mux,
			ReadTimeout: cfg.Server.ReadTimeout,
		}
		go func() {
			log.Info("Serving metrics", "port", cfg.Server.Port, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case <-kafkaConsumer.Done():
		serviceErr = errors.New("kafka consumer stopped unexpectedly")
		log.Error("Service error occurred", "error", serviceErr)
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	log.Info("Starting graceful shutdown...")

	// The batch finishes its current partner group before the context goes away
	if err := jobs.Stop(); err != nil {
		log.Error("Error stopping scheduler", "error", err)
	}

	cancelAppCtx()

	log.Info("Shutting down posting pool", "running_workers", poster.Running())
	poster.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		<-kafkaConsumer.Done()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Error stopping metrics server", "error", err)
		}
	}

	if dlqProducer != nil {
		if err := dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	if err := kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	postgresDB.Close()

	if err := mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	if serviceErr != nil {
		log.Error("Settlement Worker shutdown with errors", "error", serviceErr)
		os.Exit(1)
	}
	log.Info("Settlement Worker shutdown completed successfully")
}
