package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/platform/timeutil"
)

const (
	batchJobName    = "batch_settlement"
	recoveryJobName = "transfer_compensation_recovery"
)

// BatchRunner settles captured T1 transactions
type BatchRunner interface {
	Run(ctx context.Context, cutoff time.Time, caps capability.Set) (*batch.RunResult, error)
	Stop()
}

// CompensationRecoverer retries transfer compensations that failed earlier
type CompensationRecoverer interface {
	RecoverCompensations(ctx context.Context) (int, error)
}

// Scheduler runs the daily batch settlement and the saga recovery sweep
type Scheduler struct {
	cron   gocron.Scheduler
	runner BatchRunner
	saga   CompensationRecoverer
	caps   capability.Set
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// New registers the jobs. The batch job is skipped when batch settlement is disabled.
func New(
	logger *slog.Logger,
	batchCfg *config.BatchConfig,
	sagaCfg *config.SagaConfig,
	runner BatchRunner,
	saga CompensationRecoverer,
) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron,
		runner: runner,
		saga:   saga,
		caps:   capability.System("scheduler"),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	if batchCfg.Enabled {
		at, err := timeutil.ParseClock(batchCfg.RunAt)
		if err != nil {
			cancel()
			return nil, err
		}
		if _, err := cron.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(at.Hour, at.Minute, at.Second))),
			gocron.NewTask(s.runBatch),
			gocron.WithName(batchJobName),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to register %s job: %w", batchJobName, err)
		}
		logger.Info("Scheduled batch settlement", "run_at", batchCfg.RunAt)
	}

	if _, err := cron.NewJob(
		gocron.DurationJob(sagaCfg.RecoveryInterval),
		gocron.NewTask(s.recoverCompensations),
		gocron.WithName(recoveryJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register %s job: %w", recoveryJobName, err)
	}

	return s, nil
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "jobs", len(s.cron.Jobs()))
}

// Stop asks a running batch to finish its current partner group, then
// waits for running jobs to return
func (s *Scheduler) Stop() error {
	s.runner.Stop()
	s.cancel()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) runBatch() {
	result, err := s.runner.Run(s.ctx, time.Time{}, s.caps)
	if err != nil {
		if errors.Is(err, batch.ErrConcurrentBatchRun{}) {
			s.logger.Warn("Batch settlement skipped, another run holds the lease", "error", err)
			return
		}
		s.logger.Error("Scheduled batch settlement failed", "error", err)
		return
	}
	s.logger.Info("Scheduled batch settlement finished",
		"processed", result.ProcessedCount,
		"failed", result.FailedCount,
		"held", result.HeldCount,
		"partners", result.PartnerCount,
	)
}

func (s *Scheduler) recoverCompensations() {
	recovered, err := s.saga.RecoverCompensations(s.ctx)
	if err != nil {
		s.logger.Error("Transfer compensation recovery failed", "recovered", recovered, "error", err)
		return
	}
	if recovered > 0 {
		s.logger.Info("Recovered transfer compensations", "count", recovered)
	}
}
