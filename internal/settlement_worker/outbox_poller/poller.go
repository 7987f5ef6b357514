package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/outbox"
)

// Poller drains pending outbox messages into the read model
type Poller struct {
	outboxRepo       outbox.Repository
	projector        Projector
	logger           *slog.Logger
	pollInterval     time.Duration
	batchSize        int
	maxRetryAttempts int
}

func NewPoller(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	projector Projector,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		outboxRepo:       outboxRepo,
		projector:        projector,
		logger:           logger,
		pollInterval:     cfg.PollingInterval,
		batchSize:        cfg.BatchSize,
		maxRetryAttempts: cfg.MaxRetryAttempts,
	}
}

// Start polls until ctx is canceled. A full batch is followed by another
// one straight away so a posting burst does not wait out several ticks.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting outbox poller",
		"poll_interval", p.pollInterval.String(),
		"batch_size", p.batchSize,
		"max_retry_attempts", p.maxRetryAttempts,
	)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox poller stopping")
			return
		case <-ticker.C:
			p.drain(ctx)
		}
	}
}

func (p *Poller) drain(ctx context.Context) {
	for ctx.Err() == nil {
		fetched, projected, err := p.processPendingMessages(ctx)
		if err != nil {
			p.logger.Error("Failed to process pending outbox messages", "error", err)
			return
		}
		if fetched < p.batchSize || projected == 0 {
			return
		}
	}
}

// processPendingMessages projects one batch in id order, so a later snapshot
// of an entry overwrites an earlier one. It reports how many messages were
// fetched and how many were projected.
func (p *Poller) processPendingMessages(ctx context.Context) (int, int, error) {
	messages, err := p.outboxRepo.GetPending(ctx, p.batchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get pending outbox messages: %w", err)
	}

	projected := 0
	for _, msg := range messages {
		if err := p.projector.Project(ctx, msg); err != nil {
			p.recordFailure(ctx, msg, err)
			continue
		}
		projected++
	}

	if len(messages) > 0 {
		p.logger.Debug("Outbox batch processed", "fetched", len(messages), "projected", projected)
	}
	return len(messages), projected, nil
}

func (p *Poller) recordFailure(ctx context.Context, msg *outbox.Message, cause error) {
	log := p.logger.With("outbox_id", msg.ID, "entry_id", msg.EntryID)
	log.Error("Failed to project outbox message", "attempts", msg.Attempts, "error", cause)

	if err := p.outboxRepo.IncrementAttempts(ctx, msg.ID); err != nil {
		log.Error("Failed to count outbox attempt", "error", err)
		return
	}
	if !msg.RecordFailedAttempt(p.maxRetryAttempts) {
		return
	}

	log.Warn("Outbox message exhausted its retries, parking it", "attempts", msg.Attempts)
	if err := p.outboxRepo.UpdateStatus(ctx, msg.ID, msg.Status); err != nil {
		log.Error("Failed to park outbox message", "error", err)
	}
}
