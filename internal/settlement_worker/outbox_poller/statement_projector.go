package outbox_poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/outbox"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// Projector applies one outbox message to a read model
type Projector interface {
	Project(ctx context.Context, message *outbox.Message) error
}

// StatementProjector keeps the statement read model in step with ledger entries
type StatementProjector struct {
	outboxRepo outbox.Repository
	statements ledger.StatementRepository
	logger     *slog.Logger
}

// NewStatementProjector creates a new projector
func NewStatementProjector(
	outboxRepo outbox.Repository,
	statements ledger.StatementRepository,
	logger *slog.Logger,
) *StatementProjector {
	return &StatementProjector{
		outboxRepo: outboxRepo,
		statements: statements,
		logger:     logger,
	}
}

// Project upserts the entry snapshot carried by the message and marks the
// message processed. Snapshots are full rows, so replaying one is harmless.
func (p *StatementProjector) Project(ctx context.Context, message *outbox.Message) error {
	entry, err := message.LedgerEntry()
	if err != nil {
		p.logger.Error("Failed to decode ledger entry from outbox payload",
			"outbox_id", message.ID, "entry_id", message.EntryID, "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to mark undecodable outbox message", "outbox_id", message.ID, "update_error", updateErr)
		}
		return fmt.Errorf("decode payload for outbox %d failed: %w", message.ID, err)
	}

	if err := p.statements.Upsert(ctx, ledger.LineFromEntry(entry)); err != nil {
		p.logger.Error("Failed to upsert statement line",
			"outbox_id", message.ID, "entry_id", entry.ID, "event_type", message.EventType, "error", err,
		)
		return fmt.Errorf("failed to upsert statement line %s: %w", entry.ID, err)
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		p.logger.Error("Failed to mark outbox message processed", "outbox_id", message.ID, "entry_id", entry.ID, "error", err)
		return fmt.Errorf("statement line %s written, but failed to mark outbox %d processed: %w", entry.ID, message.ID, err)
	}

	p.logger.Debug("Projected ledger entry into statement",
		"outbox_id", message.ID,
		"entry_id", entry.ID,
		"event_type", message.EventType,
		"status", entry.Status,
	)
	return nil
}
