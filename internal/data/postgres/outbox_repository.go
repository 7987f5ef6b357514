package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/outbox"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

const outboxColumns = `id, entry_id, wallet_id, event_type, payload, status, attempts, created_at, last_attempt_at`

// OutboxRepository stores ledger entry snapshots awaiting projection
type OutboxRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

var _ outbox.Repository = (*OutboxRepository)(nil)

func NewOutboxRepository(logger *slog.Logger, db *persistence.PostgresDB) *OutboxRepository {
	return &OutboxRepository{querier: db.Pool(), logger: logger}
}

func (r *OutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	return &OutboxRepository{querier: tx, logger: r.logger}
}

func (r *OutboxRepository) Create(ctx context.Context, m *outbox.Message) error {
	err := r.querier.QueryRow(ctx, `
		INSERT INTO ledger_outbox (entry_id, wallet_id, event_type, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		m.EntryID, m.WalletID, m.EventType, m.Payload, m.Status, m.Attempts, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		r.logger.Error("Outbox insert failed", "entry_id", m.EntryID.String(), "event_type", string(m.EventType), "error", err)
		return fmt.Errorf("insert outbox message for entry %s: %w", m.EntryID, err)
	}
	return nil
}

// GetPending returns pending snapshots in id order so a wallet's statement
// is rebuilt in the order its entries changed
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Message, error) {
	rows, err := r.querier.Query(ctx,
		`SELECT `+outboxColumns+` FROM ledger_outbox WHERE status = $1 ORDER BY id LIMIT $2`,
		shared.OutboxStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, scanOutboxMessage)
	if err != nil {
		r.logger.Error("Reading pending outbox messages failed", "error", err)
		return nil, fmt.Errorf("read pending outbox messages: %w", err)
	}
	return messages, nil
}

func scanOutboxMessage(row pgx.CollectableRow) (*outbox.Message, error) {
	var m outbox.Message
	err := row.Scan(&m.ID, &m.EntryID, &m.WalletID, &m.EventType, &m.Payload,
		&m.Status, &m.Attempts, &m.CreatedAt, &m.LastAttemptAt)
	return &m, err
}

func (r *OutboxRepository) UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error {
	return r.touch(ctx, id, "status "+string(status),
		`UPDATE ledger_outbox SET status = $1, last_attempt_at = NOW() WHERE id = $2`, status, id)
}

func (r *OutboxRepository) IncrementAttempts(ctx context.Context, id int64) error {
	return r.touch(ctx, id, "attempt count",
		`UPDATE ledger_outbox SET attempts = attempts + 1, last_attempt_at = NOW() WHERE id = $1`, id)
}

// touch runs a single-row update and maps a missed row to ErrMessageNotFound
func (r *OutboxRepository) touch(ctx context.Context, id int64, what, query string, args ...interface{}) error {
	tag, err := r.querier.Exec(ctx, query, args...)
	if err != nil {
		r.logger.Error("Outbox update failed", "id", id, "field", what, "error", err)
		return fmt.Errorf("update outbox message %d %s: %w", id, what, err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrMessageNotFound{ID: id}
	}
	return nil
}
