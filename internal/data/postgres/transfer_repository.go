package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/transfer"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

const transferColumns = `id, kind, source_partner_id, source_wallet_type, destination_partner_id, destination_wallet_type,
		amount::text, state, remarks, initiated_by, debit_entry_id, credit_entry_id, compensation_entry_id,
		last_error, attempts, created_at, updated_at`

// TransferRepository persists the transfer saga log. Saga steps commit
// independently, so it always runs against the pool.
type TransferRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewTransferRepository creates a new PostgreSQL transfer repository
func NewTransferRepository(logger *slog.Logger, db *persistence.PostgresDB) transfer.Repository {
	return &TransferRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *TransferRepository) Create(ctx context.Context, t *transfer.Transfer) error {
	query := `
		INSERT INTO transfers (id, kind, source_partner_id, source_wallet_type, destination_partner_id,
			destination_wallet_type, amount, state, remarks, initiated_by, debit_entry_id, credit_entry_id,
			compensation_entry_id, last_error, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.querier.Exec(ctx, query,
		t.ID,
		t.Kind,
		t.Source.PartnerID,
		t.Source.Type,
		t.Destination.PartnerID,
		t.Destination.Type,
		moneyArg(t.Amount),
		t.State,
		t.Remarks,
		t.InitiatedBy,
		t.DebitEntryID,
		t.CreditEntryID,
		t.CompensationEntryID,
		t.LastError,
		t.Attempts,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create transfer", "id", t.ID.String(), "error", err)
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	return nil
}

func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`

	t, err := scanTransfer(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transfer.ErrTransferNotFound{ID: id}
		}
		r.logger.Error("Failed to get transfer", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) Update(ctx context.Context, t *transfer.Transfer) error {
	query := `
		UPDATE transfers
		SET state = $1, debit_entry_id = $2, credit_entry_id = $3, compensation_entry_id = $4,
			last_error = $5, attempts = $6, updated_at = $7
		WHERE id = $8
	`

	result, err := r.querier.Exec(ctx, query,
		t.State,
		t.DebitEntryID,
		t.CreditEntryID,
		t.CompensationEntryID,
		t.LastError,
		t.Attempts,
		t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update transfer", "id", t.ID.String(), "state", t.State, "error", err)
		return fmt.Errorf("failed to update transfer: %w", err)
	}

	if result.RowsAffected() == 0 {
		return transfer.ErrTransferNotFound{ID: t.ID}
	}

	return nil
}

func (r *TransferRepository) ListByState(ctx context.Context, state transfer.State, limit int) ([]*transfer.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE state = $1 ORDER BY updated_at LIMIT $2`

	rows, err := r.querier.Query(ctx, query, state, limit)
	if err != nil {
		r.logger.Error("Failed to list transfers", "state", state, "error", err)
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]*transfer.Transfer, 0)
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			r.logger.Error("Failed to scan transfer", "error", err)
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transfers: %w", err)
	}

	return transfers, nil
}

func scanTransfer(row rowScanner) (*transfer.Transfer, error) {
	var t transfer.Transfer
	err := row.Scan(
		&t.ID,
		&t.Kind,
		&t.Source.PartnerID,
		&t.Source.Type,
		&t.Destination.PartnerID,
		&t.Destination.Type,
		&t.Amount,
		&t.State,
		&t.Remarks,
		&t.InitiatedBy,
		&t.DebitEntryID,
		&t.CreditEntryID,
		&t.CompensationEntryID,
		&t.LastError,
		&t.Attempts,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
