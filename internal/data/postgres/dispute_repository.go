package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/dispute"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

const disputeColumns = `id, transaction_ref, ledger_entry_id, partner_id, wallet_type, status, reason,
		resolution, raised_by, created_at, updated_at, closed_at`

// DisputeRepository implements the dispute.Repository interface for PostgreSQL
type DisputeRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewDisputeRepository creates a new PostgreSQL dispute repository
func NewDisputeRepository(logger *slog.Logger, db *persistence.PostgresDB) dispute.Repository {
	return &DisputeRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *DisputeRepository) WithTx(tx pgx.Tx) dispute.Repository {
	return &DisputeRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts an open dispute. The partial unique index over active
// disputes rejects a second one for the same transaction.
func (r *DisputeRepository) Create(ctx context.Context, d *dispute.Dispute) error {
	query := `
		INSERT INTO disputes (id, transaction_ref, ledger_entry_id, partner_id, wallet_type, status, reason,
			resolution, raised_by, created_at, updated_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.querier.Exec(ctx, query,
		d.ID,
		d.TransactionRef,
		d.LedgerEntryID,
		d.PartnerID,
		d.WalletType,
		d.Status,
		d.Reason,
		d.Resolution,
		d.RaisedBy,
		d.CreatedAt,
		d.UpdatedAt,
		d.ClosedAt,
	)
	if err != nil {
		if persistence.IsUniqueViolation(err) {
			return dispute.ErrActiveDispute{TransactionRef: d.TransactionRef}
		}
		r.logger.Error("Failed to create dispute", "transaction_ref", d.TransactionRef, "error", err)
		return fmt.Errorf("failed to create dispute: %w", err)
	}

	return nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*dispute.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	return r.getOne(ctx, "get dispute", dispute.ErrDisputeNotFound{ID: id}, query, id)
}

// LockByID reads the dispute with a row lock held until the transaction ends
func (r *DisputeRepository) LockByID(ctx context.Context, id uuid.UUID) (*dispute.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock dispute", dispute.ErrDisputeNotFound{ID: id}, query, id)
}

func (r *DisputeRepository) GetActiveByTransaction(ctx context.Context, transactionRef string) (*dispute.Dispute, error) {
	query := `
		SELECT ` + disputeColumns + `
		FROM disputes
		WHERE transaction_ref = $1 AND status IN ('open', 'hold')
	`
	return r.getOne(ctx, "get active dispute", dispute.ErrDisputeNotFound{}, query, transactionRef)
}

// Update writes the dispute's status and resolution
func (r *DisputeRepository) Update(ctx context.Context, d *dispute.Dispute) error {
	query := `
		UPDATE disputes
		SET status = $1, resolution = $2, updated_at = $3, closed_at = $4
		WHERE id = $5
	`

	result, err := r.querier.Exec(ctx, query, d.Status, d.Resolution, d.UpdatedAt, d.ClosedAt, d.ID)
	if err != nil {
		r.logger.Error("Failed to update dispute", "id", d.ID.String(), "status", string(d.Status), "error", err)
		return fmt.Errorf("failed to update dispute: %w", err)
	}

	if result.RowsAffected() == 0 {
		return dispute.ErrDisputeNotFound{ID: d.ID}
	}

	return nil
}

func (r *DisputeRepository) getOne(ctx context.Context, op string, notFound error, query string, args ...interface{}) (*dispute.Dispute, error) {
	var d dispute.Dispute
	err := r.querier.QueryRow(ctx, query, args...).Scan(
		&d.ID,
		&d.TransactionRef,
		&d.LedgerEntryID,
		&d.PartnerID,
		&d.WalletType,
		&d.Status,
		&d.Reason,
		&d.Resolution,
		&d.RaisedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ClosedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return &d, nil
}
