package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

const commissionColumns = `id, transaction_id, source_partner_id, beneficiary_id, beneficiary_role,
		fee_amount::text, original_amount::text, amount::text, is_locked, ledger_entry_id, version, created_at, updated_at`

// CommissionRepository implements the commission.Repository interface for PostgreSQL
type CommissionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewCommissionRepository creates a new PostgreSQL commission repository
func NewCommissionRepository(logger *slog.Logger, db *persistence.PostgresDB) commission.Repository {
	return &CommissionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *CommissionRepository) WithTx(tx pgx.Tx) commission.Repository {
	return &CommissionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts a commission entry. The (transaction_id, beneficiary_id) key
// makes a second distribution of the same transaction fail.
func (r *CommissionRepository) Create(ctx context.Context, e *commission.Entry) error {
	query := `
		INSERT INTO commission_entries (id, transaction_id, source_partner_id, beneficiary_id, beneficiary_role,
			fee_amount, original_amount, amount, is_locked, ledger_entry_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.querier.Exec(ctx, query,
		e.ID,
		e.TransactionID,
		e.SourcePartnerID,
		e.BeneficiaryID,
		e.BeneficiaryRole,
		moneyArg(e.FeeAmount),
		moneyArg(e.OriginalAmount),
		moneyArg(e.Amount),
		e.IsLocked,
		e.LedgerEntryID,
		e.Version,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create commission entry",
			"transaction_id", e.TransactionID,
			"beneficiary_id", e.BeneficiaryID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create commission entry: %w", err)
	}

	return nil
}

func (r *CommissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*commission.Entry, error) {
	query := `SELECT ` + commissionColumns + ` FROM commission_entries WHERE id = $1`
	return r.getOne(ctx, "get commission entry", commission.ErrCommissionNotFound{ID: id}, query, id)
}

// LockByID reads the entry with a row lock held until the transaction ends
func (r *CommissionRepository) LockByID(ctx context.Context, id uuid.UUID) (*commission.Entry, error) {
	query := `SELECT ` + commissionColumns + ` FROM commission_entries WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock commission entry", commission.ErrCommissionNotFound{ID: id}, query, id)
}

func (r *CommissionRepository) GetByTransactionAndBeneficiary(ctx context.Context, transactionID string, beneficiaryID uuid.UUID) (*commission.Entry, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM commission_entries
		WHERE transaction_id = $1 AND beneficiary_id = $2
	`
	return r.getOne(ctx, "get commission entry by beneficiary", commission.ErrCommissionNotFound{}, query, transactionID, beneficiaryID)
}

func (r *CommissionRepository) ListByTransaction(ctx context.Context, transactionID string) ([]*commission.Entry, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM commission_entries
		WHERE transaction_id = $1
		ORDER BY created_at ASC, beneficiary_role ASC
	`

	rows, err := r.querier.Query(ctx, query, transactionID)
	if err != nil {
		r.logger.Error("Failed to list commission entries", "transaction_id", transactionID, "error", err)
		return nil, fmt.Errorf("failed to list commission entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*commission.Entry, 0)
	for rows.Next() {
		e, err := scanCommission(rows)
		if err != nil {
			r.logger.Error("Failed to scan commission entry", "error", err)
			return nil, fmt.Errorf("failed to scan commission entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over commission entries", "error", err)
		return nil, fmt.Errorf("error iterating over commission entries: %w", err)
	}

	return entries, nil
}

// Update persists amount and lock changes. e.Version must already be bumped.
func (r *CommissionRepository) Update(ctx context.Context, e *commission.Entry) error {
	query := `
		UPDATE commission_entries
		SET amount = $1, is_locked = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6
	`

	result, err := r.querier.Exec(ctx, query,
		moneyArg(e.Amount),
		e.IsLocked,
		e.Version,
		e.UpdatedAt,
		e.ID,
		e.Version-1,
	)
	if err != nil {
		r.logger.Error("Failed to update commission entry", "id", e.ID.String(), "error", err)
		return fmt.Errorf("failed to update commission entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return commission.ErrConcurrentModification{ID: e.ID}
	}

	return nil
}

// CreateAdjustment appends to the adjustment audit trail
func (r *CommissionRepository) CreateAdjustment(ctx context.Context, a *commission.Adjustment) error {
	query := `
		INSERT INTO commission_adjustments (id, commission_id, adjusted_by, old_amount, new_amount, delta,
			reason, ledger_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.querier.Exec(ctx, query,
		a.ID,
		a.CommissionID,
		a.AdjustedBy,
		moneyArg(a.OldAmount),
		moneyArg(a.NewAmount),
		moneyArg(a.Delta),
		a.Reason,
		a.LedgerEntryID,
		a.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create commission adjustment", "commission_id", a.CommissionID.String(), "error", err)
		return fmt.Errorf("failed to create commission adjustment: %w", err)
	}

	return nil
}

func (r *CommissionRepository) ListAdjustments(ctx context.Context, commissionID uuid.UUID) ([]*commission.Adjustment, error) {
	query := `
		SELECT id, commission_id, adjusted_by, old_amount::text, new_amount::text, delta::text,
			reason, ledger_entry_id, created_at
		FROM commission_adjustments
		WHERE commission_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.querier.Query(ctx, query, commissionID)
	if err != nil {
		r.logger.Error("Failed to list commission adjustments", "commission_id", commissionID.String(), "error", err)
		return nil, fmt.Errorf("failed to list commission adjustments: %w", err)
	}
	defer rows.Close()

	adjustments := make([]*commission.Adjustment, 0)
	for rows.Next() {
		var a commission.Adjustment
		if err := rows.Scan(&a.ID, &a.CommissionID, &a.AdjustedBy, &a.OldAmount, &a.NewAmount, &a.Delta,
			&a.Reason, &a.LedgerEntryID, &a.CreatedAt); err != nil {
			r.logger.Error("Failed to scan commission adjustment", "error", err)
			return nil, fmt.Errorf("failed to scan commission adjustment: %w", err)
		}
		adjustments = append(adjustments, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over commission adjustments: %w", err)
	}

	return adjustments, nil
}

func (r *CommissionRepository) getOne(ctx context.Context, op string, notFound error, query string, args ...interface{}) (*commission.Entry, error) {
	e, err := scanCommission(r.querier.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return e, nil
}

func scanCommission(row rowScanner) (*commission.Entry, error) {
	var e commission.Entry
	err := row.Scan(
		&e.ID,
		&e.TransactionID,
		&e.SourcePartnerID,
		&e.BeneficiaryID,
		&e.BeneficiaryRole,
		&e.FeeAmount,
		&e.OriginalAmount,
		&e.Amount,
		&e.IsLocked,
		&e.LedgerEntryID,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
