package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

const settlementColumns = `id, partner_id, wallet_id, wallet_type, amount::text, mode, status, ledger_entry_id,
		reversal_entry_id, payout_reference, failure_reason, attempts, requested_by, created_at, updated_at`

// SettlementRepository implements the settlement.Repository interface for PostgreSQL
type SettlementRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewSettlementRepository creates a new PostgreSQL settlement repository
func NewSettlementRepository(logger *slog.Logger, db *persistence.PostgresDB) settlement.Repository {
	return &SettlementRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *SettlementRepository) WithTx(tx pgx.Tx) settlement.Repository {
	return &SettlementRepository{
		querier: tx,
		logger:  r.logger,
	}
}

func (r *SettlementRepository) Create(ctx context.Context, s *settlement.Settlement) error {
	query := `
		INSERT INTO settlements (id, partner_id, wallet_id, wallet_type, amount, mode, status, ledger_entry_id,
			reversal_entry_id, payout_reference, failure_reason, attempts, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.querier.Exec(ctx, query,
		s.ID,
		s.PartnerID,
		s.WalletID,
		s.WalletType,
		moneyArg(s.Amount),
		s.Mode,
		s.Status,
		s.LedgerEntryID,
		s.ReversalEntryID,
		s.PayoutReference,
		s.FailureReason,
		s.Attempts,
		s.RequestedBy,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create settlement", "id", s.ID.String(), "partner_id", s.PartnerID.String(), "error", err)
		return fmt.Errorf("failed to create settlement: %w", err)
	}

	return nil
}

func (r *SettlementRepository) GetByID(ctx context.Context, id uuid.UUID) (*settlement.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1`
	return r.getOne(ctx, "get settlement", id, query)
}

// LockByID reads the settlement with a row lock held until the transaction ends
func (r *SettlementRepository) LockByID(ctx context.Context, id uuid.UUID) (*settlement.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock settlement", id, query)
}

// Update writes the mutable life-cycle fields. Callers hold the row lock.
func (r *SettlementRepository) Update(ctx context.Context, s *settlement.Settlement) error {
	query := `
		UPDATE settlements
		SET status = $1, reversal_entry_id = $2, payout_reference = $3, failure_reason = $4,
			attempts = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := r.querier.Exec(ctx, query,
		s.Status,
		s.ReversalEntryID,
		s.PayoutReference,
		s.FailureReason,
		s.Attempts,
		s.UpdatedAt,
		s.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update settlement", "id", s.ID.String(), "status", string(s.Status), "error", err)
		return fmt.Errorf("failed to update settlement: %w", err)
	}

	if result.RowsAffected() == 0 {
		return settlement.ErrSettlementNotFound{ID: s.ID}
	}

	return nil
}

// ListByPartner pages through a partner's settlements, newest first
func (r *SettlementRepository) ListByPartner(ctx context.Context, partnerID uuid.UUID, limit, offset int) ([]*settlement.Settlement, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlements
		WHERE partner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, "list settlements", query, partnerID, limit, offset)
}

// ListOpenByWallet returns settlements of the wallet that are still waiting for payout
func (r *SettlementRepository) ListOpenByWallet(ctx context.Context, walletID uuid.UUID) ([]*settlement.Settlement, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlements
		WHERE wallet_id = $1 AND status IN ('pending', 'failed')
		ORDER BY created_at ASC
	`
	return r.list(ctx, "list open settlements", query, walletID)
}

func (r *SettlementRepository) getOne(ctx context.Context, op string, id uuid.UUID, query string) (*settlement.Settlement, error) {
	s, err := scanSettlement(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settlement.ErrSettlementNotFound{ID: id}
		}
		r.logger.Error("Failed to "+op, "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return s, nil
}

func (r *SettlementRepository) list(ctx context.Context, op string, query string, args ...interface{}) ([]*settlement.Settlement, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	settlements := make([]*settlement.Settlement, 0)
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			r.logger.Error("Failed to scan settlement", "error", err)
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, s)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over settlements", "error", err)
		return nil, fmt.Errorf("error iterating over settlements: %w", err)
	}

	return settlements, nil
}

func scanSettlement(row rowScanner) (*settlement.Settlement, error) {
	var s settlement.Settlement
	err := row.Scan(
		&s.ID,
		&s.PartnerID,
		&s.WalletID,
		&s.WalletType,
		&s.Amount,
		&s.Mode,
		&s.Status,
		&s.LedgerEntryID,
		&s.ReversalEntryID,
		&s.PayoutReference,
		&s.FailureReason,
		&s.Attempts,
		&s.RequestedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
