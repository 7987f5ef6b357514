package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

const entryColumns = `id, wallet_id, partner_id, wallet_type, fund_category, service_type, txn_type,
		credit::text, debit::text, opening_balance::text, closing_balance::text, reference_id, status,
		COALESCE(transaction_ref, ''), remarks, created_by, created_at, updated_at`

// LedgerRepository implements the ledger.Repository interface for PostgreSQL.
// Entries are append-only; only their status changes after insert.
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger entry repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts the entry. The partial unique index on (wallet_id, reference_id)
// for non-reversed rows turns a second live posting into ErrDuplicateReference.
func (r *LedgerRepository) Create(ctx context.Context, e *ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (id, wallet_id, partner_id, wallet_type, fund_category, service_type, txn_type,
			credit, debit, opening_balance, closing_balance, reference_id, status, transaction_ref, remarks,
			created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16, $17, $18)
	`

	_, err := r.querier.Exec(ctx, query,
		e.ID,
		e.WalletID,
		e.PartnerID,
		e.WalletType,
		e.FundCategory,
		e.ServiceType,
		e.TxnType,
		moneyArg(e.Credit),
		moneyArg(e.Debit),
		moneyArg(e.OpeningBalance),
		moneyArg(e.ClosingBalance),
		e.ReferenceID,
		e.Status,
		e.TransactionRef,
		e.Remarks,
		e.CreatedBy,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		if persistence.IsUniqueViolation(err) {
			return ledger.ErrDuplicateReference{WalletID: e.WalletID, Reference: e.ReferenceID}
		}
		r.logger.Error("Failed to create ledger entry",
			"wallet_id", e.WalletID.String(),
			"reference_id", e.ReferenceID,
			"error", err,
		)
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	return r.getOne(ctx, "get ledger entry", ledger.ErrEntryNotFound{EntryID: id}, query, id)
}

// LockByID reads the entry with a row lock held until the transaction ends
func (r *LedgerRepository) LockByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock ledger entry", ledger.ErrEntryNotFound{EntryID: id}, query, id)
}

// GetActiveByReference finds the live entry that owns a reference on a wallet
func (r *LedgerRepository) GetActiveByReference(ctx context.Context, walletID uuid.UUID, referenceID string) (*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1 AND reference_id = $2 AND status <> 'reversed'
	`
	return r.getOne(ctx, "get ledger entry by reference", ledger.ErrEntryNotFound{Reference: referenceID}, query, walletID, referenceID)
}

// GetByTransactionRef returns the most recent entry recorded for an external transaction
func (r *LedgerRepository) GetByTransactionRef(ctx context.Context, walletID uuid.UUID, transactionRef string) (*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1 AND transaction_ref = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, "get ledger entry by transaction ref", ledger.ErrEntryNotFound{Reference: transactionRef}, query, walletID, transactionRef)
}

func (r *LedgerRepository) ListByReferencePrefix(ctx context.Context, walletID uuid.UUID, prefix string) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1 AND starts_with(reference_id, $2)
		ORDER BY created_at ASC, id ASC
	`
	return r.list(ctx, "list ledger entries by reference prefix", query, walletID, prefix)
}

// ListByWallet pages through a wallet's entries, newest first
func (r *LedgerRepository) ListByWallet(ctx context.Context, walletID uuid.UUID, filter ledger.ListFilter) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	return r.list(ctx, "list ledger entries", query, walletID, string(filter.Status), filter.Limit, filter.Offset)
}

// ListAllByWallet returns every entry of a wallet in posting order
func (r *LedgerRepository) ListAllByWallet(ctx context.Context, walletID uuid.UUID) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return r.list(ctx, "list all ledger entries", query, walletID)
}

// UpdateStatus changes an entry's status. Transition rules are enforced by the caller.
func (r *LedgerRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status ledger.Status) error {
	query := `
		UPDATE ledger_entries
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.querier.Exec(ctx, query, status, id)
	if err != nil {
		if persistence.IsUniqueViolation(err) {
			return ledger.ErrDuplicateReference{}
		}
		r.logger.Error("Failed to update ledger entry status", "id", id.String(), "status", string(status), "error", err)
		return fmt.Errorf("failed to update ledger entry status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ledger.ErrEntryNotFound{EntryID: id}
	}

	return nil
}

func (r *LedgerRepository) getOne(ctx context.Context, op string, notFound error, query string, args ...interface{}) (*ledger.Entry, error) {
	e, err := scanEntry(r.querier.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return e, nil
}

func (r *LedgerRepository) list(ctx context.Context, op string, query string, args ...interface{}) ([]*ledger.Entry, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	entries := make([]*ledger.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			r.logger.Error("Failed to scan ledger entry", "error", err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over ledger entries", "error", err)
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}

	return entries, nil
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var e ledger.Entry
	err := row.Scan(
		&e.ID,
		&e.WalletID,
		&e.PartnerID,
		&e.WalletType,
		&e.FundCategory,
		&e.ServiceType,
		&e.TxnType,
		&e.Credit,
		&e.Debit,
		&e.OpeningBalance,
		&e.ClosingBalance,
		&e.ReferenceID,
		&e.Status,
		&e.TransactionRef,
		&e.Remarks,
		&e.CreatedBy,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
