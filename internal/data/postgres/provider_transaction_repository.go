package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

const providerTxnColumns = `id, external_id, partner_id, wallet_type, service_type, mode, card_type, card_brand,
		card_classification, amount::text, status, captured_at, wallet_credited, batch_ref, fee_amount::text,
		net_amount::text, rate_percent::text, scheme_id, settlement_entry_id, settled_at, created_at`

// ProviderTransactionRepository stores captured provider transactions awaiting settlement
type ProviderTransactionRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewProviderTransactionRepository creates a new PostgreSQL provider transaction repository
func NewProviderTransactionRepository(logger *slog.Logger, db *persistence.PostgresDB) batch.TransactionRepository {
	return &ProviderTransactionRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *ProviderTransactionRepository) WithTx(tx pgx.Tx) batch.TransactionRepository {
	return &ProviderTransactionRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Record inserts t unless its external id was seen before. The stored row is
// returned either way; created reports whether this call inserted it.
func (r *ProviderTransactionRepository) Record(ctx context.Context, t *batch.ProviderTransaction) (*batch.ProviderTransaction, bool, error) {
	query := `
		INSERT INTO provider_transactions (id, external_id, partner_id, wallet_type, service_type, mode, card_type,
			card_brand, card_classification, amount, status, captured_at, wallet_credited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING ` + providerTxnColumns

	stored, err := scanProviderTransaction(r.querier.QueryRow(ctx, query,
		t.ID,
		t.ExternalID,
		t.PartnerID,
		t.WalletType,
		t.ServiceType,
		t.Mode,
		t.CardType,
		t.CardBrand,
		t.CardClassification,
		moneyArg(t.Amount),
		t.Status,
		t.CapturedAt,
		t.WalletCredited,
		t.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to record provider transaction", "external_id", t.ExternalID, "error", err)
		return nil, false, fmt.Errorf("failed to record provider transaction: %w", err)
	}

	existing, err := r.GetByExternalID(ctx, t.ExternalID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *ProviderTransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*batch.ProviderTransaction, error) {
	query := `SELECT ` + providerTxnColumns + ` FROM provider_transactions WHERE external_id = $1`

	t, err := scanProviderTransaction(r.querier.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, batch.ErrTransactionNotFound{ExternalID: externalID}
		}
		r.logger.Error("Failed to get provider transaction", "external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to get provider transaction: %w", err)
	}
	return t, nil
}

// ListUnsettled returns captured rows no run has claimed, grouped by partner
func (r *ProviderTransactionRepository) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]*batch.ProviderTransaction, error) {
	query := `
		SELECT ` + providerTxnColumns + `
		FROM provider_transactions
		WHERE status = 'captured' AND NOT wallet_credited AND batch_ref IS NULL AND captured_at < $1
		ORDER BY partner_id, wallet_type, captured_at
		LIMIT $2
	`
	return r.list(ctx, "list unsettled provider transactions", query, cutoff, limit)
}

// ListClaimedUnsettled returns rows a previous run claimed but never credited
func (r *ProviderTransactionRepository) ListClaimedUnsettled(ctx context.Context, limit int) ([]*batch.ProviderTransaction, error) {
	query := `
		SELECT ` + providerTxnColumns + `
		FROM provider_transactions
		WHERE batch_ref IS NOT NULL AND NOT wallet_credited
		ORDER BY batch_ref, partner_id, wallet_type, captured_at
		LIMIT $1
	`
	return r.list(ctx, "list claimed provider transactions", query, limit)
}

// Claim stamps the run reference and fee breakdown on an unclaimed row
func (r *ProviderTransactionRepository) Claim(ctx context.Context, c batch.Claim) error {
	query := `
		UPDATE provider_transactions
		SET batch_ref = $1, fee_amount = $2, net_amount = $3, rate_percent = $4, scheme_id = $5
		WHERE id = $6 AND batch_ref IS NULL AND NOT wallet_credited
	`

	result, err := r.querier.Exec(ctx, query,
		c.BatchRef,
		moneyArg(c.FeeAmount),
		moneyArg(c.NetAmount),
		c.RatePercent.String(),
		c.SchemeID,
		c.TransactionID,
	)
	if err != nil {
		r.logger.Error("Failed to claim provider transaction", "id", c.TransactionID.String(), "error", err)
		return fmt.Errorf("failed to claim provider transaction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return batch.ErrAlreadyClaimed{TransactionID: c.TransactionID}
	}

	return nil
}

// MarkSettled links the rows to the ledger credit that paid them
func (r *ProviderTransactionRepository) MarkSettled(ctx context.Context, ids []uuid.UUID, entryID uuid.UUID, settledAt time.Time) error {
	query := `
		UPDATE provider_transactions
		SET wallet_credited = TRUE, settlement_entry_id = $1, settled_at = $2
		WHERE id = ANY($3) AND NOT wallet_credited
	`

	result, err := r.querier.Exec(ctx, query, entryID, settledAt, ids)
	if err != nil {
		r.logger.Error("Failed to mark provider transactions settled", "entry_id", entryID.String(), "count", len(ids), "error", err)
		return fmt.Errorf("failed to mark provider transactions settled: %w", err)
	}

	if int(result.RowsAffected()) != len(ids) {
		r.logger.Warn("Some provider transactions were already settled",
			"entry_id", entryID.String(),
			"expected", len(ids),
			"updated", result.RowsAffected(),
		)
	}

	return nil
}

func (r *ProviderTransactionRepository) list(ctx context.Context, op string, query string, args ...interface{}) ([]*batch.ProviderTransaction, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	txns := make([]*batch.ProviderTransaction, 0)
	for rows.Next() {
		t, err := scanProviderTransaction(rows)
		if err != nil {
			r.logger.Error("Failed to scan provider transaction", "error", err)
			return nil, fmt.Errorf("failed to scan provider transaction: %w", err)
		}
		txns = append(txns, t)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over provider transactions", "error", err)
		return nil, fmt.Errorf("error iterating over provider transactions: %w", err)
	}

	return txns, nil
}

func scanProviderTransaction(row rowScanner) (*batch.ProviderTransaction, error) {
	var (
		t                 batch.ProviderTransaction
		fee, net, ratePct decimal.NullDecimal
	)
	err := row.Scan(
		&t.ID,
		&t.ExternalID,
		&t.PartnerID,
		&t.WalletType,
		&t.ServiceType,
		&t.Mode,
		&t.CardType,
		&t.CardBrand,
		&t.CardClassification,
		&t.Amount,
		&t.Status,
		&t.CapturedAt,
		&t.WalletCredited,
		&t.BatchRef,
		&fee,
		&net,
		&ratePct,
		&t.SchemeID,
		&t.SettlementEntryID,
		&t.SettledAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.FeeAmount = nullableMoney(fee)
	t.NetAmount = nullableMoney(net)
	t.RatePercent = nullableMoney(ratePct)
	return &t, nil
}
