// Package postgres provides PostgreSQL implementations of the domain repositories.
// Every repository can be bound to a transaction with WithTx so a service can
// compose several of them into one unit of work.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

const walletColumns = `id, partner_id, wallet_type, balance::text, held_amount::text, reserved_amount::text,
		is_frozen, is_settlement_held, is_active, version, created_at, updated_at`

// WalletRepository implements the wallet.Repository interface for PostgreSQL
type WalletRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewWalletRepository creates a new PostgreSQL wallet repository
func NewWalletRepository(logger *slog.Logger, db *persistence.PostgresDB) wallet.Repository {
	return &WalletRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository that runs every statement on tx
func (r *WalletRepository) WithTx(tx pgx.Tx) wallet.Repository {
	return &WalletRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create inserts the wallet. A concurrent creation for the same partner and
// type is absorbed by the unique key; callers re-read with LockByRef.
func (r *WalletRepository) Create(ctx context.Context, w *wallet.Wallet) error {
	query := `
		INSERT INTO wallets (id, partner_id, wallet_type, balance, held_amount, reserved_amount,
			is_frozen, is_settlement_held, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (partner_id, wallet_type) DO NOTHING
	`

	_, err := r.querier.Exec(ctx, query,
		w.ID,
		w.PartnerID,
		w.Type,
		moneyArg(w.Balance),
		moneyArg(w.HeldAmount),
		moneyArg(w.ReservedAmount),
		w.IsFrozen,
		w.IsSettlementHeld,
		w.IsActive,
		w.Version,
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create wallet", "partner_id", w.PartnerID.String(), "wallet_type", string(w.Type), "error", err)
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// GetByID retrieves a wallet by its ID
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	return r.getOne(ctx, "get wallet", wallet.ErrWalletNotFound{ID: id}, query, id)
}

// GetByRef retrieves the wallet of a partner by type
func (r *WalletRepository) GetByRef(ctx context.Context, ref wallet.Ref) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE partner_id = $1 AND wallet_type = $2`
	return r.getOne(ctx, "get wallet by ref", wallet.ErrWalletNotFound{Ref: ref}, query, ref.PartnerID, ref.Type)
}

// LockByRef reads the wallet with a row lock held until the transaction ends
func (r *WalletRepository) LockByRef(ctx context.Context, ref wallet.Ref) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE partner_id = $1 AND wallet_type = $2 FOR UPDATE`
	return r.getOne(ctx, "lock wallet", wallet.ErrWalletNotFound{Ref: ref}, query, ref.PartnerID, ref.Type)
}

// LockByID reads the wallet with a row lock held until the transaction ends
func (r *WalletRepository) LockByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "lock wallet", wallet.ErrWalletNotFound{ID: id}, query, id)
}

// UpdateBalances writes the materialized balances. The wallet version must
// already have been bumped by Touch.
func (r *WalletRepository) UpdateBalances(ctx context.Context, w *wallet.Wallet) error {
	query := `
		UPDATE wallets
		SET balance = $1, held_amount = $2, reserved_amount = $3, version = $4, updated_at = $5
		WHERE id = $6 AND version = $7
	`

	result, err := r.querier.Exec(ctx, query,
		moneyArg(w.Balance),
		moneyArg(w.HeldAmount),
		moneyArg(w.ReservedAmount),
		w.Version,
		w.UpdatedAt,
		w.ID,
		w.Version-1,
	)
	if err != nil {
		r.logger.Error("Failed to update wallet balances", "id", w.ID.String(), "error", err)
		return fmt.Errorf("failed to update wallet balances: %w", err)
	}

	if result.RowsAffected() == 0 {
		return wallet.ErrConcurrentModification{WalletID: w.ID}
	}

	return nil
}

// UpdateFlags writes the administrative flags with the same version check as UpdateBalances
func (r *WalletRepository) UpdateFlags(ctx context.Context, w *wallet.Wallet) error {
	query := `
		UPDATE wallets
		SET is_frozen = $1, is_settlement_held = $2, is_active = $3, version = $4, updated_at = $5
		WHERE id = $6 AND version = $7
	`

	result, err := r.querier.Exec(ctx, query,
		w.IsFrozen,
		w.IsSettlementHeld,
		w.IsActive,
		w.Version,
		w.UpdatedAt,
		w.ID,
		w.Version-1,
	)
	if err != nil {
		r.logger.Error("Failed to update wallet flags", "id", w.ID.String(), "error", err)
		return fmt.Errorf("failed to update wallet flags: %w", err)
	}

	if result.RowsAffected() == 0 {
		return wallet.ErrConcurrentModification{WalletID: w.ID}
	}

	return nil
}

func (r *WalletRepository) getOne(ctx context.Context, op string, notFound error, query string, args ...interface{}) (*wallet.Wallet, error) {
	w, err := scanWallet(r.querier.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	return w, nil
}

func scanWallet(row rowScanner) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := row.Scan(
		&w.ID,
		&w.PartnerID,
		&w.Type,
		&w.Balance,
		&w.HeldAmount,
		&w.ReservedAmount,
		&w.IsFrozen,
		&w.IsSettlementHeld,
		&w.IsActive,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
