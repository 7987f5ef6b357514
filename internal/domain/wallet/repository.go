package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages wallet persistence
type Repository interface {
	// Create inserts the wallet unless one already exists for the same partner and type
	Create(ctx context.Context, w *Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*Wallet, error)
	GetByRef(ctx context.Context, ref Ref) (*Wallet, error)
	// LockByRef and LockByID take a row lock and must run inside a transaction
	LockByRef(ctx context.Context, ref Ref) (*Wallet, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Wallet, error)
	UpdateBalances(ctx context.Context, w *Wallet) error
	UpdateFlags(ctx context.Context, w *Wallet) error
	WithTx(tx pgx.Tx) Repository
}

// ErrWalletNotFound indicates a missing or inactive wallet
type ErrWalletNotFound struct {
	Ref Ref
	ID  uuid.UUID
}

func (e ErrWalletNotFound) Error() string {
	if e.ID != uuid.Nil {
		return "wallet not found: " + e.ID.String()
	}
	return "wallet not found: " + e.Ref.String()
}

// Is matches any ErrWalletNotFound when the target carries no identity
func (e ErrWalletNotFound) Is(target error) bool {
	t, ok := target.(ErrWalletNotFound)
	if !ok {
		return false
	}
	if t.ID == uuid.Nil && t.Ref == (Ref{}) {
		return true
	}
	return e.ID == t.ID && e.Ref == t.Ref
}

// ErrConcurrentModification indicates the wallet changed between read and update
type ErrConcurrentModification struct {
	WalletID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification of wallet: " + e.WalletID.String()
}
