package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ListFilter narrows a wallet's entry listing
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Repository manages ledger entry persistence. Entries are never deleted.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	// GetActiveByReference returns the non-reversed entry for the reference, if any
	GetActiveByReference(ctx context.Context, walletID uuid.UUID, referenceID string) (*Entry, error)
	GetByTransactionRef(ctx context.Context, walletID uuid.UUID, transactionRef string) (*Entry, error)
	ListByReferencePrefix(ctx context.Context, walletID uuid.UUID, prefix string) ([]*Entry, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, filter ListFilter) ([]*Entry, error)
	ListAllByWallet(ctx context.Context, walletID uuid.UUID) ([]*Entry, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	WithTx(tx pgx.Tx) Repository
}

// ErrEntryNotFound indicates a missing ledger entry
type ErrEntryNotFound struct {
	EntryID   uuid.UUID
	Reference string
}

func (e ErrEntryNotFound) Error() string {
	if e.Reference != "" {
		return "ledger entry not found: " + e.Reference
	}
	return "ledger entry not found: " + e.EntryID.String()
}

// Is matches any ErrEntryNotFound when the target carries no identity
func (e ErrEntryNotFound) Is(target error) bool {
	t, ok := target.(ErrEntryNotFound)
	if !ok {
		return false
	}
	if t.EntryID == uuid.Nil && t.Reference == "" {
		return true
	}
	return e.EntryID == t.EntryID && e.Reference == t.Reference
}

// ErrDuplicateReference indicates the (wallet, reference) pair already has a live entry
type ErrDuplicateReference struct {
	WalletID  uuid.UUID
	Reference string
}

func (e ErrDuplicateReference) Error() string {
	return fmt.Sprintf("duplicate reference %q on wallet %s", e.Reference, e.WalletID)
}

// Is matches any ErrDuplicateReference when the target reference is empty
func (e ErrDuplicateReference) Is(target error) bool {
	t, ok := target.(ErrDuplicateReference)
	if !ok {
		return false
	}
	return t.Reference == "" || (e.Reference == t.Reference && e.WalletID == t.WalletID)
}

// ErrInvalidTransition indicates a forbidden status change
type ErrInvalidTransition struct {
	From Status
	To   Status
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid ledger entry transition from %s to %s", e.From, e.To)
}

func (e ErrInvalidTransition) Is(target error) bool {
	_, ok := target.(ErrInvalidTransition)
	return ok
}
