package commission

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages commission entries and their adjustment audit trail
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Entry, error)
	GetByTransactionAndBeneficiary(ctx context.Context, transactionID string, beneficiaryID uuid.UUID) (*Entry, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*Entry, error)
	// Update persists amount and lock changes, failing on a stale version
	Update(ctx context.Context, e *Entry) error
	CreateAdjustment(ctx context.Context, a *Adjustment) error
	ListAdjustments(ctx context.Context, commissionID uuid.UUID) ([]*Adjustment, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrCommissionNotFound indicates a missing commission entry
type ErrCommissionNotFound struct {
	ID uuid.UUID
}

func (e ErrCommissionNotFound) Error() string {
	return "commission entry not found: " + e.ID.String()
}

func (e ErrCommissionNotFound) Is(target error) bool {
	t, ok := target.(ErrCommissionNotFound)
	if !ok {
		return false
	}
	return t.ID == uuid.Nil || t.ID == e.ID
}

// ErrConcurrentModification indicates the entry changed since it was read
type ErrConcurrentModification struct {
	ID uuid.UUID
}

func (e ErrConcurrentModification) Error() string {
	return "concurrent modification of commission entry: " + e.ID.String()
}
