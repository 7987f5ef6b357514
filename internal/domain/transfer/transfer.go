package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/shopspring/decimal"
)

// Kind is the direction of a fund transfer within the hierarchy
type Kind string

const (
	KindPush Kind = "push"
	KindPull Kind = "pull"
)

// State is the saga position of a transfer
type State string

const (
	StateStarted            State = "started"
	StateDebited            State = "debited"
	StateCompleted          State = "completed"
	StateCompensating       State = "compensating"
	StateCompensated        State = "compensated"
	StateCompensationFailed State = "compensation_failed"
	// StateFailed means the first step never moved money
	StateFailed State = "failed"
)

var transitions = map[State][]State{
	StateStarted:            {StateDebited, StateFailed},
	StateDebited:            {StateCompleted, StateCompensating},
	StateCompensating:       {StateCompensated, StateCompensationFailed},
	StateCompensationFailed: {StateCompensating},
}

// IsTerminal reports whether the saga has finished
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCompensated || s == StateFailed
}

var ErrSameWallet = errors.New("transfer source and destination must differ")

// Transfer is the persisted log of a two-step cross-wallet transfer saga
type Transfer struct {
	ID                  uuid.UUID       `json:"id"`
	Kind                Kind            `json:"kind"`
	Source              wallet.Ref      `json:"source"`
	Destination         wallet.Ref      `json:"destination"`
	Amount              decimal.Decimal `json:"amount"`
	State               State           `json:"state"`
	Remarks             string          `json:"remarks,omitempty"`
	InitiatedBy         string          `json:"initiated_by"`
	DebitEntryID        *uuid.UUID      `json:"debit_entry_id,omitempty"`
	CreditEntryID       *uuid.UUID      `json:"credit_entry_id,omitempty"`
	CompensationEntryID *uuid.UUID      `json:"compensation_entry_id,omitempty"`
	LastError           string          `json:"last_error,omitempty"`
	Attempts            int             `json:"attempts"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// New starts a transfer saga
func New(kind Kind, source, destination wallet.Ref, amount decimal.Decimal, initiatedBy, remarks string) (*Transfer, error) {
	if source == destination {
		return nil, ErrSameWallet
	}
	now := time.Now().UTC()
	return &Transfer{
		ID:          uuid.New(),
		Kind:        kind,
		Source:      source,
		Destination: destination,
		Amount:      amount,
		State:       StateStarted,
		Remarks:     remarks,
		InitiatedBy: initiatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DebitReference is the ledger reference of step one
func (t *Transfer) DebitReference() string {
	return fmt.Sprintf("XFER_%s_DR", t.ID)
}

// CreditReference is the ledger reference of step two
func (t *Transfer) CreditReference() string {
	return fmt.Sprintf("XFER_%s_CR", t.ID)
}

// CompensationReference is the ledger reference of the compensating credit
func (t *Transfer) CompensationReference() string {
	return fmt.Sprintf("XFER_%s_COMP", t.ID)
}

// TransitionTo advances the saga, recording cause as the last error when set
func (t *Transfer) TransitionTo(next State, cause error) error {
	allowed := false
	for _, s := range transitions[t.State] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return ErrInvalidTransition{ID: t.ID, From: t.State, To: next}
	}
	t.State = next
	if cause != nil {
		t.LastError = cause.Error()
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// Repository persists the saga log
type Repository interface {
	Create(ctx context.Context, t *Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transfer, error)
	Update(ctx context.Context, t *Transfer) error
	// ListByState returns transfers in the state, oldest first
	ListByState(ctx context.Context, state State, limit int) ([]*Transfer, error)
}

// ErrTransferNotFound indicates a missing transfer
type ErrTransferNotFound struct {
	ID uuid.UUID
}

func (e ErrTransferNotFound) Error() string {
	return "transfer not found: " + e.ID.String()
}

func (e ErrTransferNotFound) Is(target error) bool {
	t, ok := target.(ErrTransferNotFound)
	if !ok {
		return false
	}
	return t.ID == uuid.Nil || t.ID == e.ID
}

// ErrInvalidTransition indicates an impossible saga step
type ErrInvalidTransition struct {
	ID   uuid.UUID
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("transfer %s cannot move from %s to %s", e.ID, e.From, e.To)
}

// ErrCompensationFailed reports a saga whose debit could not be undone yet.
// The transfer is persisted for the recovery job.
type ErrCompensationFailed struct {
	TransferID uuid.UUID
	Cause      error
}

func (e ErrCompensationFailed) Error() string {
	return fmt.Sprintf("transfer %s compensation failed: %v", e.TransferID, e.Cause)
}

func (e ErrCompensationFailed) Unwrap() error {
	return e.Cause
}
