package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Mode is the payout timing of a settlement
type Mode string

const (
	ModeT0 Mode = "T0"
	ModeT1 Mode = "T1"
)

func (m Mode) Valid() bool {
	return m == ModeT0 || m == ModeT1
}

// Status is the life-cycle state of a settlement
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusReversed   Status = "reversed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusReversed},
	StatusProcessing: {StatusSuccess, StatusFailed},
	StatusFailed:     {StatusProcessing, StatusReversed},
	StatusSuccess:    {StatusReversed},
}

// CanTransitionTo reports whether a settlement may move from s to next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Action is an administrative decision on a pending settlement
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Outcome is the manual result recorded for a settlement stuck in processing
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

var (
	ErrPayoutTimeout = errors.New("payout timed out: settlement left processing for reconciliation")
	ErrInvalidMode   = errors.New("invalid settlement mode")
	ErrInvalidAction = errors.New("invalid settlement action")
)

// Settlement moves wallet funds to the partner's bank account
type Settlement struct {
	ID              uuid.UUID         `json:"id"`
	PartnerID       uuid.UUID         `json:"partner_id"`
	WalletID        uuid.UUID         `json:"wallet_id"`
	WalletType      shared.WalletType `json:"wallet_type"`
	Amount          decimal.Decimal   `json:"amount"`
	Mode            Mode              `json:"mode"`
	Status          Status            `json:"status"`
	LedgerEntryID   uuid.UUID         `json:"ledger_entry_id"`
	ReversalEntryID *uuid.UUID        `json:"reversal_entry_id,omitempty"`
	PayoutReference string            `json:"payout_reference,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	Attempts        int               `json:"attempts"`
	RequestedBy     string            `json:"requested_by"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Reference is the ledger reference of the settlement debit
func Reference(id uuid.UUID) string {
	return "SETTLE_" + id.String()
}

// ReversalReference is the ledger reference of the compensating credit
func ReversalReference(id uuid.UUID) string {
	return "SETTLE_REV_" + id.String()
}

// TransitionTo moves the settlement to next or returns ErrInvalidTransition
func (s *Settlement) TransitionTo(next Status) error {
	if !s.Status.CanTransitionTo(next) {
		return ErrInvalidTransition{ID: s.ID, From: s.Status, To: next}
	}
	s.Status = next
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Repository manages settlement persistence
type Repository interface {
	Create(ctx context.Context, s *Settlement) error
	GetByID(ctx context.Context, id uuid.UUID) (*Settlement, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Settlement, error)
	Update(ctx context.Context, s *Settlement) error
	ListByPartner(ctx context.Context, partnerID uuid.UUID, limit, offset int) ([]*Settlement, error)
	// ListOpenByWallet returns pending and failed settlements of a wallet
	ListOpenByWallet(ctx context.Context, walletID uuid.UUID) ([]*Settlement, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrSettlementNotFound indicates a missing settlement
type ErrSettlementNotFound struct {
	ID uuid.UUID
}

func (e ErrSettlementNotFound) Error() string {
	return "settlement not found: " + e.ID.String()
}

func (e ErrSettlementNotFound) Is(target error) bool {
	t, ok := target.(ErrSettlementNotFound)
	if !ok {
		return false
	}
	return t.ID == uuid.Nil || t.ID == e.ID
}

// ErrInvalidTransition indicates a forbidden settlement status change
type ErrInvalidTransition struct {
	ID   uuid.UUID
	From Status
	To   Status
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("settlement %s cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e ErrInvalidTransition) Is(target error) bool {
	_, ok := target.(ErrInvalidTransition)
	return ok
}

// ErrPayoutFailed is a definitive payout rejection. The settlement is left
// failed and may be approved again or rejected.
type ErrPayoutFailed struct {
	SettlementID uuid.UUID
	Reason       string
}

func (e ErrPayoutFailed) Error() string {
	return fmt.Sprintf("payout failed for settlement %s: %s", e.SettlementID, e.Reason)
}

func (e ErrPayoutFailed) Is(target error) bool {
	_, ok := target.(ErrPayoutFailed)
	return ok
}
