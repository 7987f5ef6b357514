package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// Status is the life-cycle state of a dispute
type Status string

const (
	StatusOpen     Status = "open"
	StatusHold     Status = "hold"
	StatusResolved Status = "resolved"
	StatusRejected Status = "rejected"
)

// IsTerminal reports whether no further action is possible
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// Action is an operator decision on a dispute
type Action string

const (
	ActionHold    Action = "hold"
	ActionResolve Action = "resolve"
	ActionReject  Action = "reject"
)

var actionTargets = map[Action]Status{
	ActionHold:    StatusHold,
	ActionResolve: StatusResolved,
	ActionReject:  StatusRejected,
}

var (
	ErrInvalidAction     = errors.New("invalid dispute action")
	ErrMissingReference  = errors.New("dispute needs a transaction reference")
	ErrResolutionMissing = errors.New("closing a dispute needs a resolution")
)

// Dispute is raised by an operator against one business transaction
type Dispute struct {
	ID             uuid.UUID         `json:"id"`
	TransactionRef string            `json:"transaction_ref"`
	LedgerEntryID  uuid.UUID         `json:"ledger_entry_id"`
	PartnerID      uuid.UUID         `json:"partner_id"`
	WalletType     shared.WalletType `json:"wallet_type"`
	Status         Status            `json:"status"`
	Reason         string            `json:"reason"`
	Resolution     string            `json:"resolution,omitempty"`
	RaisedBy       string            `json:"raised_by"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ClosedAt       *time.Time        `json:"closed_at,omitempty"`
}

// Apply moves the dispute according to the action. Hold is only possible
// from open; resolve and reject close an open or held dispute.
func (d *Dispute) Apply(action Action, resolution string) error {
	target, ok := actionTargets[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidAction, action)
	}
	if d.Status.IsTerminal() || (action == ActionHold && d.Status != StatusOpen) {
		return ErrInvalidTransition{ID: d.ID, From: d.Status, Action: action}
	}

	now := time.Now().UTC()
	if target.IsTerminal() {
		resolution = strings.TrimSpace(resolution)
		if resolution == "" {
			return ErrResolutionMissing
		}
		d.Resolution = resolution
		d.ClosedAt = &now
	}
	d.Status = target
	d.UpdatedAt = now
	return nil
}

// Repository manages dispute persistence
type Repository interface {
	Create(ctx context.Context, d *Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dispute, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Dispute, error)
	// GetActiveByTransaction returns the open or held dispute for the transaction, if any
	GetActiveByTransaction(ctx context.Context, transactionRef string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	WithTx(tx pgx.Tx) Repository
}

// ErrDisputeNotFound indicates a missing dispute
type ErrDisputeNotFound struct {
	ID uuid.UUID
}

func (e ErrDisputeNotFound) Error() string {
	return "dispute not found: " + e.ID.String()
}

func (e ErrDisputeNotFound) Is(target error) bool {
	t, ok := target.(ErrDisputeNotFound)
	if !ok {
		return false
	}
	return t.ID == uuid.Nil || t.ID == e.ID
}

// ErrActiveDispute indicates the transaction already has a dispute in progress
type ErrActiveDispute struct {
	TransactionRef string
	DisputeID      uuid.UUID
}

func (e ErrActiveDispute) Error() string {
	return fmt.Sprintf("transaction %s already has active dispute %s", e.TransactionRef, e.DisputeID)
}

func (e ErrActiveDispute) Is(target error) bool {
	_, ok := target.(ErrActiveDispute)
	return ok
}

// ErrInvalidTransition indicates an action not allowed in the current status
type ErrInvalidTransition struct {
	ID     uuid.UUID
	From   Status
	Action Action
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("dispute %s cannot %s from %s", e.ID, e.Action, e.From)
}

func (e ErrInvalidTransition) Is(target error) bool {
	_, ok := target.(ErrInvalidTransition)
	return ok
}
