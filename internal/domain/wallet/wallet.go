package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Common errors. Messages are shown to partners, so low balance and
// administrative freezes are worded differently.
var (
	ErrInsufficientFunds = errors.New("insufficient funds: your balance is too low for this transaction")
	ErrWalletFrozen      = errors.New("wallet frozen: your funds are currently frozen by an administrator")
	ErrSettlementHeld    = errors.New("settlement held: payouts from this wallet are currently frozen by an administrator")
)

// Ref identifies a wallet by owner and type
type Ref struct {
	PartnerID uuid.UUID         `json:"partner_id"`
	Type      shared.WalletType `json:"wallet_type"`
}

// NewRef builds a wallet reference, defaulting to the primary wallet
func NewRef(partnerID uuid.UUID, walletType shared.WalletType) Ref {
	if walletType == "" {
		walletType = shared.WalletTypePrimary
	}
	return Ref{PartnerID: partnerID, Type: walletType}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.PartnerID, r.Type)
}

// Wallet is a partner's balance container. Balance, HeldAmount and
// ReservedAmount are materialized from the ledger entries of the wallet.
type Wallet struct {
	ID               uuid.UUID         `json:"id"`
	PartnerID        uuid.UUID         `json:"partner_id"`
	Type             shared.WalletType `json:"wallet_type"`
	Balance          decimal.Decimal   `json:"balance"`
	HeldAmount       decimal.Decimal   `json:"held_amount"`
	ReservedAmount   decimal.Decimal   `json:"reserved_amount"`
	IsFrozen         bool              `json:"is_frozen"`
	IsSettlementHeld bool              `json:"is_settlement_held"`
	IsActive         bool              `json:"is_active"`
	Version          int               `json:"version"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// New creates an empty active wallet for the reference
func New(ref Ref) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		ID:             uuid.New(),
		PartnerID:      ref.PartnerID,
		Type:           ref.Type,
		Balance:        decimal.Zero,
		HeldAmount:     decimal.Zero,
		ReservedAmount: decimal.Zero,
		IsActive:       true,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Ref returns the wallet's owner/type reference
func (w *Wallet) Ref() Ref {
	return Ref{PartnerID: w.PartnerID, Type: w.Type}
}

// Spendable is the balance minus funds on hold and funds reserved by pending debits
func (w *Wallet) Spendable() decimal.Decimal {
	held := w.HeldAmount
	if held.IsNegative() {
		held = decimal.Zero
	}
	return w.Balance.Sub(held).Sub(w.ReservedAmount)
}

// CheckPostable rejects postings to inactive wallets and to frozen wallets
// unless the caller may override the freeze
func (w *Wallet) CheckPostable(overrideFreeze bool) error {
	if !w.IsActive {
		return ErrWalletNotFound{Ref: w.Ref()}
	}
	if w.IsFrozen && !overrideFreeze {
		return ErrWalletFrozen
	}
	return nil
}

// CheckDebit verifies the spendable balance covers the amount
func (w *Wallet) CheckDebit(amount decimal.Decimal, allowOverdraft bool) error {
	if allowOverdraft {
		return nil
	}
	if w.Spendable().LessThan(amount) {
		return ErrInsufficientFunds
	}
	return nil
}

// CheckSettlementOpen rejects settlement debits while the wallet is held
func (w *Wallet) CheckSettlementOpen() error {
	if w.IsSettlementHeld {
		return ErrSettlementHeld
	}
	return nil
}

// Touch bumps the version and update time after a mutation
func (w *Wallet) Touch() {
	w.Version++
	w.UpdatedAt = time.Now().UTC()
}

// Flags is a partial update of a wallet's administrative flags
type Flags struct {
	Frozen         *bool
	SettlementHeld *bool
	Active         *bool
}

// Apply sets the non-nil flags and reports whether anything changed
func (f Flags) Apply(w *Wallet) bool {
	changed := false
	if f.Frozen != nil && w.IsFrozen != *f.Frozen {
		w.IsFrozen = *f.Frozen
		changed = true
	}
	if f.SettlementHeld != nil && w.IsSettlementHeld != *f.SettlementHeld {
		w.IsSettlementHeld = *f.SettlementHeld
		changed = true
	}
	if f.Active != nil && w.IsActive != *f.Active {
		w.IsActive = *f.Active
		changed = true
	}
	return changed
}
