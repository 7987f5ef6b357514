package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/shopspring/decimal"
)

// Status is the life-cycle state of a ledger entry
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusHold      Status = "hold"
	StatusReversed  Status = "reversed"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusReversed},
	StatusCompleted: {StatusHold, StatusReversed},
	StatusHold:      {StatusCompleted, StatusReversed},
}

// CanTransitionTo reports whether the entry may move from s to next
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether the status is known
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusHold, StatusReversed:
		return true
	}
	return false
}

var ErrInvalidReference = errors.New("invalid reference: reference id is required")

// Entry is one immutable money movement on a wallet. Exactly one of
// Credit and Debit is non-zero; only Status changes after creation.
type Entry struct {
	ID             uuid.UUID           `json:"id"`
	WalletID       uuid.UUID           `json:"wallet_id"`
	PartnerID      uuid.UUID           `json:"partner_id"`
	WalletType     shared.WalletType   `json:"wallet_type"`
	FundCategory   shared.FundCategory `json:"fund_category"`
	ServiceType    shared.ServiceType  `json:"service_type"`
	TxnType        string              `json:"txn_type"`
	Credit         decimal.Decimal     `json:"credit"`
	Debit          decimal.Decimal     `json:"debit"`
	OpeningBalance decimal.Decimal     `json:"opening_balance"`
	ClosingBalance decimal.Decimal     `json:"closing_balance"`
	ReferenceID    string              `json:"reference_id"`
	Status         Status              `json:"status"`
	TransactionRef string              `json:"transaction_ref,omitempty"`
	Remarks        string              `json:"remarks,omitempty"`
	CreatedBy      string              `json:"created_by"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// IsCredit reports whether the entry adds money to the wallet
func (e *Entry) IsCredit() bool {
	return e.Credit.IsPositive()
}

// Amount is the non-zero side of the entry
func (e *Entry) Amount() decimal.Decimal {
	if e.IsCredit() {
		return e.Credit
	}
	return e.Debit
}

// Net is credit minus debit
func (e *Entry) Net() decimal.Decimal {
	return e.Credit.Sub(e.Debit)
}

// Direction is the side of a posting
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Posting is a request to append one entry to a wallet
type Posting struct {
	Wallet         wallet.Ref
	Direction      Direction
	Amount         decimal.Decimal
	FundCategory   shared.FundCategory
	ServiceType    shared.ServiceType
	TxnType        string
	ReferenceID    string
	TransactionRef string
	Remarks        string
	// Status defaults to completed. Settlement debits are posted pending.
	Status Status
	// RequireSettlementOpen rejects the posting when the wallet is settlement-held.
	RequireSettlementOpen bool
}

// Normalize rounds the amount and fills defaults, rejecting invalid postings
func (p *Posting) Normalize() error {
	amount, err := shared.NormalizeAmount(p.Amount)
	if err != nil {
		return err
	}
	p.Amount = amount

	p.ReferenceID = strings.TrimSpace(p.ReferenceID)
	if p.ReferenceID == "" {
		return ErrInvalidReference
	}
	if p.Wallet.PartnerID == uuid.Nil {
		return shared.ErrMissingPartner
	}
	if p.Wallet.Type == "" {
		p.Wallet.Type = shared.WalletTypePrimary
	}
	if !p.Wallet.Type.Valid() {
		return fmt.Errorf("invalid wallet type: %s", p.Wallet.Type)
	}
	if p.FundCategory == "" {
		p.FundCategory = shared.FundCategoryCash
	}
	if !p.FundCategory.Valid() {
		return fmt.Errorf("invalid fund category: %s", p.FundCategory)
	}
	if p.ServiceType == "" {
		p.ServiceType = shared.ServiceTypeAdmin
	}
	if !p.ServiceType.Valid() {
		return shared.ErrInvalidServiceType
	}
	if p.Status == "" {
		p.Status = StatusCompleted
	}
	if p.Status != StatusCompleted && p.Status != StatusPending && p.Status != StatusHold {
		return fmt.Errorf("invalid initial status: %s", p.Status)
	}
	if p.TxnType == "" {
		p.TxnType = string(p.Direction)
	}
	return nil
}

// NewEntry builds the entry a posting appends to w. Opening and closing
// balances are taken from the wallet before the entry is applied.
func NewEntry(p Posting, w *wallet.Wallet, createdBy string) *Entry {
	now := time.Now().UTC()
	e := &Entry{
		ID:             uuid.New(),
		WalletID:       w.ID,
		PartnerID:      w.PartnerID,
		WalletType:     w.Type,
		FundCategory:   p.FundCategory,
		ServiceType:    p.ServiceType,
		TxnType:        p.TxnType,
		Credit:         decimal.Zero,
		Debit:          decimal.Zero,
		OpeningBalance: w.Balance,
		ReferenceID:    p.ReferenceID,
		Status:         p.Status,
		TransactionRef: p.TransactionRef,
		Remarks:        p.Remarks,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Direction == DirectionCredit {
		e.Credit = p.Amount
	} else {
		e.Debit = p.Amount
	}
	e.ClosingBalance = w.Balance.Add(e.Net())
	return e
}

// PostingResult is the outcome of a credit or debit. Replayed is set when
// the reference had already been posted and the prior entry is returned.
type PostingResult struct {
	Entry    *Entry `json:"entry"`
	Replayed bool   `json:"replayed"`
}
