package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// StatementLine is the read-model projection of an entry served to partners
type StatementLine struct {
	EntryID        uuid.UUID           `json:"entry_id"`
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
	TransactionRef string              `json:"transaction_ref,omitempty"`
	Status         Status              `json:"status"`
	Remarks        string              `json:"remarks,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// LineFromEntry projects an entry snapshot into a statement line
func LineFromEntry(e *Entry) *StatementLine {
	return &StatementLine{
		EntryID:        e.ID,
		WalletID:       e.WalletID,
		PartnerID:      e.PartnerID,
		WalletType:     e.WalletType,
		FundCategory:   e.FundCategory,
		ServiceType:    e.ServiceType,
		TxnType:        e.TxnType,
		Credit:         e.Credit,
		Debit:          e.Debit,
		OpeningBalance: e.OpeningBalance,
		ClosingBalance: e.ClosingBalance,
		ReferenceID:    e.ReferenceID,
		TransactionRef: e.TransactionRef,
		Status:         e.Status,
		Remarks:        e.Remarks,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// StatementQuery selects a page of a wallet's statement
type StatementQuery struct {
	PartnerID  uuid.UUID
	WalletType shared.WalletType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// StatementRepository stores the statement read model. Upserts are keyed by
// entry id so replayed outbox messages converge on the latest snapshot.
type StatementRepository interface {
	Upsert(ctx context.Context, line *StatementLine) error
	List(ctx context.Context, q StatementQuery) ([]*StatementLine, error)
	Count(ctx context.Context, q StatementQuery) (int64, error)
}
