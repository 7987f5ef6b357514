package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ProviderTransaction is a captured provider-side payment awaiting its wallet credit
type ProviderTransaction struct {
	ID                 uuid.UUID             `json:"id"`
	ExternalID         string                `json:"external_id"`
	PartnerID          uuid.UUID             `json:"partner_id"`
	WalletType         shared.WalletType     `json:"wallet_type"`
	ServiceType        shared.ServiceType    `json:"service_type"`
	Mode               string                `json:"mode,omitempty"`
	CardType           string                `json:"card_type,omitempty"`
	CardBrand          string                `json:"card_brand,omitempty"`
	CardClassification string                `json:"card_classification,omitempty"`
	Amount             decimal.Decimal       `json:"amount"`
	Status             shared.CallbackStatus `json:"status"`
	CapturedAt         time.Time             `json:"captured_at"`
	WalletCredited     bool                  `json:"wallet_credited"`
	BatchRef           *string               `json:"batch_ref,omitempty"`
	FeeAmount          *decimal.Decimal      `json:"fee_amount,omitempty"`
	NetAmount          *decimal.Decimal      `json:"net_amount,omitempty"`
	RatePercent        *decimal.Decimal      `json:"rate_percent,omitempty"`
	SchemeID           *uuid.UUID            `json:"scheme_id,omitempty"`
	SettlementEntryID  *uuid.UUID            `json:"settlement_entry_id,omitempty"`
	SettledAt          *time.Time            `json:"settled_at,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
}

// FromCallback builds the captured transaction a provider callback reports
func FromCallback(cb *shared.PaymentCallback) *ProviderTransaction {
	capturedAt := cb.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}
	walletType := shared.WalletTypePrimary
	if cb.ServiceType == shared.ServiceTypeAEPS {
		walletType = shared.WalletTypeAEPS
	}
	return &ProviderTransaction{
		ID:                 uuid.New(),
		ExternalID:         cb.ExternalID,
		PartnerID:          cb.PartnerID,
		WalletType:         walletType,
		ServiceType:        cb.ServiceType,
		Mode:               cb.Mode,
		CardType:           cb.CardType,
		CardBrand:          cb.CardBrand,
		CardClassification: cb.CardClassification,
		Amount:             shared.RoundMoney(cb.Amount),
		Status:             cb.Status,
		CapturedAt:         capturedAt.UTC(),
		CreatedAt:          time.Now().UTC(),
	}
}

// Claim is the fee breakdown stored on a transaction when a run takes it
type Claim struct {
	TransactionID uuid.UUID
	BatchRef      string
	FeeAmount     decimal.Decimal
	NetAmount     decimal.Decimal
	RatePercent   decimal.Decimal
	SchemeID      uuid.UUID
}

// TransactionRepository manages captured provider transactions
type TransactionRepository interface {
	// Record inserts the transaction unless its external id is known and returns the stored row
	Record(ctx context.Context, t *ProviderTransaction) (*ProviderTransaction, bool, error)
	GetByExternalID(ctx context.Context, externalID string) (*ProviderTransaction, error)
	// ListUnsettled returns captured, uncredited, unclaimed transactions captured before cutoff
	ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]*ProviderTransaction, error)
	// ListClaimedUnsettled returns rows claimed by a run that never credited them
	ListClaimedUnsettled(ctx context.Context, limit int) ([]*ProviderTransaction, error)
	Claim(ctx context.Context, c Claim) error
	MarkSettled(ctx context.Context, ids []uuid.UUID, entryID uuid.UUID, settledAt time.Time) error
	WithTx(tx pgx.Tx) TransactionRepository
}

// ErrTransactionNotFound indicates an unknown provider transaction
type ErrTransactionNotFound struct {
	ExternalID string
}

func (e ErrTransactionNotFound) Error() string {
	return "provider transaction not found: " + e.ExternalID
}

func (e ErrTransactionNotFound) Is(target error) bool {
	t, ok := target.(ErrTransactionNotFound)
	if !ok {
		return false
	}
	return t.ExternalID == "" || t.ExternalID == e.ExternalID
}

// ErrAlreadyClaimed indicates another run took the transaction first
type ErrAlreadyClaimed struct {
	TransactionID uuid.UUID
}

func (e ErrAlreadyClaimed) Error() string {
	return "provider transaction already claimed: " + e.TransactionID.String()
}
