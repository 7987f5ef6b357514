package handler

import (
	"time"

	"github.com/shopspring/decimal"
)

// PostingRequest represents a credit or debit against a wallet
type PostingRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	ReferenceID    string          `json:"reference_id" binding:"required"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	FundCategory   string          `json:"fund_category,omitempty"`
	ServiceType    string          `json:"service_type,omitempty"`
	TxnType        string          `json:"txn_type,omitempty"`
	Remarks        string          `json:"remarks,omitempty" binding:"max=255"`
	// Override asks for an admin overdraft and freeze override on this posting
	Override bool `json:"override,omitempty"`
}

// PostingResponse represents the entry a posting produced
type PostingResponse struct {
	Entry    EntryResponse `json:"entry"`
	Replayed bool          `json:"replayed"`
}

// EntryResponse represents a ledger entry in API responses
type EntryResponse struct {
	ID             string `json:"id"`
	WalletID       string `json:"wallet_id"`
	PartnerID      string `json:"partner_id"`
	WalletType     string `json:"wallet_type"`
	FundCategory   string `json:"fund_category"`
	ServiceType    string `json:"service_type"`
	TxnType        string `json:"txn_type"`
	Credit         string `json:"credit"`
	Debit          string `json:"debit"`
	OpeningBalance string `json:"opening_balance"`
	ClosingBalance string `json:"closing_balance"`
	ReferenceID    string `json:"reference_id"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	Status         string `json:"status"`
	Remarks        string `json:"remarks,omitempty"`
	CreatedBy      string `json:"created_by"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// BalanceResponse represents a wallet balance in API responses
type BalanceResponse struct {
	WalletID         string `json:"wallet_id"`
	PartnerID        string `json:"partner_id"`
	WalletType       string `json:"wallet_type"`
	Balance          string `json:"balance"`
	HeldAmount       string `json:"held_amount"`
	ReservedAmount   string `json:"reserved_amount"`
	Spendable        string `json:"spendable"`
	IsFrozen         bool   `json:"is_frozen"`
	IsSettlementHeld bool   `json:"is_settlement_held"`
	UpdatedAt        string `json:"updated_at"`
}

// EntryListParams represents filters for a wallet's entry listing
type EntryListParams struct {
	Status  string `form:"status"`
	Page    int    `form:"page,default=1" binding:"min=1"`
	PerPage int    `form:"per_page,default=20" binding:"min=1,max=100"`
}

// StatementParams represents the statement window and page
type StatementParams struct {
	From    *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To      *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Page    int        `form:"page,default=1" binding:"min=1"`
	PerPage int        `form:"per_page,default=20" binding:"min=1,max=100"`
}

// WalletFlagRequest switches a wallet hold or freeze on or off
type WalletFlagRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// FeeRequest represents a fee resolution request
type FeeRequest struct {
	Amount             decimal.Decimal `json:"amount"`
	ServiceType        string          `json:"service_type" binding:"required"`
	Mode               string          `json:"mode,omitempty"`
	CardType           string          `json:"card_type,omitempty"`
	CardBrand          string          `json:"card_brand,omitempty"`
	CardClassification string          `json:"card_classification,omitempty"`
	PartnerID          string          `json:"partner_id,omitempty" binding:"omitempty,uuid"`
}

// CreateRateRequest represents a new scheme rate version
type CreateRateRequest struct {
	SchemeID           string           `json:"scheme_id,omitempty" binding:"omitempty,uuid"`
	SchemeName         string           `json:"scheme_name" binding:"required"`
	Tier               string           `json:"tier" binding:"required"`
	Service            string           `json:"service" binding:"required"`
	PartnerID          string           `json:"partner_id,omitempty" binding:"omitempty,uuid"`
	Mode               string           `json:"mode,omitempty"`
	CardType           string           `json:"card_type,omitempty"`
	CardBrand          string           `json:"card_brand,omitempty"`
	CardClassification string           `json:"card_classification,omitempty"`
	RatePercent        decimal.Decimal  `json:"rate_percent"`
	MinFee             *decimal.Decimal `json:"min_fee,omitempty"`
	MaxFee             *decimal.Decimal `json:"max_fee,omitempty"`
	EffectiveFrom      *time.Time       `json:"effective_from,omitempty"`
	EffectiveTo        *time.Time       `json:"effective_to,omitempty"`
}

// DistributeCommissionRequest resolves a transaction's fee and pays the upline
type DistributeCommissionRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	FeeRequest
}

// AdjustCommissionRequest sets a new commission amount
type AdjustCommissionRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"required,max=255"`
}

// CreateSettlementRequest represents a wallet-to-bank settlement request
type CreateSettlementRequest struct {
	PartnerID  string          `json:"partner_id" binding:"required,uuid"`
	WalletType string          `json:"wallet_type,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Mode       string          `json:"mode" binding:"required"`
	RequestID  string          `json:"request_id,omitempty" binding:"max=64"`
}

// ReleaseSettlementRequest approves or rejects a pending settlement
type ReleaseSettlementRequest struct {
	Action string `json:"action" binding:"required"`
}

// ReconcileSettlementRequest records the manual payout outcome of a stuck settlement
type ReconcileSettlementRequest struct {
	Outcome         string `json:"outcome" binding:"required,oneof=success failed"`
	PayoutReference string `json:"payout_reference,omitempty"`
}

// RaiseDisputeRequest represents a dispute against a business transaction
type RaiseDisputeRequest struct {
	TransactionRef string `json:"transaction_ref" binding:"required"`
	PartnerID      string `json:"partner_id" binding:"required,uuid"`
	WalletType     string `json:"wallet_type,omitempty"`
	Reason         string `json:"reason" binding:"required,max=500"`
}

// TransitionDisputeRequest represents an operator decision on a dispute
type TransitionDisputeRequest struct {
	Action     string `json:"action" binding:"required"`
	Resolution string `json:"resolution,omitempty" binding:"max=500"`
}

// RunBatchRequest triggers a batch settlement run
type RunBatchRequest struct {
	Cutoff *time.Time `json:"cutoff,omitempty"`
}

// TransferRequest represents a push or pull within the partner hierarchy
type TransferRequest struct {
	PartnerID      string          `json:"partner_id,omitempty" binding:"omitempty,uuid"`
	CounterpartyID string          `json:"counterparty_id" binding:"required,uuid"`
	Amount         decimal.Decimal `json:"amount"`
	Remarks        string          `json:"remarks,omitempty" binding:"max=255"`
}

// PaymentCallbackRequest represents a provider-side payment outcome
type PaymentCallbackRequest struct {
	ExternalID         string          `json:"external_id" binding:"required"`
	PartnerID          string          `json:"partner_id" binding:"required,uuid"`
	ServiceType        string          `json:"service_type" binding:"required"`
	Mode               string          `json:"mode,omitempty"`
	CardType           string          `json:"card_type,omitempty"`
	CardBrand          string          `json:"card_brand,omitempty"`
	CardClassification string          `json:"card_classification,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status,omitempty" binding:"omitempty,oneof=captured failed"`
	Instant            bool            `json:"instant"`
	CapturedAt         *time.Time      `json:"captured_at,omitempty"`
}
