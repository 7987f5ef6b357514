package commission

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/partner"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSharePolicy    = errors.New("invalid commission share policy")
	ErrCommissionReleased    = errors.New("commission already released for payout")
	ErrAdjustmentOutOfBounds = errors.New("commission adjustment exceeds the allowed range")
	ErrNegativeCommission    = errors.New("commission amount cannot be negative")
	ErrNoChange              = errors.New("commission adjustment does not change the amount")
)

// Entry is one upline partner's share of a transaction fee
type Entry struct {
	ID              uuid.UUID          `json:"id"`
	TransactionID   string             `json:"transaction_id"`
	SourcePartnerID uuid.UUID          `json:"source_partner_id"`
	BeneficiaryID   uuid.UUID          `json:"beneficiary_id"`
	BeneficiaryRole shared.PartnerRole `json:"beneficiary_role"`
	FeeAmount       decimal.Decimal    `json:"fee_amount"`
	OriginalAmount  decimal.Decimal    `json:"original_amount"`
	Amount          decimal.Decimal    `json:"amount"`
	IsLocked        bool               `json:"is_locked"`
	LedgerEntryID   uuid.UUID          `json:"ledger_entry_id"`
	Version         int                `json:"version"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Reference is the ledger reference of the share credit
func Reference(transactionID string, role shared.PartnerRole) string {
	return fmt.Sprintf("COMM_%s_%s", transactionID, role)
}

// AdjustmentReference is the ledger reference of an adjustment's offsetting entry
func AdjustmentReference(adjustmentID uuid.UUID) string {
	return "COMM_ADJ_" + adjustmentID.String()
}

// Adjustment is the audit record of one change to a commission amount
type Adjustment struct {
	ID            uuid.UUID       `json:"id"`
	CommissionID  uuid.UUID       `json:"commission_id"`
	AdjustedBy    string          `json:"adjusted_by"`
	OldAmount     decimal.Decimal `json:"old_amount"`
	NewAmount     decimal.Decimal `json:"new_amount"`
	Delta         decimal.Decimal `json:"delta"`
	Reason        string          `json:"reason"`
	LedgerEntryID uuid.UUID       `json:"ledger_entry_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SharePolicy configures how a fee is split up the hierarchy. Percentages
// are of the collected fee.
type SharePolicy struct {
	DistributorPercent       decimal.Decimal
	MasterDistributorPercent decimal.Decimal
	// LockOnCreate posts shares on hold until they are released for payout.
	LockOnCreate bool
	// MaxAdjustmentPercent bounds an adjustment relative to the original share.
	MaxAdjustmentPercent decimal.Decimal
}

// Validate checks the policy is non-negative, does not exceed the fee and
// decreases up the hierarchy
func (p SharePolicy) Validate() error {
	if p.DistributorPercent.IsNegative() || p.MasterDistributorPercent.IsNegative() || p.MaxAdjustmentPercent.IsNegative() {
		return fmt.Errorf("%w: percentages must not be negative", ErrInvalidSharePolicy)
	}
	if p.DistributorPercent.Add(p.MasterDistributorPercent).GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: shares exceed the collected fee", ErrInvalidSharePolicy)
	}
	if p.MasterDistributorPercent.IsPositive() && !p.MasterDistributorPercent.LessThan(p.DistributorPercent) {
		return fmt.Errorf("%w: master distributor share must be below distributor share", ErrInvalidSharePolicy)
	}
	return nil
}

// Share is one computed commission before it is posted
type Share struct {
	Beneficiary *partner.Partner
	Role        shared.PartnerRole
	Amount      decimal.Decimal
}

// Shares splits fee among the upline. Missing tiers and zero amounts are
// skipped; their share stays undistributed.
func (p SharePolicy) Shares(fee decimal.Decimal, upline partner.Upline) []Share {
	tiers := []struct {
		role shared.PartnerRole
		pct  decimal.Decimal
	}{
		{shared.RoleDistributor, p.DistributorPercent},
		{shared.RoleMasterDistributor, p.MasterDistributorPercent},
	}

	var shares []Share
	for _, tier := range tiers {
		beneficiary := upline.ByRole(tier.role)
		if beneficiary == nil || !beneficiary.IsActive {
			continue
		}
		amount := shared.PercentOf(fee, tier.pct)
		if !amount.IsPositive() {
			continue
		}
		shares = append(shares, Share{Beneficiary: beneficiary, Role: tier.role, Amount: amount})
	}
	return shares
}

// CheckAdjustment validates a new amount for e under the policy
func (p SharePolicy) CheckAdjustment(e *Entry, newAmount decimal.Decimal) error {
	if !e.IsLocked {
		return ErrCommissionReleased
	}
	if newAmount.IsNegative() {
		return ErrNegativeCommission
	}
	if newAmount.Equal(e.Amount) {
		return ErrNoChange
	}
	limit := shared.PercentOf(e.OriginalAmount, p.MaxAdjustmentPercent)
	if newAmount.Sub(e.OriginalAmount).Abs().GreaterThan(limit) {
		return fmt.Errorf("%w: at most %s from %s", ErrAdjustmentOutOfBounds, shared.FormatMoney(limit), shared.FormatMoney(e.OriginalAmount))
	}
	return nil
}

// NetSettlement is the retailer's amount after its own fee
func NetSettlement(gross, fee decimal.Decimal) decimal.Decimal {
	return shared.RoundMoney(gross.Sub(fee))
}
