package scheme

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Tier is the priority of a rate table. Higher tiers win.
type Tier int

const (
	TierGlobal Tier = iota + 1
	TierGolden
	TierCustom
)

// resolutionOrder is the order tiers are searched in
var resolutionOrder = []Tier{TierCustom, TierGolden, TierGlobal}

func (t Tier) String() string {
	switch t {
	case TierGlobal:
		return "global"
	case TierGolden:
		return "golden"
	case TierCustom:
		return "custom"
	}
	return "unknown"
}

// ParseTier maps a stored tier name to its Tier
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(s) {
	case "global":
		return TierGlobal, nil
	case "golden":
		return TierGolden, nil
	case "custom":
		return TierCustom, nil
	}
	return 0, fmt.Errorf("unknown scheme tier: %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Service is the fee schedule a rate belongs to
type Service string

const (
	ServiceBBPS       Service = "bbps"
	ServicePayout     Service = "payout"
	ServiceMDR        Service = "mdr"
	ServiceSettlement Service = "settlement"
)

func (s Service) Valid() bool {
	switch s {
	case ServiceBBPS, ServicePayout, ServiceMDR, ServiceSettlement:
		return true
	}
	return false
}

// ServiceFor maps a transaction's service type to its fee schedule
func ServiceFor(t shared.ServiceType) Service {
	switch t {
	case shared.ServiceTypeBBPS:
		return ServiceBBPS
	case shared.ServiceTypePayout, shared.ServiceTypeDMT:
		return ServicePayout
	case shared.ServiceTypeSettlement:
		return ServiceSettlement
	}
	return ServiceMDR
}

// Rate is one versioned fee-rate row. Empty filters match anything.
type Rate struct {
	ID                 uuid.UUID        `json:"id"`
	SchemeID           uuid.UUID        `json:"scheme_id"`
	SchemeName         string           `json:"scheme_name"`
	Tier               Tier             `json:"tier"`
	Service            Service          `json:"service"`
	PartnerID          *uuid.UUID       `json:"partner_id,omitempty"`
	Mode               string           `json:"mode,omitempty"`
	CardType           string           `json:"card_type,omitempty"`
	CardBrand          string           `json:"card_brand,omitempty"`
	CardClassification string           `json:"card_classification,omitempty"`
	RatePercent        decimal.Decimal  `json:"rate_percent"`
	MinFee             *decimal.Decimal `json:"min_fee,omitempty"`
	MaxFee             *decimal.Decimal `json:"max_fee,omitempty"`
	EffectiveFrom      time.Time        `json:"effective_from"`
	EffectiveTo        *time.Time       `json:"effective_to,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

var (
	ErrInvalidRate     = errors.New("invalid scheme rate")
	ErrRateScopeFields = errors.New("custom rates need a partner and golden rates need a scheme")
)

// Validate checks a rate before it is stored
func (r *Rate) Validate() error {
	if r.Tier < TierGlobal || r.Tier > TierCustom {
		return fmt.Errorf("%w: unknown tier", ErrInvalidRate)
	}
	if !r.Service.Valid() {
		return fmt.Errorf("%w: unknown service %q", ErrInvalidRate, r.Service)
	}
	if r.RatePercent.IsNegative() || r.RatePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: rate must be between 0 and 100", ErrInvalidRate)
	}
	if r.MinFee != nil && r.MaxFee != nil && r.MinFee.GreaterThan(*r.MaxFee) {
		return fmt.Errorf("%w: min fee exceeds max fee", ErrInvalidRate)
	}
	if r.EffectiveTo != nil && !r.EffectiveTo.After(r.EffectiveFrom) {
		return fmt.Errorf("%w: effective window is empty", ErrInvalidRate)
	}
	switch r.Tier {
	case TierCustom:
		if r.PartnerID == nil {
			return ErrRateScopeFields
		}
	case TierGolden:
		if r.SchemeID == uuid.Nil {
			return ErrRateScopeFields
		}
	}
	return nil
}

// activeAt reports whether the rate's effective window contains t
func (r *Rate) activeAt(t time.Time) bool {
	if t.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || t.Before(*r.EffectiveTo)
}

// Repository stores insert-only rate versions
type Repository interface {
	Create(ctx context.Context, rate *Rate) error
	// Candidates returns the rates of every tier that could apply to the partner
	Candidates(ctx context.Context, service Service, partnerID uuid.UUID, goldenSchemeID *uuid.UUID) ([]*Rate, error)
	List(ctx context.Context, service Service) ([]*Rate, error)
}

// ErrNoApplicableScheme means no tier holds a rate for the service. It is a
// configuration error and retrying will not help.
type ErrNoApplicableScheme struct {
	Service Service
}

func (e ErrNoApplicableScheme) Error() string {
	return fmt.Sprintf("no applicable scheme for service %s", e.Service)
}

func (e ErrNoApplicableScheme) Is(target error) bool {
	t, ok := target.(ErrNoApplicableScheme)
	if !ok {
		return false
	}
	return t.Service == "" || t.Service == e.Service
}
