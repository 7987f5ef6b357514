package scheme

import (
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Cap bounds a resolved rate percentage
type Cap struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// CapTable holds the role ceilings per service. A role with no cap is not clamped.
type CapTable map[Service]map[shared.PartnerRole]Cap

// DefaultCapTable returns the MDR ceilings per role
func DefaultCapTable() CapTable {
	return CapTable{
		ServiceMDR: {
			shared.RoleRetailer:          {Min: decimal.RequireFromString("0.5"), Max: decimal.NewFromInt(5)},
			shared.RoleDistributor:       {Min: decimal.RequireFromString("0.3"), Max: decimal.NewFromInt(3)},
			shared.RoleMasterDistributor: {Min: decimal.RequireFromString("0.1"), Max: decimal.NewFromInt(2)},
		},
	}
}

// Lookup returns the cap for a service and role
func (c CapTable) Lookup(service Service, role shared.PartnerRole) (Cap, bool) {
	byRole, ok := c[service]
	if !ok {
		return Cap{}, false
	}
	limit, ok := byRole[role]
	return limit, ok
}

// Clamp bounds rate to the cap and reports whether it was changed
func (c Cap) Clamp(rate decimal.Decimal) (decimal.Decimal, bool) {
	if rate.LessThan(c.Min) {
		return c.Min, true
	}
	if rate.GreaterThan(c.Max) {
		return c.Max, true
	}
	return rate, false
}
