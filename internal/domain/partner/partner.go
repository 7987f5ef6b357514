package partner

import (
	"context"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// Partner is a participant in the distribution hierarchy. Partners are
// owned by an external directory; the engine only reads them.
type Partner struct {
	ID             uuid.UUID          `json:"id"`
	Name           string             `json:"name"`
	Role           shared.PartnerRole `json:"role"`
	ParentID       *uuid.UUID         `json:"parent_id,omitempty"`
	GoldenSchemeID *uuid.UUID         `json:"golden_scheme_id,omitempty"`
	IsActive       bool               `json:"is_active"`
}

// Upline is the chain of partners above a partner, nearest first
type Upline []*Partner

// ByRole returns the nearest upline member holding the role
func (u Upline) ByRole(role shared.PartnerRole) *Partner {
	for _, p := range u {
		if p.Role == role {
			return p
		}
	}
	return nil
}

// Contains reports whether the partner is part of the upline
func (u Upline) Contains(id uuid.UUID) bool {
	for _, p := range u {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Directory is the read-only partner lookup
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*Partner, error)
	// Upline returns the ancestors of a partner, nearest first
	Upline(ctx context.Context, id uuid.UUID) (Upline, error)
}

// ErrPartnerNotFound indicates an unknown or inactive partner
type ErrPartnerNotFound struct {
	PartnerID uuid.UUID
}

func (e ErrPartnerNotFound) Error() string {
	return "partner not found: " + e.PartnerID.String()
}

func (e ErrPartnerNotFound) Is(target error) bool {
	t, ok := target.(ErrPartnerNotFound)
	if !ok {
		return false
	}
	return t.PartnerID == uuid.Nil || t.PartnerID == e.PartnerID
}
