// Package capability models explicit permission tokens passed into engine
// operations. Callers never rely on ambient session state: an operation that
// needs an admin override asks the caller's Set for the matching Scope.
package capability

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// Scope names a single permission
type Scope string

const (
	ScopeOverdraft         Scope = "ledger:overdraft"
	ScopeFrozenWallet      Scope = "ledger:frozen_wallet"
	ScopeEntryAdmin        Scope = "ledger:entry_admin"
	ScopeWalletAdmin       Scope = "wallet:admin"
	ScopeLedgerPost        Scope = "ledger:post"
	ScopeSettlementRequest Scope = "settlement:request"
	ScopeSettlementAdmin   Scope = "settlement:admin"
	ScopeDisputeAdmin      Scope = "dispute:admin"
	ScopeCommissionAdjust  Scope = "commission:adjust"
	ScopeCommissionAdmin   Scope = "commission:admin"
	ScopeSchemeAdmin       Scope = "scheme:admin"
	ScopeBatchOperator     Scope = "batch:operator"
	ScopeTransfer          Scope = "transfer:execute"
	// ScopeLedgerOverride lets a caller ask for ScopeOverdraft and
	// ScopeFrozenWallet on a single posting through Elevate
	ScopeLedgerOverride Scope = "ledger:override"
)

// operatorScopes never include the override scopes themselves. Those are
// added per call.
var operatorScopes = []Scope{
	ScopeEntryAdmin, ScopeWalletAdmin, ScopeLedgerPost, ScopeLedgerOverride,
	ScopeSettlementRequest, ScopeSettlementAdmin, ScopeDisputeAdmin, ScopeCommissionAdjust,
	ScopeCommissionAdmin, ScopeSchemeAdmin, ScopeBatchOperator, ScopeTransfer,
}

var roleScopes = map[shared.PartnerRole][]Scope{
	shared.RoleRetailer:          {ScopeSettlementRequest},
	shared.RoleDistributor:       {ScopeSettlementRequest, ScopeTransfer, ScopeCommissionAdjust},
	shared.RoleMasterDistributor: {ScopeSettlementRequest, ScopeTransfer, ScopeCommissionAdjust},
	shared.RoleAdmin:             operatorScopes,
}

// Set is an immutable bundle of scopes granted to one actor
type Set struct {
	actor     string
	partnerID uuid.UUID
	scopes    map[Scope]struct{}
}

// Grant builds a Set for the actor with exactly the given scopes
func Grant(actor string, partnerID uuid.UUID, scopes ...Scope) Set {
	s := Set{actor: actor, partnerID: partnerID, scopes: make(map[Scope]struct{}, len(scopes))}
	for _, scope := range scopes {
		s.scopes[scope] = struct{}{}
	}
	return s
}

// ForRole grants the default scopes of a partner role
func ForRole(actor string, partnerID uuid.UUID, role shared.PartnerRole) Set {
	return Grant(actor, partnerID, roleScopes[role]...)
}

// System grants an internal engine component the operator scopes. A
// component that must overdraw or post to a frozen wallet adds the scope
// with With on that call.
func System(component string) Set {
	return Grant("system:"+component, uuid.Nil, operatorScopes...)
}

// None is the empty Set
func None() Set {
	return Set{}
}

// Has reports whether the scope was granted
func (s Set) Has(scope Scope) bool {
	_, ok := s.scopes[scope]
	return ok
}

// Require returns ErrForbidden unless the scope was granted
func (s Set) Require(scope Scope) error {
	if s.Has(scope) {
		return nil
	}
	return ErrForbidden{Actor: s.actor, Scope: scope}
}

// With returns a copy of the Set extended with extra scopes
func (s Set) With(scopes ...Scope) Set {
	out := Grant(s.actor, s.partnerID, scopes...)
	for scope := range s.scopes {
		out.scopes[scope] = struct{}{}
	}
	return out
}

// Elevate returns a copy carrying ScopeOverdraft and ScopeFrozenWallet for
// one explicitly requested override. It fails unless the Set may override.
func (s Set) Elevate() (Set, error) {
	if err := s.Require(ScopeLedgerOverride); err != nil {
		return Set{}, err
	}
	return s.With(ScopeOverdraft, ScopeFrozenWallet), nil
}

// Actor identifies who holds the Set
func (s Set) Actor() string {
	if s.actor == "" {
		return "anonymous"
	}
	return s.actor
}

// PartnerID is the partner the actor acts for, uuid.Nil for operators and system components
func (s Set) PartnerID() uuid.UUID {
	return s.partnerID
}

// Scopes lists granted scopes in stable order
func (s Set) Scopes() []Scope {
	out := make([]Scope, 0, len(s.scopes))
	for scope := range s.scopes {
		out = append(out, scope)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ErrForbidden indicates the caller lacks a required scope
type ErrForbidden struct {
	Actor string
	Scope Scope
}

func (e ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s lacks capability %s", e.Actor, e.Scope)
}

// Is matches any ErrForbidden when the target scope is empty
func (e ErrForbidden) Is(target error) bool {
	t, ok := target.(ErrForbidden)
	if !ok {
		return false
	}
	if t.Scope == "" {
		return true
	}
	return e.Scope == t.Scope
}
