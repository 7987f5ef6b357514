package scheme

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// FeeContext describes the transaction a fee is resolved for
type FeeContext struct {
	Amount             decimal.Decimal
	Service            Service
	Mode               string
	CardType           string
	CardBrand          string
	CardClassification string
	PartnerID          uuid.UUID
	PartnerRole        shared.PartnerRole
	GoldenSchemeID     *uuid.UUID
}

// Resolution is the rate applied to a transaction and the resulting fee
type Resolution struct {
	Rate       decimal.Decimal `json:"rate"`
	StoredRate decimal.Decimal `json:"stored_rate"`
	FeeAmount  decimal.Decimal `json:"fee_amount"`
	SchemeID   uuid.UUID       `json:"scheme_id"`
	SchemeName string          `json:"scheme_name"`
	RateID     uuid.UUID       `json:"rate_id"`
	Tier       Tier            `json:"tier"`
	Clamped    bool            `json:"clamped"`
}

// Filter weights. A classification match outranks any mix of the others.
const (
	weightMode           = 1
	weightCardType       = 2
	weightBrand          = 4
	weightClassification = 8
)

// Resolve picks the single applicable rate for fc among candidates and computes
// the fee. Tiers are searched custom, golden, global; within a tier the most
// specific matching rate wins, then the most recent version. When the global
// tier has rows for the service but none matches the card filters, its least
// specific row applies. ErrNoApplicableScheme means the global tier has no
// active row for the service at all.
func Resolve(fc FeeContext, candidates []*Rate, caps CapTable, now time.Time) (Resolution, error) {
	for _, tier := range resolutionOrder {
		best := bestInTier(fc, candidates, tier, now)
		if best == nil {
			continue
		}
		return apply(fc, best, caps), nil
	}
	if fallback := leastSpecificGlobal(fc, candidates, now); fallback != nil {
		return apply(fc, fallback, caps), nil
	}
	return Resolution{}, ErrNoApplicableScheme{Service: fc.Service}
}

func bestInTier(fc FeeContext, candidates []*Rate, tier Tier, now time.Time) *Rate {
	var best *Rate
	bestScore := -1
	for _, r := range candidates {
		if r.Tier != tier || r.Service != fc.Service || !r.activeAt(now) {
			continue
		}
		if !inScope(fc, r) {
			continue
		}
		score, ok := specificity(fc, r)
		if !ok {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && newer(r, best)) {
			best, bestScore = r, score
		}
	}
	return best
}

// leastSpecificGlobal returns the active global row with the fewest card
// filters, the most recent version on ties
func leastSpecificGlobal(fc FeeContext, candidates []*Rate, now time.Time) *Rate {
	var best *Rate
	bestWeight := 0
	for _, r := range candidates {
		if r.Tier != TierGlobal || r.Service != fc.Service || !r.activeAt(now) {
			continue
		}
		w := filterWeight(r)
		if best == nil || w < bestWeight || (w == bestWeight && newer(r, best)) {
			best, bestWeight = r, w
		}
	}
	return best
}

func filterWeight(r *Rate) int {
	w := 0
	for _, f := range []struct {
		set    string
		weight int
	}{
		{r.CardClassification, weightClassification},
		{r.CardBrand, weightBrand},
		{r.CardType, weightCardType},
		{r.Mode, weightMode},
	} {
		if f.set != "" {
			w += f.weight
		}
	}
	return w
}

func inScope(fc FeeContext, r *Rate) bool {
	switch r.Tier {
	case TierCustom:
		return r.PartnerID != nil && *r.PartnerID == fc.PartnerID
	case TierGolden:
		return fc.GoldenSchemeID != nil && r.SchemeID == *fc.GoldenSchemeID
	}
	return true
}

// specificity scores a rate against the context; ok is false when a set filter does not match
func specificity(fc FeeContext, r *Rate) (int, bool) {
	score := 0
	filters := []struct {
		want, got string
		weight    int
	}{
		{r.CardClassification, fc.CardClassification, weightClassification},
		{r.CardBrand, fc.CardBrand, weightBrand},
		{r.CardType, fc.CardType, weightCardType},
		{r.Mode, fc.Mode, weightMode},
	}
	for _, f := range filters {
		if f.want == "" {
			continue
		}
		if !strings.EqualFold(f.want, f.got) {
			return 0, false
		}
		score += f.weight
	}
	return score, true
}

func newer(a, b *Rate) bool {
	if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() > b.ID.String()
}

// apply computes the fee of r. The role cap bounds both the rate and the
// final fee, so a MinFee or MaxFee never moves the effective rate outside it.
func apply(fc FeeContext, r *Rate, caps CapTable) Resolution {
	hundred := decimal.NewFromInt(100)
	rate := r.RatePercent
	clamped := false
	limit, capped := caps.Lookup(r.Service, fc.PartnerRole)
	if capped {
		rate, clamped = limit.Clamp(rate)
	}

	fee := fc.Amount.Mul(rate).Div(hundred)
	if r.MinFee != nil && fee.LessThan(*r.MinFee) {
		fee = *r.MinFee
	}
	if r.MaxFee != nil && fee.GreaterThan(*r.MaxFee) {
		fee = *r.MaxFee
	}
	if capped {
		floor := fc.Amount.Mul(limit.Min).Div(hundred)
		ceiling := fc.Amount.Mul(limit.Max).Div(hundred)
		switch {
		case fee.GreaterThan(ceiling):
			fee, clamped = ceiling, true
		case fee.LessThan(floor):
			fee, clamped = floor, true
		}
	}

	return Resolution{
		Rate:       rate,
		StoredRate: r.RatePercent,
		FeeAmount:  shared.RoundMoney(fee),
		SchemeID:   r.SchemeID,
		SchemeName: r.SchemeName,
		RateID:     r.ID,
		Tier:       r.Tier,
		Clamped:    clamped,
	}
}
