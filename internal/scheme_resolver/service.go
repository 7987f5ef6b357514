package scheme_resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/partner"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
	"github.com/partner-wallet-ledger/internal/platform/timeutil"
	"github.com/shopspring/decimal"
)

// FeeRequest describes the transaction a fee is resolved for
type FeeRequest struct {
	Amount             decimal.Decimal    `json:"amount"`
	ServiceType        shared.ServiceType `json:"service_type"`
	Mode               string             `json:"mode,omitempty"`
	CardType           string             `json:"card_type,omitempty"`
	CardBrand          string             `json:"card_brand,omitempty"`
	CardClassification string             `json:"card_classification,omitempty"`
	PartnerID          uuid.UUID          `json:"partner_id"`
}

type Service struct {
	rates    scheme.Repository
	partners partner.Directory
	caps     scheme.CapTable
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(logger *slog.Logger, cfg *config.SchemeConfig, rates scheme.Repository, partners partner.Directory) (*Service, error) {
	caps := scheme.DefaultCapTable()
	if strings.TrimSpace(cfg.MDRCaps) != "" {
		mdr, err := ParseCapTable(cfg.MDRCaps)
		if err != nil {
			return nil, err
		}
		caps[scheme.ServiceMDR] = mdr
	}
	return &Service{
		rates:    rates,
		partners: partners,
		caps:     caps,
		now:      timeutil.Now,
		logger:   logger,
	}, nil
}

// ParseCapTable parses role caps written as "role:min:max,role:min:max"
func ParseCapTable(value string) (map[shared.PartnerRole]scheme.Cap, error) {
	out := make(map[shared.PartnerRole]scheme.Cap)
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid cap %q: want role:min:max", item)
		}
		role := shared.PartnerRole(strings.TrimSpace(parts[0]))
		if !role.Valid() {
			return nil, fmt.Errorf("invalid cap %q: unknown role", item)
		}
		minRate, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid cap %q: %w", item, err)
		}
		maxRate, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("invalid cap %q: %w", item, err)
		}
		if minRate.IsNegative() || minRate.GreaterThan(maxRate) {
			return nil, fmt.Errorf("invalid cap %q: min must be between 0 and max", item)
		}
		out[role] = scheme.Cap{Min: minRate, Max: maxRate}
	}
	return out, nil
}

// ResolveFee resolves the rate and fee for a transaction of the acting partner
func (s *Service) ResolveFee(ctx context.Context, req FeeRequest) (*scheme.Resolution, error) {
	amount, err := shared.NormalizeAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if !req.ServiceType.Valid() {
		return nil, shared.ErrInvalidServiceType
	}

	acting, err := s.partners.Get(ctx, req.PartnerID)
	if err != nil {
		return nil, err
	}

	fc := scheme.FeeContext{
		Amount:             amount,
		Service:            scheme.ServiceFor(req.ServiceType),
		Mode:               req.Mode,
		CardType:           req.CardType,
		CardBrand:          req.CardBrand,
		CardClassification: req.CardClassification,
		PartnerID:          acting.ID,
		PartnerRole:        acting.Role,
		GoldenSchemeID:     acting.GoldenSchemeID,
	}

	candidates, err := s.rates.Candidates(ctx, fc.Service, acting.ID, acting.GoldenSchemeID)
	if err != nil {
		return nil, err
	}

	res, err := scheme.Resolve(fc, candidates, s.caps, s.now())
	if err != nil {
		logger.FromContext(ctx, s.logger).Error("No applicable scheme",
			"service", fc.Service,
			"partner_id", acting.ID.String(),
			"candidates", len(candidates),
		)
		return nil, err
	}

	metrics.RecordSchemeResolution(string(fc.Service), res.Tier.String(), res.Clamped)
	if res.Clamped {
		logger.FromContext(ctx, s.logger).Warn("Scheme rate clamped to role cap",
			"rate_id", res.RateID.String(),
			"role", acting.Role,
			"stored_rate", res.StoredRate.String(),
			"applied_rate", res.Rate.String(),
		)
	}
	return &res, nil
}

// CreateRate stores a new rate version
func (s *Service) CreateRate(ctx context.Context, rate *scheme.Rate, caps capability.Set) error {
	if err := caps.Require(capability.ScopeSchemeAdmin); err != nil {
		return err
	}

	now := s.now()
	rate.ID = uuid.New()
	rate.CreatedAt = now
	if rate.EffectiveFrom.IsZero() {
		rate.EffectiveFrom = now
	}
	if rate.Tier == scheme.TierGolden && rate.SchemeID == uuid.Nil {
		return scheme.ErrRateScopeFields
	}
	if rate.SchemeID == uuid.Nil {
		rate.SchemeID = uuid.New()
	}
	if err := rate.Validate(); err != nil {
		return err
	}

	if err := s.rates.Create(ctx, rate); err != nil {
		return err
	}

	logger.FromContext(ctx, s.logger).Info("Scheme rate created",
		"rate_id", rate.ID.String(),
		"tier", rate.Tier.String(),
		"service", rate.Service,
		"rate_percent", rate.RatePercent.String(),
		"actor", caps.Actor(),
	)
	return nil
}

// ListRates lists the stored rate versions of a service
func (s *Service) ListRates(ctx context.Context, service scheme.Service) ([]*scheme.Rate, error) {
	if !service.Valid() {
		return nil, fmt.Errorf("%w: unknown service %q", scheme.ErrInvalidRate, service)
	}
	return s.rates.List(ctx, service)
}
