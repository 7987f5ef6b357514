package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

const rateColumns = `id, scheme_id, scheme_name, tier, service, partner_id,
		mode, card_type, card_brand, card_classification, rate_percent::text,
		min_fee::text, max_fee::text, effective_from, effective_to, created_at`

// SchemeRepository stores versioned scheme rates. Rows are never updated.
type SchemeRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewSchemeRepository creates a new PostgreSQL scheme rate repository
func NewSchemeRepository(logger *slog.Logger, db *persistence.PostgresDB) scheme.Repository {
	return &SchemeRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Create inserts a new rate version
func (r *SchemeRepository) Create(ctx context.Context, rate *scheme.Rate) error {
	query := `
		INSERT INTO scheme_rates (id, scheme_id, scheme_name, tier, service, partner_id,
			mode, card_type, card_brand, card_classification, rate_percent,
			min_fee, max_fee, effective_from, effective_to, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.querier.Exec(ctx, query,
		rate.ID,
		rate.SchemeID,
		rate.SchemeName,
		rate.Tier.String(),
		rate.Service,
		rate.PartnerID,
		rate.Mode,
		rate.CardType,
		rate.CardBrand,
		rate.CardClassification,
		rate.RatePercent.String(),
		nullableMoneyArg(rate.MinFee),
		nullableMoneyArg(rate.MaxFee),
		rate.EffectiveFrom,
		rate.EffectiveTo,
		rate.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create scheme rate",
			"scheme_id", rate.SchemeID.String(),
			"tier", rate.Tier.String(),
			"service", string(rate.Service),
			"error", err,
		)
		return fmt.Errorf("failed to create scheme rate: %w", err)
	}

	return nil
}

// Candidates loads every rate row of the service that could apply to the
// partner: its custom rows, its golden scheme's rows and all global rows.
// Effective-window filtering and ranking happen in scheme.Resolve.
func (r *SchemeRepository) Candidates(ctx context.Context, service scheme.Service, partnerID uuid.UUID, goldenSchemeID *uuid.UUID) ([]*scheme.Rate, error) {
	query := `
		SELECT ` + rateColumns + `
		FROM scheme_rates
		WHERE service = $1
		  AND (tier = 'global'
		       OR (tier = 'custom' AND partner_id = $2)
		       OR (tier = 'golden' AND scheme_id = $3))
	`
	return r.list(ctx, "get scheme rate candidates", query, service, partnerID, goldenSchemeID)
}

// List returns every rate version of a service, newest first
func (r *SchemeRepository) List(ctx context.Context, service scheme.Service) ([]*scheme.Rate, error) {
	query := `
		SELECT ` + rateColumns + `
		FROM scheme_rates
		WHERE service = $1
		ORDER BY CASE tier WHEN 'custom' THEN 3 WHEN 'golden' THEN 2 ELSE 1 END DESC,
			effective_from DESC, created_at DESC
	`
	return r.list(ctx, "list scheme rates", query, service)
}

func (r *SchemeRepository) list(ctx context.Context, op string, query string, args ...interface{}) ([]*scheme.Rate, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	rates := make([]*scheme.Rate, 0)
	for rows.Next() {
		rate, err := scanRate(rows)
		if err != nil {
			r.logger.Error("Failed to scan scheme rate", "error", err)
			return nil, fmt.Errorf("failed to scan scheme rate: %w", err)
		}
		rates = append(rates, rate)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over scheme rates", "error", err)
		return nil, fmt.Errorf("error iterating over scheme rates: %w", err)
	}

	return rates, nil
}

func scanRate(row rowScanner) (*scheme.Rate, error) {
	var (
		rate           scheme.Rate
		tier           string
		minFee, maxFee decimal.NullDecimal
	)
	err := row.Scan(
		&rate.ID,
		&rate.SchemeID,
		&rate.SchemeName,
		&tier,
		&rate.Service,
		&rate.PartnerID,
		&rate.Mode,
		&rate.CardType,
		&rate.CardBrand,
		&rate.CardClassification,
		&rate.RatePercent,
		&minFee,
		&maxFee,
		&rate.EffectiveFrom,
		&rate.EffectiveTo,
		&rate.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rate.Tier, err = scheme.ParseTier(tier); err != nil {
		return nil, err
	}
	rate.MinFee = nullableMoney(minFee)
	rate.MaxFee = nullableMoney(maxFee)
	return &rate, nil
}
