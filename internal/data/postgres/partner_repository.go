package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/partner"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

// maxUplineDepth bounds the hierarchy walk so a corrupt parent cycle cannot loop
const maxUplineDepth = 8

// PartnerRepository reads the partner hierarchy maintained by the onboarding system
type PartnerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewPartnerRepository creates a partner directory backed by the partners table
func NewPartnerRepository(logger *slog.Logger, db *persistence.PostgresDB) partner.Directory {
	return &PartnerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// Get returns an active partner
func (r *PartnerRepository) Get(ctx context.Context, id uuid.UUID) (*partner.Partner, error) {
	query := `
		SELECT id, name, role, parent_id, golden_scheme_id, is_active
		FROM partners
		WHERE id = $1 AND is_active
	`

	var p partner.Partner
	err := r.querier.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Role,
		&p.ParentID,
		&p.GoldenSchemeID,
		&p.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, partner.ErrPartnerNotFound{PartnerID: id}
		}
		r.logger.Error("Failed to get partner", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get partner: %w", err)
	}

	return &p, nil
}

// Upline walks parent links from the partner's parent upwards, nearest first.
// Inactive ancestors are returned; callers decide whether they earn shares.
func (r *PartnerRepository) Upline(ctx context.Context, id uuid.UUID) (partner.Upline, error) {
	query := `
		WITH RECURSIVE chain AS (
			SELECT p.id, p.name, p.role, p.parent_id, p.golden_scheme_id, p.is_active, 1 AS depth
			FROM partners p
			JOIN partners child ON child.parent_id = p.id
			WHERE child.id = $1
			UNION ALL
			SELECT p.id, p.name, p.role, p.parent_id, p.golden_scheme_id, p.is_active, c.depth + 1
			FROM partners p
			JOIN chain c ON p.id = c.parent_id
			WHERE c.depth < $2
		)
		SELECT id, name, role, parent_id, golden_scheme_id, is_active
		FROM chain
		ORDER BY depth ASC
	`

	rows, err := r.querier.Query(ctx, query, id, maxUplineDepth)
	if err != nil {
		r.logger.Error("Failed to get partner upline", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get partner upline: %w", err)
	}
	defer rows.Close()

	upline := make(partner.Upline, 0, 2)
	for rows.Next() {
		var p partner.Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.Role, &p.ParentID, &p.GoldenSchemeID, &p.IsActive); err != nil {
			r.logger.Error("Failed to scan partner", "error", err)
			return nil, fmt.Errorf("failed to scan partner: %w", err)
		}
		upline = append(upline, &p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over partner upline", "error", err)
		return nil, fmt.Errorf("error iterating over partner upline: %w", err)
	}

	return upline, nil
}
