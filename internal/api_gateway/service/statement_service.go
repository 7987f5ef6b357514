package service

import (
	"context"
	"errors"
	"time"

	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
)

// ErrInvalidRange indicates a statement window that ends before it starts
var ErrInvalidRange = errors.New("statement range ends before it starts")

// StatementServiceImpl implements the StatementService interface
type StatementServiceImpl struct {
	statements      ledger.StatementRepository
	defaultPageSize int
	maxPageSize     int
}

// NewStatementService creates a new statement service
func NewStatementService(cfg *config.LedgerConfig, statements ledger.StatementRepository) StatementService {
	return &StatementServiceImpl{
		statements:      statements,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
}

// GetStatement returns one page of a wallet's statement, newest first
func (s *StatementServiceImpl) GetStatement(ctx context.Context, ref wallet.Ref, from, to *time.Time, page, perPage int) ([]*ledger.StatementLine, int64, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, 0, ErrInvalidRange
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = s.defaultPageSize
	}
	if perPage > s.maxPageSize {
		perPage = s.maxPageSize
	}

	q := ledger.StatementQuery{
		PartnerID:  ref.PartnerID,
		WalletType: ref.Type,
		From:       from,
		To:         to,
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}

	lines, err := s.statements.List(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.statements.Count(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return lines, total, nil
}
