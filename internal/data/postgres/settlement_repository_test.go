package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settlementColumnNames = []string{"id", "partner_id", "wallet_id", "wallet_type", "amount", "mode", "status", "ledger_entry_id",
	"reversal_entry_id", "payout_reference", "failure_reason", "attempts", "requested_by", "created_at", "updated_at"}

func testSettlement() *settlement.Settlement {
	now := time.Now().UTC()
	return &settlement.Settlement{
		ID:            uuid.New(),
		PartnerID:     uuid.New(),
		WalletID:      uuid.New(),
		WalletType:    shared.WalletTypePrimary,
		Amount:        decimal.RequireFromString("300"),
		Mode:          settlement.ModeT0,
		Status:        settlement.StatusPending,
		LedgerEntryID: uuid.New(),
		RequestedBy:   "retailer-1",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func settlementRow(s *settlement.Settlement) []interface{} {
	return []interface{}{s.ID, s.PartnerID, s.WalletID, s.WalletType, s.Amount.StringFixed(2), s.Mode, s.Status,
		s.LedgerEntryID, s.ReversalEntryID, s.PayoutReference, s.FailureReason, s.Attempts, s.RequestedBy, s.CreatedAt, s.UpdatedAt}
}

func TestSettlementRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementRepository{querier: mock, logger: newTestLogger()}
	s := testSettlement()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO settlements")).
			WithArgs(s.ID, s.PartnerID, s.WalletID, s.WalletType, "300.00", settlement.ModeT0, settlement.StatusPending,
				s.LedgerEntryID, (*uuid.UUID)(nil), "", "", 0, "retailer-1", s.CreatedAt, s.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(ctx, s))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectExec(q("INSERT INTO settlements")).WillReturnError(expectedErr)

		err := repo.Create(ctx, s)
		assert.ErrorIs(t, err, expectedErr)
		assert.Contains(t, err.Error(), "failed to create settlement")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementRepository_LockByID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementRepository{querier: mock, logger: newTestLogger()}
	s := testSettlement()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(q("FROM settlements WHERE id = $1 FOR UPDATE")).
			WithArgs(s.ID).
			WillReturnRows(pgxmock.NewRows(settlementColumnNames).AddRow(settlementRow(s)...))

		got, err := repo.LockByID(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, settlement.StatusPending, got.Status)
		assert.True(t, decimal.NewFromInt(300).Equal(got.Amount))
		assert.Nil(t, got.ReversalEntryID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(q("FOR UPDATE")).WithArgs(s.ID).WillReturnError(pgx.ErrNoRows)

		_, err := repo.LockByID(ctx, s.ID)
		assert.ErrorIs(t, err, settlement.ErrSettlementNotFound{ID: s.ID})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementRepository{querier: mock, logger: newTestLogger()}
	s := testSettlement()
	reversal := uuid.New()
	require.NoError(t, s.TransitionTo(settlement.StatusReversed))
	s.ReversalEntryID = &reversal

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(q("UPDATE settlements")).
			WithArgs(settlement.StatusReversed, &reversal, "", "", 0, s.UpdatedAt, s.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.Update(ctx, s))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectExec(q("UPDATE settlements")).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, repo.Update(ctx, s), settlement.ErrSettlementNotFound{ID: s.ID})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSettlementRepository_ListOpenByWallet(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &SettlementRepository{querier: mock, logger: newTestLogger()}
	s := testSettlement()

	mock.ExpectQuery(q("status IN ('pending', 'failed')")).
		WithArgs(s.WalletID).
		WillReturnRows(pgxmock.NewRows(settlementColumnNames).AddRow(settlementRow(s)...))

	open, err := repo.ListOpenByWallet(ctx, s.WalletID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, s.ID, open[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
