package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/partner-wallet-ledger/internal/domain/dispute"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDispute() *dispute.Dispute {
	now := time.Now().UTC()
	return &dispute.Dispute{
		ID:             uuid.New(),
		TransactionRef: "POS_Y1",
		LedgerEntryID:  uuid.New(),
		PartnerID:      uuid.New(),
		WalletType:     shared.WalletTypePrimary,
		Status:         dispute.StatusOpen,
		Reason:         "chargeback",
		RaisedBy:       "ops-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestDisputeRepository_Create(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &DisputeRepository{querier: mock, logger: newTestLogger()}
	d := testDispute()

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO disputes")).
			WithArgs(d.ID, "POS_Y1", d.LedgerEntryID, d.PartnerID, shared.WalletTypePrimary, dispute.StatusOpen,
				"chargeback", "", "ops-1", d.CreatedAt, d.UpdatedAt, (*time.Time)(nil)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(ctx, d))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("active dispute exists", func(t *testing.T) {
		mock.ExpectExec(q("INSERT INTO disputes")).WillReturnError(&pgconn.PgError{Code: "23505"})

		err := repo.Create(ctx, d)
		assert.ErrorIs(t, err, dispute.ErrActiveDispute{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("db error", func(t *testing.T) {
		expectedErr := errors.New("db error")
		mock.ExpectExec(q("INSERT INTO disputes")).WillReturnError(expectedErr)

		assert.ErrorIs(t, repo.Create(ctx, d), expectedErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDisputeRepository_GetActiveByTransaction(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &DisputeRepository{querier: mock, logger: newTestLogger()}
	d := testDispute()
	columns := []string{"id", "transaction_ref", "ledger_entry_id", "partner_id", "wallet_type", "status", "reason",
		"resolution", "raised_by", "created_at", "updated_at", "closed_at"}
	query := q("status IN ('open', 'hold')")

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery(query).
			WithArgs("POS_Y1").
			WillReturnRows(pgxmock.NewRows(columns).AddRow(d.ID, d.TransactionRef, d.LedgerEntryID, d.PartnerID,
				d.WalletType, dispute.StatusHold, d.Reason, "", d.RaisedBy, d.CreatedAt, d.UpdatedAt, (*time.Time)(nil)))

		got, err := repo.GetActiveByTransaction(ctx, "POS_Y1")
		require.NoError(t, err)
		assert.Equal(t, dispute.StatusHold, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("POS_Y2").WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetActiveByTransaction(ctx, "POS_Y2")
		assert.ErrorIs(t, err, dispute.ErrDisputeNotFound{})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDisputeRepository_Update(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &DisputeRepository{querier: mock, logger: newTestLogger()}
	d := testDispute()
	require.NoError(t, d.Apply(dispute.ActionResolve, "refunded to customer"))

	mock.ExpectExec(q("UPDATE disputes")).
		WithArgs(dispute.StatusResolved, "refunded to customer", d.UpdatedAt, d.ClosedAt, d.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.Update(ctx, d))

	mock.ExpectExec(q("UPDATE disputes")).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.Update(ctx, d), dispute.ErrDisputeNotFound{ID: d.ID})

	assert.NoError(t, mock.ExpectationsWereMet())
}
