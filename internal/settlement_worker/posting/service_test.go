package posting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Record(ctx context.Context, t *batch.ProviderTransaction) (*batch.ProviderTransaction, bool, error) {
	args := m.Called(ctx, t)
	if fn, ok := args.Get(0).(func(*batch.ProviderTransaction) *batch.ProviderTransaction); ok {
		return fn(t), args.Bool(1), args.Error(2)
	}
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*batch.ProviderTransaction), args.Bool(1), args.Error(2)
}

func (m *MockTransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*batch.ProviderTransaction, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*batch.ProviderTransaction), args.Error(1)
}

func (m *MockTransactionRepository) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]*batch.ProviderTransaction, error) {
	args := m.Called(ctx, cutoff, limit)
	return args.Get(0).([]*batch.ProviderTransaction), args.Error(1)
}

func (m *MockTransactionRepository) ListClaimedUnsettled(ctx context.Context, limit int) ([]*batch.ProviderTransaction, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*batch.ProviderTransaction), args.Error(1)
}

func (m *MockTransactionRepository) Claim(ctx context.Context, c batch.Claim) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockTransactionRepository) MarkSettled(ctx context.Context, ids []uuid.UUID, entryID uuid.UUID, settledAt time.Time) error {
	return m.Called(ctx, ids, entryID, settledAt).Error(0)
}

func (m *MockTransactionRepository) WithTx(pgx.Tx) batch.TransactionRepository {
	return m
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Credit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error) {
	args := m.Called(ctx, p, caps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.PostingResult), args.Error(1)
}

type MockFeeResolver struct {
	mock.Mock
}

func (m *MockFeeResolver) ResolveFee(ctx context.Context, req scheme_resolver.FeeRequest) (*scheme.Resolution, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scheme.Resolution), args.Error(1)
}

type MockCommissionDistributor struct {
	mock.Mock
}

func (m *MockCommissionDistributor) Distribute(ctx context.Context, req commission_distributor.DistributionRequest) ([]*commission.Entry, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*commission.Entry), args.Error(1)
}

type postingFixture struct {
	transactions *MockTransactionRepository
	ledger       *MockLedger
	resolver     *MockFeeResolver
	commissions  *MockCommissionDistributor
	service      *Service
	now          time.Time
}

func newPostingFixture() *postingFixture {
	f := &postingFixture{
		transactions: new(MockTransactionRepository),
		ledger:       new(MockLedger),
		resolver:     new(MockFeeResolver),
		commissions:  new(MockCommissionDistributor),
		now:          time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	f.service = NewService(discardLogger(), f.transactions, f.ledger, f.resolver, f.commissions)
	f.service.now = func() time.Time { return f.now }
	return f
}

func (f *postingFixture) assertExpectations(t *testing.T) {
	f.transactions.AssertExpectations(t)
	f.ledger.AssertExpectations(t)
	f.resolver.AssertExpectations(t)
	f.commissions.AssertExpectations(t)
}

// recordAsNew returns the transaction the service built, as a fresh insert does
func recordAsNew(t *batch.ProviderTransaction) *batch.ProviderTransaction {
	return t
}

func TestReference(t *testing.T) {
	assert.Equal(t, "BBPS_EXT-9", Reference(shared.ServiceTypeBBPS, "EXT-9"))
	assert.Equal(t, "AEPS_77", Reference(shared.ServiceTypeAEPS, "77"))
}

func TestService_Post_InstantSettles(t *testing.T) {
	f := newPostingFixture()
	cb := testCallback("BB-10")
	cb.Amount = decimal.RequireFromString("1000")
	schemeID := uuid.New()
	entryID := uuid.New()

	f.transactions.On("Record", mock.Anything, mock.MatchedBy(func(pt *batch.ProviderTransaction) bool {
		return pt.ExternalID == "BB-10" && pt.WalletType == shared.WalletTypePrimary
	})).Return(recordAsNew, true, nil)
	f.resolver.On("ResolveFee", mock.Anything, mock.MatchedBy(func(req scheme_resolver.FeeRequest) bool {
		return req.PartnerID == cb.PartnerID && req.ServiceType == shared.ServiceTypeBBPS && req.Amount.Equal(cb.Amount)
	})).Return(&scheme.Resolution{
		Rate:      decimal.RequireFromString("1.2"),
		FeeAmount: decimal.RequireFromString("12.00"),
		SchemeID:  schemeID,
	}, nil)
	f.transactions.On("Claim", mock.Anything, mock.MatchedBy(func(c batch.Claim) bool {
		return c.BatchRef == "BBPS_BB-10" && c.NetAmount.Equal(decimal.RequireFromString("988")) && c.SchemeID == schemeID
	})).Return(nil)
	f.ledger.On("Credit", mock.Anything, mock.MatchedBy(func(p ledger.Posting) bool {
		return p.ReferenceID == "BBPS_BB-10" &&
			p.TransactionRef == "BB-10" &&
			p.Amount.Equal(decimal.RequireFromString("988")) &&
			p.Wallet == wallet.NewRef(cb.PartnerID, shared.WalletTypePrimary) &&
			p.RequireSettlementOpen
	}), mock.MatchedBy(func(caps capability.Set) bool {
		return caps.Has(capability.ScopeLedgerPost)
	})).Return(&ledger.PostingResult{Entry: &ledger.Entry{ID: entryID}}, nil)
	f.commissions.On("Distribute", mock.Anything, commission_distributor.DistributionRequest{
		TransactionID: "BB-10",
		PartnerID:     cb.PartnerID,
		ServiceType:   shared.ServiceTypeBBPS,
		FeeAmount:     decimal.RequireFromString("12.00"),
	}).Return([]*commission.Entry{}, nil)
	f.transactions.On("MarkSettled", mock.Anything, mock.AnythingOfType("[]uuid.UUID"), entryID, f.now).Return(nil)

	err := f.service.Post(context.Background(), cb)

	require.NoError(t, err)
	f.assertExpectations(t)
}

func TestService_Post_Deferred(t *testing.T) {
	t.Run("NotInstant", func(t *testing.T) {
		f := newPostingFixture()
		cb := testCallback("POS-1")
		cb.Instant = false
		f.transactions.On("Record", mock.Anything, mock.Anything).Return(recordAsNew, true, nil)

		require.NoError(t, f.service.Post(context.Background(), cb))
		f.resolver.AssertNotCalled(t, "ResolveFee", mock.Anything, mock.Anything)
	})

	t.Run("FailedPayment", func(t *testing.T) {
		f := newPostingFixture()
		cb := testCallback("POS-2")
		cb.Status = shared.CallbackStatusFailed
		f.transactions.On("Record", mock.Anything, mock.Anything).Return(recordAsNew, true, nil)

		require.NoError(t, f.service.Post(context.Background(), cb))
		f.resolver.AssertNotCalled(t, "ResolveFee", mock.Anything, mock.Anything)
	})

	t.Run("AlreadySettled", func(t *testing.T) {
		f := newPostingFixture()
		cb := testCallback("BB-11")
		f.transactions.On("Record", mock.Anything, mock.Anything).Return(&batch.ProviderTransaction{
			ID:             uuid.New(),
			ExternalID:     "BB-11",
			ServiceType:    shared.ServiceTypeBBPS,
			Status:         shared.CallbackStatusCaptured,
			WalletCredited: true,
		}, false, nil)

		require.NoError(t, f.service.Post(context.Background(), cb))
		f.ledger.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("NoScheme", func(t *testing.T) {
		f := newPostingFixture()
		cb := testCallback("BB-12")
		f.transactions.On("Record", mock.Anything, mock.Anything).Return(recordAsNew, true, nil)
		f.resolver.On("ResolveFee", mock.Anything, mock.Anything).
			Return(nil, scheme.ErrNoApplicableScheme{Service: scheme.Service("bbps")})

		require.NoError(t, f.service.Post(context.Background(), cb))
		f.transactions.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything)
	})

	t.Run("ClaimedByBatchRun", func(t *testing.T) {
		f := newPostingFixture()
		cb := testCallback("BB-13")
		batchRef := "AUTO-T1-20260504-1"
		f.transactions.On("Record", mock.Anything, mock.Anything).
			Return(func(pt *batch.ProviderTransaction) *batch.ProviderTransaction {
				pt.BatchRef = &batchRef
				return pt
			}, false, nil)
		f.resolver.On("ResolveFee", mock.Anything, mock.Anything).
			Return(&scheme.Resolution{FeeAmount: decimal.RequireFromString("1")}, nil)
		f.transactions.On("Claim", mock.Anything, mock.Anything).Return(batch.ErrAlreadyClaimed{})

		require.NoError(t, f.service.Post(context.Background(), cb))
		f.ledger.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("SettlementHeld", func(t *testing.T) {
		f := newPostingFixture()
		cb := testCallback("BB-14")
		f.transactions.On("Record", mock.Anything, mock.Anything).Return(recordAsNew, true, nil)
		f.resolver.On("ResolveFee", mock.Anything, mock.Anything).
			Return(&scheme.Resolution{FeeAmount: decimal.RequireFromString("1")}, nil)
		f.transactions.On("Claim", mock.Anything, mock.Anything).Return(nil)
		f.ledger.On("Credit", mock.Anything, mock.Anything, mock.Anything).Return(nil, wallet.ErrSettlementHeld)

		require.NoError(t, f.service.Post(context.Background(), cb))
		f.transactions.AssertNotCalled(t, "MarkSettled", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_Post_RetryableFailures(t *testing.T) {
	t.Run("RecordFails", func(t *testing.T) {
		f := newPostingFixture()
		f.transactions.On("Record", mock.Anything, mock.Anything).Return(nil, false, errors.New("connection reset"))

		err := f.service.Post(context.Background(), testCallback("BB-20"))

		assert.ErrorContains(t, err, "connection reset")
	})

	t.Run("CommissionFails", func(t *testing.T) {
		f := newPostingFixture()
		f.transactions.On("Record", mock.Anything, mock.Anything).Return(recordAsNew, true, nil)
		f.resolver.On("ResolveFee", mock.Anything, mock.Anything).
			Return(&scheme.Resolution{FeeAmount: decimal.RequireFromString("2")}, nil)
		f.transactions.On("Claim", mock.Anything, mock.Anything).Return(nil)
		f.ledger.On("Credit", mock.Anything, mock.Anything, mock.Anything).
			Return(&ledger.PostingResult{Entry: &ledger.Entry{ID: uuid.New()}}, nil)
		f.commissions.On("Distribute", mock.Anything, mock.Anything).Return(nil, errors.New("upline lookup failed"))

		err := f.service.Post(context.Background(), testCallback("BB-21"))

		assert.ErrorContains(t, err, "upline lookup failed")
		f.transactions.AssertNotCalled(t, "MarkSettled", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("RetryReplaysCredit", func(t *testing.T) {
		f := newPostingFixture()
		ref := "BBPS_BB-22"
		entryID := uuid.New()
		f.transactions.On("Record", mock.Anything, mock.Anything).
			Return(func(pt *batch.ProviderTransaction) *batch.ProviderTransaction {
				pt.BatchRef = &ref
				return pt
			}, false, nil)
		f.resolver.On("ResolveFee", mock.Anything, mock.Anything).
			Return(&scheme.Resolution{FeeAmount: decimal.Zero}, nil)
		f.transactions.On("Claim", mock.Anything, mock.Anything).Return(batch.ErrAlreadyClaimed{})
		f.ledger.On("Credit", mock.Anything, mock.Anything, mock.Anything).
			Return(&ledger.PostingResult{Entry: &ledger.Entry{ID: entryID}, Replayed: true}, nil)
		f.transactions.On("MarkSettled", mock.Anything, mock.Anything, entryID, f.now).Return(nil)

		require.NoError(t, f.service.Post(context.Background(), testCallback("BB-22")))
		f.commissions.AssertNotCalled(t, "Distribute", mock.Anything, mock.Anything)
		f.assertExpectations(t)
	})
}
