package batch_runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/ledger_core"
	"github.com/partner-wallet-ledger/internal/ledger_core/ledgertest"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFeeResolver struct {
	mock.Mock
}

func (m *MockFeeResolver) ResolveFee(ctx context.Context, req scheme_resolver.FeeRequest) (*scheme.Resolution, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(scheme_resolver.FeeRequest) *scheme.Resolution); ok {
		return fn(req), args.Error(1)
	}
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

type memoryTransactions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*batch.ProviderTransaction
}

func newMemoryTransactions() *memoryTransactions {
	return &memoryTransactions{rows: make(map[uuid.UUID]*batch.ProviderTransaction)}
}

func (m *memoryTransactions) Record(_ context.Context, t *batch.ProviderTransaction) (*batch.ProviderTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.rows[t.ID] = &cp
	return t, true, nil
}

func (m *memoryTransactions) GetByExternalID(_ context.Context, externalID string) (*batch.ProviderTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, batch.ErrTransactionNotFound{ExternalID: externalID}
}

func (m *memoryTransactions) list(match func(t *batch.ProviderTransaction) bool, limit int) []*batch.ProviderTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*batch.ProviderTransaction
	for _, t := range m.rows {
		if match(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PartnerID != out[j].PartnerID {
			return out[i].PartnerID.String() < out[j].PartnerID.String()
		}
		if out[i].WalletType != out[j].WalletType {
			return out[i].WalletType < out[j].WalletType
		}
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memoryTransactions) ListUnsettled(_ context.Context, cutoff time.Time, limit int) ([]*batch.ProviderTransaction, error) {
	return m.list(func(t *batch.ProviderTransaction) bool {
		return t.Status == shared.CallbackStatusCaptured && !t.WalletCredited && t.BatchRef == nil && t.CapturedAt.Before(cutoff)
	}, limit), nil
}

func (m *memoryTransactions) ListClaimedUnsettled(_ context.Context, limit int) ([]*batch.ProviderTransaction, error) {
	return m.list(func(t *batch.ProviderTransaction) bool {
		return !t.WalletCredited && t.BatchRef != nil
	}, limit), nil
}

func (m *memoryTransactions) Claim(_ context.Context, c batch.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.rows[c.TransactionID]
	if t == nil || t.BatchRef != nil {
		return batch.ErrAlreadyClaimed{TransactionID: c.TransactionID}
	}
	ref, fee, net, rate, schemeID := c.BatchRef, c.FeeAmount, c.NetAmount, c.RatePercent, c.SchemeID
	t.BatchRef, t.FeeAmount, t.NetAmount, t.RatePercent, t.SchemeID = &ref, &fee, &net, &rate, &schemeID
	return nil
}

func (m *memoryTransactions) MarkSettled(_ context.Context, ids []uuid.UUID, entryID uuid.UUID, settledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		t := m.rows[id]
		t.WalletCredited = true
		t.SettlementEntryID = &entryID
		t.SettledAt = &settledAt
	}
	return nil
}

func (m *memoryTransactions) WithTx(pgx.Tx) batch.TransactionRepository { return m }

func (m *memoryTransactions) get(id uuid.UUID) batch.ProviderTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rows[id]
}

type memoryLeases struct {
	mu    sync.Mutex
	lease *batch.Lease
	seq   int64
}

func (m *memoryLeases) Acquire(_ context.Context, jobName, owner string, ttl time.Duration) (*batch.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if m.lease != nil && m.lease.ExpiresAt.After(now) {
		return nil, batch.ErrConcurrentBatchRun{JobName: jobName, Owner: m.lease.Owner, ExpiresAt: m.lease.ExpiresAt}
	}
	m.seq++
	m.lease = &batch.Lease{JobName: jobName, Owner: owner, RunSeq: m.seq, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	return m.lease, nil
}

func (m *memoryLeases) Renew(_ context.Context, jobName, owner string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease == nil || m.lease.Owner != owner {
		return batch.ErrLeaseLost{JobName: jobName, Owner: owner}
	}
	m.lease.ExpiresAt = time.Now().Add(ttl)
	return nil
}

func (m *memoryLeases) Release(_ context.Context, _, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease != nil && m.lease.Owner == owner {
		m.lease.ExpiresAt = time.Now()
	}
	return nil
}

var (
	operator = capability.Grant("ops-1", uuid.Nil, capability.ScopeBatchOperator)
	system   = capability.System("test")
	runDay   = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
)

type fixture struct {
	runner       *Runner
	core         *ledger_core.Service
	store        *ledgertest.Store
	transactions *memoryTransactions
	leases       *memoryLeases
	resolver     *MockFeeResolver
	commissions  *MockCommissionDistributor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledgertest.NewStore()
	core := ledger_core.NewService(log, &config.LedgerConfig{DefaultPageSize: 20, MaxPageSize: 100},
		&ledgertest.TxManager{}, store.Wallets(), store.Entries(), store.Outbox())

	f := &fixture{
		core:         core,
		store:        store,
		transactions: newMemoryTransactions(),
		leases:       &memoryLeases{},
		resolver:     new(MockFeeResolver),
		commissions:  new(MockCommissionDistributor),
	}
	f.runner = NewRunner(log, &config.BatchConfig{Limit: 500, LeaseTTL: time.Minute, Owner: "worker-1"},
		f.transactions, f.leases, core, f.resolver, f.commissions)
	f.runner.now = func() time.Time { return runDay }
	return f
}

// onePercent resolves every fee at 1% of the amount
func (f *fixture) onePercent() {
	f.resolver.On("ResolveFee", mock.Anything, mock.Anything).Return(func(req scheme_resolver.FeeRequest) *scheme.Resolution {
		return &scheme.Resolution{Rate: decimal.NewFromInt(1), FeeAmount: shared.PercentOf(req.Amount, decimal.NewFromInt(1)), SchemeID: uuid.New()}
	}, nil)
}

func (f *fixture) capture(t *testing.T, partnerID uuid.UUID, amount string, capturedAt time.Time) *batch.ProviderTransaction {
	t.Helper()
	txn := batch.FromCallback(&shared.PaymentCallback{
		ExternalID:  uuid.NewString(),
		PartnerID:   partnerID,
		ServiceType: shared.ServiceTypePOS,
		Amount:      decimal.RequireFromString(amount),
		Status:      shared.CallbackStatusCaptured,
		CapturedAt:  capturedAt,
	})
	_, _, err := f.transactions.Record(context.Background(), txn)
	require.NoError(t, err)
	return txn
}

func TestRunner_BatchSettlementScenario(t *testing.T) {
	f := newFixture(t)
	f.onePercent()
	f.commissions.On("Distribute", mock.Anything, mock.Anything).Return([]*commission.Entry{}, nil)

	retailer := uuid.New()
	yesterday := runDay.Add(-20 * time.Hour)
	rows := []*batch.ProviderTransaction{
		f.capture(t, retailer, "100", yesterday),
		f.capture(t, retailer, "200", yesterday.Add(time.Minute)),
		f.capture(t, retailer, "300", yesterday.Add(2*time.Minute)),
	}
	today := f.capture(t, retailer, "999", runDay.Add(-time.Hour))

	result, err := f.runner.Run(context.Background(), time.Time{}, operator)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), result.Cutoff)
	assert.Equal(t, 3, result.ProcessedCount)
	assert.Zero(t, result.FailedCount)
	assert.Equal(t, 1, result.PartnerCount)
	require.Len(t, result.Credits, 1)
	assert.True(t, decimal.NewFromInt(594).Equal(result.Credits[0].Net))
	assert.True(t, decimal.NewFromInt(6).Equal(result.Credits[0].Fee))
	assert.Equal(t, "AUTO-T1-20260310-1", result.Credits[0].BatchRef)

	w := f.store.Wallet(wallet.NewRef(retailer, shared.WalletTypePrimary))
	require.NotNil(t, w)
	assert.True(t, decimal.NewFromInt(594).Equal(w.Balance))
	entries := f.store.EntriesFor(w.ID)
	require.Len(t, entries, 1)

	for _, row := range rows {
		stored := f.transactions.get(row.ID)
		assert.True(t, stored.WalletCredited)
		require.NotNil(t, stored.SettlementEntryID)
		assert.Equal(t, entries[0].ID, *stored.SettlementEntryID)
	}
	assert.False(t, f.transactions.get(today.ID).WalletCredited)
	f.commissions.AssertNumberOfCalls(t, "Distribute", 3)

	t.Run("rerun settles nothing new", func(t *testing.T) {
		again, err := f.runner.Run(context.Background(), time.Time{}, operator)
		require.NoError(t, err)
		assert.Zero(t, again.ProcessedCount)
		assert.Len(t, f.store.EntriesFor(w.ID), 1)
	})
}

func TestRunner_FeeFailureLeavesRowUnsettled(t *testing.T) {
	f := newFixture(t)
	retailer := uuid.New()
	good := f.capture(t, retailer, "100", runDay.Add(-30*time.Hour))
	bad := f.capture(t, retailer, "50", runDay.Add(-29*time.Hour))

	f.resolver.On("ResolveFee", mock.Anything, mock.MatchedBy(func(req scheme_resolver.FeeRequest) bool {
		return req.Amount.Equal(decimal.NewFromInt(50))
	})).Return(nil, scheme.ErrNoApplicableScheme{Service: scheme.ServiceMDR})
	f.resolver.On("ResolveFee", mock.Anything, mock.Anything).
		Return(&scheme.Resolution{Rate: decimal.NewFromInt(2), FeeAmount: decimal.NewFromInt(2)}, nil)
	f.commissions.On("Distribute", mock.Anything, mock.Anything).Return([]*commission.Entry{}, nil)

	result, err := f.runner.Run(context.Background(), time.Time{}, operator)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.True(t, f.transactions.get(good.ID).WalletCredited)
	stored := f.transactions.get(bad.ID)
	assert.False(t, stored.WalletCredited)
	assert.Nil(t, stored.BatchRef)

	w := f.store.Wallet(wallet.NewRef(retailer, shared.WalletTypePrimary))
	assert.True(t, decimal.NewFromInt(98).Equal(w.Balance))
}

func TestRunner_SkipsSettlementHeldWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.onePercent()
	f.commissions.On("Distribute", mock.Anything, mock.Anything).Return([]*commission.Entry{}, nil)

	held := uuid.New()
	open := uuid.New()
	ref := wallet.NewRef(held, shared.WalletTypePrimary)
	_, err := f.core.Credit(ctx, ledger.Posting{Wallet: ref, Amount: decimal.NewFromInt(1), ReferenceID: "SEED"}, system)
	require.NoError(t, err)
	flag := true
	_, err = f.core.SetWalletFlags(ctx, ref, wallet.Flags{SettlementHeld: &flag}, system)
	require.NoError(t, err)

	heldRow := f.capture(t, held, "100", runDay.Add(-30*time.Hour))
	f.capture(t, open, "100", runDay.Add(-30*time.Hour))

	result, err := f.runner.Run(ctx, time.Time{}, operator)
	require.NoError(t, err)
	assert.Equal(t, 1, result.HeldCount)
	assert.Equal(t, 1, result.ProcessedCount)
	stored := f.transactions.get(heldRow.ID)
	assert.False(t, stored.WalletCredited)
	assert.Nil(t, stored.BatchRef)
	assert.True(t, decimal.NewFromInt(1).Equal(f.store.Wallet(ref).Balance))
}

func TestRunner_RecoversInterruptedGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.commissions.On("Distribute", mock.Anything, mock.Anything).Return([]*commission.Entry{}, nil)

	retailer := uuid.New()
	a := f.capture(t, retailer, "100", runDay.Add(-30*time.Hour))
	b := f.capture(t, retailer, "200", runDay.Add(-30*time.Hour))
	ref := "AUTO-T1-20260309-7"
	for _, row := range []*batch.ProviderTransaction{a, b} {
		require.NoError(t, f.transactions.Claim(ctx, batch.Claim{
			TransactionID: row.ID,
			BatchRef:      ref,
			FeeAmount:     shared.PercentOf(row.Amount, decimal.NewFromInt(1)),
			NetAmount:     row.Amount.Sub(shared.PercentOf(row.Amount, decimal.NewFromInt(1))),
			RatePercent:   decimal.NewFromInt(1),
		}))
	}

	result, err := f.runner.Run(ctx, time.Time{}, operator)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProcessedCount)
	require.Len(t, result.Credits, 1)
	assert.True(t, result.Credits[0].Recovered)
	assert.Equal(t, ref, result.Credits[0].BatchRef)

	w := f.store.Wallet(wallet.NewRef(retailer, shared.WalletTypePrimary))
	assert.True(t, decimal.NewFromInt(297).Equal(w.Balance))
	entries := f.store.EntriesFor(w.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, ref, entries[0].ReferenceID)
	f.resolver.AssertNotCalled(t, "ResolveFee", mock.Anything, mock.Anything)
}

func TestRunner_CommissionFailureIsRecoveredUnderSameReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.onePercent()
	f.commissions.On("Distribute", mock.Anything, mock.Anything).Return(nil, errors.New("directory unavailable")).Once()
	f.commissions.On("Distribute", mock.Anything, mock.Anything).Return([]*commission.Entry{}, nil)

	retailer := uuid.New()
	f.capture(t, retailer, "100", runDay.Add(-30*time.Hour))
	f.capture(t, retailer, "300", runDay.Add(-29*time.Hour))

	first, err := f.runner.Run(ctx, time.Time{}, operator)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ProcessedCount)
	assert.Equal(t, 1, first.FailedCount)

	second, err := f.runner.Run(ctx, time.Time{}, operator)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ProcessedCount)

	w := f.store.Wallet(wallet.NewRef(retailer, shared.WalletTypePrimary))
	assert.True(t, decimal.NewFromInt(396).Equal(w.Balance))
	assert.Len(t, f.store.EntriesFor(w.ID), 1)
}

func TestRunner_ConcurrentRunRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.leases.Acquire(context.Background(), batch.JobName, "worker-2", time.Minute)
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), time.Time{}, operator)
	assert.ErrorIs(t, err, batch.ErrConcurrentBatchRun{})
}

func TestRunner_NestedRunRejected(t *testing.T) {
	f := newFixture(t)
	f.commissions.On("Distribute", mock.Anything, mock.Anything).Return([]*commission.Entry{}, nil)
	var nestedErr error
	nested := true
	f.resolver.On("ResolveFee", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		if nested {
			nested = false
			_, nestedErr = f.runner.Run(context.Background(), time.Time{}, operator)
		}
	}).Return(&scheme.Resolution{Rate: decimal.NewFromInt(1), FeeAmount: decimal.NewFromInt(1)}, nil)

	retailer := uuid.New()
	f.capture(t, retailer, "100", runDay.Add(-30*time.Hour))
	f.capture(t, retailer, "500", runDay.Add(-29*time.Hour))

	result, err := f.runner.Run(context.Background(), time.Time{}, operator)
	require.NoError(t, err)
	assert.ErrorIs(t, nestedErr, batch.ErrConcurrentBatchRun{})
	assert.Equal(t, 2, result.ProcessedCount)
	require.Len(t, result.Credits, 1)
	assert.True(t, decimal.NewFromInt(598).Equal(result.Credits[0].Net))

	w := f.store.Wallet(wallet.NewRef(retailer, shared.WalletTypePrimary))
	require.NotNil(t, w)
	assert.Len(t, f.store.EntriesFor(w.ID), 1)

	t.Run("lease is free after the run", func(t *testing.T) {
		_, err := f.runner.Run(context.Background(), time.Time{}, operator)
		assert.NoError(t, err)
	})
}

func TestRunner_NonPositiveNetIsNotLinked(t *testing.T) {
	f := newFixture(t)
	f.resolver.On("ResolveFee", mock.Anything, mock.Anything).Return(func(req scheme_resolver.FeeRequest) *scheme.Resolution {
		return &scheme.Resolution{Rate: decimal.NewFromInt(100), FeeAmount: req.Amount, SchemeID: uuid.New()}
	}, nil)

	row := f.capture(t, uuid.New(), "100", runDay.Add(-30*time.Hour))

	result, err := f.runner.Run(context.Background(), time.Time{}, operator)
	require.NoError(t, err)
	assert.Zero(t, result.ProcessedCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Empty(t, result.Credits)

	stored := f.transactions.get(row.ID)
	assert.False(t, stored.WalletCredited)
	assert.Nil(t, stored.SettlementEntryID)
	f.commissions.AssertNotCalled(t, "Distribute", mock.Anything, mock.Anything)
}

func TestRunner_StopFinishesCurrentGroup(t *testing.T) {
	f := newFixture(t)
	f.commissions.On("Distribute", mock.Anything, mock.Anything).Return([]*commission.Entry{}, nil)
	first := true
	f.resolver.On("ResolveFee", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		if first {
			first = false
			f.runner.Stop()
		}
	}).Return(&scheme.Resolution{Rate: decimal.NewFromInt(1), FeeAmount: decimal.NewFromInt(1)}, nil)

	f.capture(t, uuid.New(), "100", runDay.Add(-30*time.Hour))
	f.capture(t, uuid.New(), "100", runDay.Add(-30*time.Hour))

	result, err := f.runner.Run(context.Background(), time.Time{}, operator)
	require.NoError(t, err)
	assert.True(t, result.Stopped)
	assert.Equal(t, 1, result.ProcessedCount)
	assert.Equal(t, 1, result.PartnerCount)
}

func TestRunner_RequiresOperator(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Run(context.Background(), time.Time{}, capability.None())
	var forbidden capability.ErrForbidden
	assert.ErrorAs(t, err, &forbidden)
}
