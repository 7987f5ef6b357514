package ledger_core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/outbox"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/ledger_core/ledgertest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *ledgertest.Store) {
	t.Helper()
	store := ledgertest.NewStore()
	svc := NewService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		&config.LedgerConfig{DefaultPageSize: 20, MaxPageSize: 100},
		&ledgertest.TxManager{},
		store.Wallets(),
		store.Entries(),
		store.Outbox(),
	)
	return svc, store
}

var (
	system   = capability.System("test")
	operator = capability.Grant("operator-1", uuid.Nil, capability.ScopeLedgerPost)
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func credit(ref wallet.Ref, value, reference string) ledger.Posting {
	return ledger.Posting{Wallet: ref, Amount: amount(value), ServiceType: shared.ServiceTypeAdmin, ReferenceID: reference}
}

func assertBalanceInvariant(t *testing.T, store *ledgertest.Store, ref wallet.Ref) {
	t.Helper()
	w := store.Wallet(ref)
	require.NotNil(t, w)
	totals := ledger.Totals(store.EntriesFor(w.ID))
	assert.True(t, totals.Balance.Equal(w.Balance), "balance %s, entries %s", w.Balance, totals.Balance)
	assert.True(t, totals.Held.Equal(w.HeldAmount), "held %s, entries %s", w.HeldAmount, totals.Held)
	assert.True(t, totals.Reserved.Equal(w.ReservedAmount), "reserved %s, entries %s", w.ReservedAmount, totals.Reserved)
}

func TestService_HappyPathBillPayment(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	ref := wallet.NewRef(uuid.New(), shared.WalletTypePrimary)

	_, err := svc.Credit(ctx, credit(ref, "1000", "TOPUP_1"), operator)
	require.NoError(t, err)

	bill := ledger.Posting{Wallet: ref, Amount: amount("250"), ServiceType: shared.ServiceTypeBBPS, ReferenceID: "BBPS_X1"}
	first, err := svc.Debit(ctx, bill, operator)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, ledger.StatusCompleted, first.Entry.Status)
	assert.True(t, amount("1000").Equal(first.Entry.OpeningBalance))
	assert.True(t, amount("750").Equal(first.Entry.ClosingBalance))

	retry, err := svc.Debit(ctx, bill, operator)
	require.NoError(t, err)
	assert.True(t, retry.Replayed)
	assert.Equal(t, first.Entry.ID, retry.Entry.ID)

	balance, err := svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, amount("750").Equal(balance.Balance))
	assert.Len(t, store.EntriesFor(balance.WalletID), 2)
	assert.Len(t, store.OutboxMessages(), 2)
	assertBalanceInvariant(t, store, ref)
}

func TestService_DebitRejections(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	ref := wallet.NewRef(uuid.New(), shared.WalletTypePrimary)
	_, err := svc.Credit(ctx, credit(ref, "100", "TOPUP_1"), operator)
	require.NoError(t, err)
	walletID := store.Wallet(ref).ID

	t.Run("insufficient funds leaves no entry", func(t *testing.T) {
		_, err := svc.Debit(ctx, credit(ref, "100.01", "DMT_1"), operator)
		assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
		assert.Len(t, store.EntriesFor(walletID), 1)
	})

	t.Run("system components do not overdraw implicitly", func(t *testing.T) {
		_, err := svc.Debit(ctx, credit(ref, "100.01", "SYS_1"), system)
		assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
		assert.Len(t, store.EntriesFor(walletID), 1)
	})

	t.Run("overdraft capability", func(t *testing.T) {
		res, err := svc.Debit(ctx, credit(ref, "150", "ADJ_1"), operator.With(capability.ScopeOverdraft))
		require.NoError(t, err)
		assert.True(t, amount("-50").Equal(res.Entry.ClosingBalance))
	})

	t.Run("invalid amount", func(t *testing.T) {
		_, err := svc.Debit(ctx, credit(ref, "0", "ZERO_1"), operator)
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
		_, err = svc.Debit(ctx, credit(ref, "0.004", "ZERO_2"), operator)
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	})

	t.Run("missing reference", func(t *testing.T) {
		_, err := svc.Credit(ctx, credit(ref, "1", "  "), operator)
		assert.ErrorIs(t, err, ledger.ErrInvalidReference)
	})

	t.Run("unknown wallet", func(t *testing.T) {
		_, err := svc.Debit(ctx, credit(wallet.NewRef(uuid.New(), ""), "1", "X"), operator)
		assert.ErrorIs(t, err, wallet.ErrWalletNotFound{})
	})

	t.Run("no posting capability", func(t *testing.T) {
		_, err := svc.Credit(ctx, credit(ref, "1", "NOPE"), capability.None())
		assert.ErrorIs(t, err, capability.ErrForbidden{Scope: capability.ScopeLedgerPost})
	})

	assertBalanceInvariant(t, store, ref)
}

func TestService_FrozenAndSettlementHeld(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	ref := wallet.NewRef(uuid.New(), shared.WalletTypeAEPS)
	_, err := svc.Credit(ctx, credit(ref, "500", "AEPS_1"), operator)
	require.NoError(t, err)

	frozen := true
	_, err = svc.SetWalletFlags(ctx, ref, wallet.Flags{Frozen: &frozen}, operator)
	assert.ErrorIs(t, err, capability.ErrForbidden{})

	w, err := svc.SetWalletFlags(ctx, ref, wallet.Flags{Frozen: &frozen}, system)
	require.NoError(t, err)
	assert.True(t, w.IsFrozen)

	_, err = svc.Debit(ctx, credit(ref, "10", "AEPS_2"), operator)
	assert.ErrorIs(t, err, wallet.ErrWalletFrozen)
	_, err = svc.Debit(ctx, credit(ref, "10", "AEPS_2"), operator.With(capability.ScopeFrozenWallet))
	assert.NoError(t, err)

	unfrozen, held := false, true
	_, err = svc.SetWalletFlags(ctx, ref, wallet.Flags{Frozen: &unfrozen, SettlementHeld: &held}, system)
	require.NoError(t, err)

	settle := credit(ref, "10", "SETTLE_1")
	settle.RequireSettlementOpen = true
	_, err = svc.Debit(ctx, settle, operator)
	assert.ErrorIs(t, err, wallet.ErrSettlementHeld)

	_, err = svc.Debit(ctx, credit(ref, "10", "AEPS_3"), operator)
	assert.NoError(t, err, "ordinary debits continue while settlement is held")
}

func TestService_DisputeHoldScenario(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	ref := wallet.NewRef(uuid.New(), shared.WalletTypePrimary)

	pos := ledger.Posting{Wallet: ref, Amount: amount("500"), ServiceType: shared.ServiceTypePOS, ReferenceID: "POS_Y1", TransactionRef: "Y1"}
	res, err := svc.Credit(ctx, pos, operator)
	require.NoError(t, err)

	before, err := svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, amount("500").Equal(before.Spendable))

	entry, err := svc.FindTransactionEntry(ctx, ref, "Y1")
	require.NoError(t, err)
	assert.Equal(t, res.Entry.ID, entry.ID)

	held, err := svc.SetEntryStatus(ctx, entry.ID, ledger.StatusHold, system)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusHold, held.Status)

	during, err := svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, amount("500").Equal(during.Balance))
	assert.True(t, decimal.Zero.Equal(during.Spendable))
	assertBalanceInvariant(t, store, ref)

	reversed, err := svc.SetEntryStatus(ctx, entry.ID, ledger.StatusReversed, system)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusReversed, reversed.Status)

	after, err := svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(after.Balance))
	assert.True(t, decimal.Zero.Equal(after.Spendable))
	assertBalanceInvariant(t, store, ref)

	_, err = svc.SetEntryStatus(ctx, entry.ID, ledger.StatusCompleted, system)
	assert.ErrorAs(t, err, &ledger.ErrInvalidTransition{})

	var statusEvents int
	for _, m := range store.OutboxMessages() {
		if m.EventType == outbox.EventEntryStatusChanged {
			statusEvents++
		}
	}
	assert.Equal(t, 2, statusEvents)
}

func TestService_CompensatePendingDebit(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	ref := wallet.NewRef(uuid.New(), shared.WalletTypePrimary)
	_, err := svc.Credit(ctx, credit(ref, "1000", "TOPUP_1"), operator)
	require.NoError(t, err)

	settle := credit(ref, "400", "SETTLE_1")
	settle.Status = ledger.StatusPending
	settle.FundCategory = shared.FundCategorySettlement
	debit, err := svc.Debit(ctx, settle, operator)
	require.NoError(t, err)

	reserved, err := svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, amount("1000").Equal(reserved.Balance))
	assert.True(t, amount("600").Equal(reserved.Spendable))

	comp, err := svc.CompensateEntry(ctx, debit.Entry.ID, "SETTLE_REV_1", "rejected", system)
	require.NoError(t, err)
	assert.True(t, comp.Entry.IsCredit())
	assert.True(t, amount("400").Equal(comp.Entry.Credit))

	again, err := svc.CompensateEntry(ctx, debit.Entry.ID, "SETTLE_REV_1", "rejected", system)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	after, err := svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, amount("1000").Equal(after.Balance))
	assert.True(t, amount("1000").Equal(after.Spendable))

	original, err := svc.GetEntry(ctx, debit.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, original.Status)
	assertBalanceInvariant(t, store, ref)
}

func TestService_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	ref := wallet.NewRef(uuid.New(), shared.WalletTypePrimary)
	_, err := svc.Credit(ctx, credit(ref, "100", "TOPUP_1"), operator)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(ctx, credit(ref, "30", uuid.NewString()), operator)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	balance, err := svc.GetBalance(ctx, ref)
	require.NoError(t, err)
	assert.True(t, amount("10").Equal(balance.Balance))
	assertBalanceInvariant(t, store, ref)
}

func TestService_ListAndReconcile(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	ref := wallet.NewRef(uuid.New(), shared.WalletTypePrimary)
	for i := 0; i < 3; i++ {
		_, err := svc.Credit(ctx, credit(ref, "10", uuid.NewString()), operator)
		require.NoError(t, err)
	}

	entries, err := svc.ListEntries(ctx, ref, ledger.ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = svc.ListEntries(ctx, ref, ledger.ListFilter{Status: "bogus"})
	assert.Error(t, err)

	rec, err := svc.ReconcileWallet(ctx, ref)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, 3, rec.EntryCount)
	assert.True(t, amount("30").Equal(rec.Computed))
}
