// Package ledgertest provides in-memory ledger storage for tests of the
// engine components. Transactions are serialized by a mutex and are not
// rolled back on error.
package ledgertest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/outbox"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
)

// TxManager runs each unit of work under one lock with a nil transaction
type TxManager struct {
	mu    sync.Mutex
	Calls int
}

func (m *TxManager) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	return fn(nil)
}

// Store holds wallets, entries and outbox messages
type Store struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]wallet.Wallet
	entries []ledger.Entry
	outbox  []outbox.Message
}

func NewStore() *Store {
	return &Store{wallets: make(map[uuid.UUID]wallet.Wallet)}
}

// Wallets returns the store's wallet repository
func (s *Store) Wallets() wallet.Repository { return &walletRepo{s} }

// Entries returns the store's ledger entry repository
func (s *Store) Entries() ledger.Repository { return &entryRepo{s} }

// Outbox returns the store's outbox repository
func (s *Store) Outbox() outbox.Repository { return &outboxRepo{s} }

// Seed stores a wallet as is
func (s *Store) Seed(w *wallet.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.ID] = *w
}

// Wallet returns a copy of the wallet for ref, nil when missing
func (s *Store) Wallet(ref wallet.Ref) *wallet.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.wallets {
		if w.Ref() == ref {
			cp := w
			return &cp
		}
	}
	return nil
}

// EntriesFor returns copies of every entry of the wallet in insert order
func (s *Store) EntriesFor(walletID uuid.UUID) []*ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Entry
	for _, e := range s.entries {
		if e.WalletID == walletID {
			cp := e
			out = append(out, &cp)
		}
	}
	return out
}

// OutboxMessages returns copies of the queued messages
func (s *Store) OutboxMessages() []*outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*outbox.Message, 0, len(s.outbox))
	for _, m := range s.outbox {
		cp := m
		out = append(out, &cp)
	}
	return out
}

type walletRepo struct{ s *Store }

func (r *walletRepo) Create(_ context.Context, w *wallet.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.wallets {
		if existing.Ref() == w.Ref() {
			return nil
		}
	}
	r.s.wallets[w.ID] = *w
	return nil
}

func (r *walletRepo) GetByID(_ context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return nil, wallet.ErrWalletNotFound{ID: id}
	}
	return &w, nil
}

func (r *walletRepo) GetByRef(_ context.Context, ref wallet.Ref) (*wallet.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.wallets {
		if w.Ref() == ref {
			return &w, nil
		}
	}
	return nil, wallet.ErrWalletNotFound{Ref: ref}
}

func (r *walletRepo) LockByRef(ctx context.Context, ref wallet.Ref) (*wallet.Wallet, error) {
	return r.GetByRef(ctx, ref)
}

func (r *walletRepo) LockByID(ctx context.Context, id uuid.UUID) (*wallet.Wallet, error) {
	return r.GetByID(ctx, id)
}

func (r *walletRepo) UpdateBalances(_ context.Context, w *wallet.Wallet) error {
	return r.update(w, func(stored *wallet.Wallet) {
		stored.Balance = w.Balance
		stored.HeldAmount = w.HeldAmount
		stored.ReservedAmount = w.ReservedAmount
	})
}

func (r *walletRepo) UpdateFlags(_ context.Context, w *wallet.Wallet) error {
	return r.update(w, func(stored *wallet.Wallet) {
		stored.IsFrozen = w.IsFrozen
		stored.IsSettlementHeld = w.IsSettlementHeld
		stored.IsActive = w.IsActive
	})
}

func (r *walletRepo) update(w *wallet.Wallet, apply func(stored *wallet.Wallet)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.wallets[w.ID]
	if !ok {
		return wallet.ErrWalletNotFound{ID: w.ID}
	}
	if stored.Version != w.Version-1 {
		return wallet.ErrConcurrentModification{WalletID: w.ID}
	}
	apply(&stored)
	stored.Version = w.Version
	stored.UpdatedAt = w.UpdatedAt
	r.s.wallets[w.ID] = stored
	return nil
}

func (r *walletRepo) WithTx(pgx.Tx) wallet.Repository { return r }

type entryRepo struct{ s *Store }

func (r *entryRepo) Create(_ context.Context, e *ledger.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.entries {
		if existing.WalletID == e.WalletID && existing.ReferenceID == e.ReferenceID && existing.Status != ledger.StatusReversed {
			return ledger.ErrDuplicateReference{WalletID: e.WalletID, Reference: e.ReferenceID}
		}
	}
	r.s.entries = append(r.s.entries, *e)
	return nil
}

func (r *entryRepo) GetByID(_ context.Context, id uuid.UUID) (*ledger.Entry, error) {
	return r.find(func(e *ledger.Entry) bool { return e.ID == id }, ledger.ErrEntryNotFound{EntryID: id})
}

func (r *entryRepo) LockByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	return r.GetByID(ctx, id)
}

func (r *entryRepo) GetActiveByReference(_ context.Context, walletID uuid.UUID, referenceID string) (*ledger.Entry, error) {
	return r.find(func(e *ledger.Entry) bool {
		return e.WalletID == walletID && e.ReferenceID == referenceID && e.Status != ledger.StatusReversed
	}, ledger.ErrEntryNotFound{Reference: referenceID})
}

func (r *entryRepo) GetByTransactionRef(_ context.Context, walletID uuid.UUID, transactionRef string) (*ledger.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.entries) - 1; i >= 0; i-- {
		e := r.s.entries[i]
		if e.WalletID == walletID && e.TransactionRef == transactionRef {
			return &e, nil
		}
	}
	return nil, ledger.ErrEntryNotFound{Reference: transactionRef}
}

func (r *entryRepo) ListByReferencePrefix(_ context.Context, walletID uuid.UUID, prefix string) ([]*ledger.Entry, error) {
	return r.filter(func(e *ledger.Entry) bool {
		return e.WalletID == walletID && strings.HasPrefix(e.ReferenceID, prefix)
	}), nil
}

func (r *entryRepo) ListByWallet(_ context.Context, walletID uuid.UUID, f ledger.ListFilter) ([]*ledger.Entry, error) {
	out := r.filter(func(e *ledger.Entry) bool {
		return e.WalletID == walletID && (f.Status == "" || e.Status == f.Status)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Offset >= len(out) {
		return []*ledger.Entry{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *entryRepo) ListAllByWallet(_ context.Context, walletID uuid.UUID) ([]*ledger.Entry, error) {
	return r.filter(func(e *ledger.Entry) bool { return e.WalletID == walletID }), nil
}

func (r *entryRepo) UpdateStatus(_ context.Context, id uuid.UUID, status ledger.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.entries {
		if r.s.entries[i].ID == id {
			r.s.entries[i].Status = status
			return nil
		}
	}
	return ledger.ErrEntryNotFound{EntryID: id}
}

func (r *entryRepo) WithTx(pgx.Tx) ledger.Repository { return r }

func (r *entryRepo) find(match func(e *ledger.Entry) bool, notFound error) (*ledger.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.entries {
		if match(&e) {
			return &e, nil
		}
	}
	return nil, notFound
}

func (r *entryRepo) filter(match func(e *ledger.Entry) bool) []*ledger.Entry {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*ledger.Entry, 0)
	for _, e := range r.s.entries {
		if match(&e) {
			cp := e
			out = append(out, &cp)
		}
	}
	return out
}

type outboxRepo struct{ s *Store }

func (r *outboxRepo) Create(_ context.Context, m *outbox.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = int64(len(r.s.outbox) + 1)
	r.s.outbox = append(r.s.outbox, *m)
	return nil
}

func (r *outboxRepo) GetPending(_ context.Context, limit int) ([]*outbox.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*outbox.Message, 0)
	for _, m := range r.s.outbox {
		if m.Status == shared.OutboxStatusPending && len(out) < limit {
			cp := m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *outboxRepo) UpdateStatus(_ context.Context, id int64, status shared.OutboxStatus) error {
	return r.mutate(id, func(m *outbox.Message) { m.Status = status })
}

func (r *outboxRepo) IncrementAttempts(_ context.Context, id int64) error {
	return r.mutate(id, func(m *outbox.Message) { m.Attempts++ })
}

func (r *outboxRepo) mutate(id int64, fn func(m *outbox.Message)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			fn(&r.s.outbox[i])
			return nil
		}
	}
	return outbox.ErrMessageNotFound{ID: id}
}

func (r *outboxRepo) WithTx(pgx.Tx) outbox.Repository { return r }
