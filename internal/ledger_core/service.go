// Package ledger_core owns every wallet mutation. Each operation is one
// explicit unit of work: lock the wallet row, check idempotency and the
// wallet's flags, append the entry, update the materialized balance and
// queue an outbox message, all inside a single database transaction.
package ledger_core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/outbox"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

// Balance is the materialized state of a wallet
type Balance struct {
	WalletID         uuid.UUID       `json:"wallet_id"`
	Wallet           wallet.Ref      `json:"wallet"`
	Balance          decimal.Decimal `json:"balance"`
	HeldAmount       decimal.Decimal `json:"held_amount"`
	ReservedAmount   decimal.Decimal `json:"reserved_amount"`
	Spendable        decimal.Decimal `json:"spendable"`
	IsFrozen         bool            `json:"is_frozen"`
	IsSettlementHeld bool            `json:"is_settlement_held"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func balanceOf(w *wallet.Wallet) *Balance {
	return &Balance{
		WalletID:         w.ID,
		Wallet:           w.Ref(),
		Balance:          w.Balance,
		HeldAmount:       w.HeldAmount,
		ReservedAmount:   w.ReservedAmount,
		Spendable:        w.Spendable(),
		IsFrozen:         w.IsFrozen,
		IsSettlementHeld: w.IsSettlementHeld,
		UpdatedAt:        w.UpdatedAt,
	}
}

type Service struct {
	txm             persistence.TxManager
	wallets         wallet.Repository
	entries         ledger.Repository
	outbox          outbox.Repository
	defaultPageSize int
	maxPageSize     int
	logger          *slog.Logger
}

func NewService(
	logger *slog.Logger,
	cfg *config.LedgerConfig,
	txm persistence.TxManager,
	wallets wallet.Repository,
	entries ledger.Repository,
	outboxRepo outbox.Repository,
) *Service {
	return &Service{
		txm:             txm,
		wallets:         wallets,
		entries:         entries,
		outbox:          outboxRepo,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		logger:          logger,
	}
}

// Credit adds money to a wallet, creating the wallet on first use
func (s *Service) Credit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error) {
	p.Direction = ledger.DirectionCredit
	return s.post(ctx, p, caps)
}

// Debit removes money from a wallet. The spendable balance must cover the
// amount unless caps carries the overdraft scope.
func (s *Service) Debit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error) {
	p.Direction = ledger.DirectionDebit
	return s.post(ctx, p, caps)
}

func (s *Service) post(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx, s.logger)

	if err := caps.Require(capability.ScopeLedgerPost); err != nil {
		return nil, err
	}
	if err := p.Normalize(); err != nil {
		metrics.RecordPosting(string(p.Direction), string(p.ServiceType), "rejected", time.Since(start).Seconds())
		return nil, err
	}

	var result *ledger.PostingResult
	txCtx := context.WithoutCancel(ctx)
	err := s.txm.ExecuteTx(txCtx, func(tx pgx.Tx) error {
		var err error
		result, err = s.postInTx(txCtx, tx, p, caps)
		return err
	})

	outcome := "posted"
	switch {
	case err != nil:
		outcome = "rejected"
		log.Warn("Posting rejected",
			"wallet", p.Wallet.String(),
			"direction", p.Direction,
			"reference_id", p.ReferenceID,
			"amount", p.Amount.String(),
			"error", err,
		)
	case result.Replayed:
		outcome = "replayed"
		log.Info("Posting replayed", "wallet", p.Wallet.String(), "reference_id", p.ReferenceID, "entry_id", result.Entry.ID.String())
	default:
		log.Info("Posting committed",
			"wallet", p.Wallet.String(),
			"direction", p.Direction,
			"reference_id", p.ReferenceID,
			"entry_id", result.Entry.ID.String(),
			"status", result.Entry.Status,
			"closing_balance", result.Entry.ClosingBalance.String(),
		)
	}
	metrics.RecordPosting(string(p.Direction), string(p.ServiceType), outcome, time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) postInTx(ctx context.Context, tx pgx.Tx, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error) {
	wallets := s.wallets.WithTx(tx)
	entries := s.entries.WithTx(tx)

	w, err := s.lockWallet(ctx, wallets, p.Wallet, p.Direction == ledger.DirectionCredit)
	if err != nil {
		return nil, err
	}

	prior, err := entries.GetActiveByReference(ctx, w.ID, p.ReferenceID)
	if err == nil {
		return &ledger.PostingResult{Entry: prior, Replayed: true}, nil
	}
	if !errors.Is(err, ledger.ErrEntryNotFound{}) {
		return nil, err
	}

	if err := w.CheckPostable(caps.Has(capability.ScopeFrozenWallet)); err != nil {
		return nil, err
	}
	if p.RequireSettlementOpen {
		if err := w.CheckSettlementOpen(); err != nil {
			return nil, err
		}
	}
	if p.Direction == ledger.DirectionDebit {
		if err := w.CheckDebit(p.Amount, caps.Has(capability.ScopeOverdraft)); err != nil {
			return nil, err
		}
	}

	entry := ledger.NewEntry(p, w, caps.Actor())
	if err := s.appendEntry(ctx, tx, w, entry); err != nil {
		return nil, err
	}
	return &ledger.PostingResult{Entry: entry}, nil
}

// appendEntry inserts a new entry and applies it to the locked wallet
func (s *Service) appendEntry(ctx context.Context, tx pgx.Tx, w *wallet.Wallet, entry *ledger.Entry) error {
	if err := s.entries.WithTx(tx).Create(ctx, entry); err != nil {
		return err
	}
	ledger.TransitionDelta(entry, "", entry.Status).ApplyTo(w)
	if err := s.wallets.WithTx(tx).UpdateBalances(ctx, w); err != nil {
		return err
	}
	return s.enqueue(ctx, tx, outbox.EventEntryPosted, entry)
}

func (s *Service) lockWallet(ctx context.Context, wallets wallet.Repository, ref wallet.Ref, create bool) (*wallet.Wallet, error) {
	w, err := wallets.LockByRef(ctx, ref)
	if err == nil || !create || !errors.Is(err, wallet.ErrWalletNotFound{}) {
		return w, err
	}
	if err := wallets.Create(ctx, wallet.New(ref)); err != nil {
		return nil, err
	}
	return wallets.LockByRef(ctx, ref)
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, eventType outbox.EventType, entry *ledger.Entry) error {
	msg, err := outbox.NewMessage(eventType, entry)
	if err != nil {
		return fmt.Errorf("failed to build outbox message: %w", err)
	}
	return s.outbox.WithTx(tx).Create(ctx, msg)
}

// SetEntryStatus moves an entry through its life cycle and applies the
// balance effect of the move. Setting the current status is a no-op.
func (s *Service) SetEntryStatus(ctx context.Context, entryID uuid.UUID, status ledger.Status, caps capability.Set) (*ledger.Entry, error) {
	if err := caps.Require(capability.ScopeEntryAdmin); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, ledger.ErrInvalidTransition{To: status}
	}

	var updated *ledger.Entry
	var from ledger.Status
	txCtx := context.WithoutCancel(ctx)
	err := s.txm.ExecuteTx(txCtx, func(tx pgx.Tx) error {
		entry, w, err := s.lockEntry(txCtx, tx, entryID)
		if err != nil {
			return err
		}
		from = entry.Status
		if entry.Status == status {
			updated = entry
			return nil
		}
		if err := s.transition(txCtx, tx, w, entry, status); err != nil {
			return err
		}
		updated = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from != status {
		metrics.RecordEntryTransition(string(from), string(status))
		logger.FromContext(ctx, s.logger).Info("Ledger entry status changed",
			"entry_id", entryID.String(),
			"from", from,
			"to", status,
			"actor", caps.Actor(),
		)
	}
	return updated, nil
}

// lockEntry locks the entry's wallet first, then the entry, so entry
// updates serialize with postings on the same wallet
func (s *Service) lockEntry(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) (*ledger.Entry, *wallet.Wallet, error) {
	entries := s.entries.WithTx(tx)
	snapshot, err := entries.GetByID(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	w, err := s.wallets.WithTx(tx).LockByID(ctx, snapshot.WalletID)
	if err != nil {
		return nil, nil, err
	}
	entry, err := entries.LockByID(ctx, entryID)
	if err != nil {
		return nil, nil, err
	}
	return entry, w, nil
}

func (s *Service) transition(ctx context.Context, tx pgx.Tx, w *wallet.Wallet, entry *ledger.Entry, to ledger.Status) error {
	if !entry.Status.CanTransitionTo(to) {
		return ledger.ErrInvalidTransition{From: entry.Status, To: to}
	}
	ledger.TransitionDelta(entry, entry.Status, to).ApplyTo(w)
	if err := s.entries.WithTx(tx).UpdateStatus(ctx, entry.ID, to); err != nil {
		return err
	}
	if err := s.wallets.WithTx(tx).UpdateBalances(ctx, w); err != nil {
		return err
	}
	entry.Status = to
	entry.UpdatedAt = time.Now().UTC()
	return s.enqueue(ctx, tx, outbox.EventEntryStatusChanged, entry)
}

// CompensateEntry undoes an entry by posting its opposite under reference.
// A pending or held entry is completed first so the reservation or hold it
// made is released in the same unit of work. Compensation ignores freezes and overdraft.
func (s *Service) CompensateEntry(ctx context.Context, entryID uuid.UUID, reference, remarks string, caps capability.Set) (*ledger.PostingResult, error) {
	if err := caps.Require(capability.ScopeEntryAdmin); err != nil {
		return nil, err
	}

	var result *ledger.PostingResult
	txCtx := context.WithoutCancel(ctx)
	err := s.txm.ExecuteTx(txCtx, func(tx pgx.Tx) error {
		original, w, err := s.lockEntry(txCtx, tx, entryID)
		if err != nil {
			return err
		}

		prior, err := s.entries.WithTx(tx).GetActiveByReference(txCtx, w.ID, reference)
		if err == nil {
			result = &ledger.PostingResult{Entry: prior, Replayed: true}
			return nil
		}
		if !errors.Is(err, ledger.ErrEntryNotFound{}) {
			return err
		}

		switch original.Status {
		case ledger.StatusReversed:
			return ledger.ErrInvalidTransition{From: original.Status, To: ledger.StatusCompleted}
		case ledger.StatusPending, ledger.StatusHold:
			if err := s.transition(txCtx, tx, w, original, ledger.StatusCompleted); err != nil {
				return err
			}
		}

		p := ledger.Posting{
			Wallet:         w.Ref(),
			Direction:      ledger.DirectionCredit,
			Amount:         original.Amount(),
			FundCategory:   original.FundCategory,
			ServiceType:    original.ServiceType,
			TxnType:        "compensation",
			ReferenceID:    reference,
			TransactionRef: original.TransactionRef,
			Remarks:        remarks,
		}
		if original.IsCredit() {
			p.Direction = ledger.DirectionDebit
		}
		if err := p.Normalize(); err != nil {
			return err
		}

		entry := ledger.NewEntry(p, w, caps.Actor())
		if err := s.appendEntry(txCtx, tx, w, entry); err != nil {
			return err
		}
		result = &ledger.PostingResult{Entry: entry}
		return nil
	})
	if err != nil {
		logger.FromContext(ctx, s.logger).Error("Failed to compensate ledger entry",
			"entry_id", entryID.String(),
			"reference_id", reference,
			"error", err,
		)
		return nil, err
	}

	if !result.Replayed {
		metrics.RecordPosting(string(ledger.DirectionCredit), string(result.Entry.ServiceType), "compensated", 0)
		logger.FromContext(ctx, s.logger).Info("Ledger entry compensated",
			"entry_id", entryID.String(),
			"compensation_entry_id", result.Entry.ID.String(),
			"reference_id", reference,
		)
	}
	return result, nil
}

// SetWalletFlags applies administrative flags to a wallet
func (s *Service) SetWalletFlags(ctx context.Context, ref wallet.Ref, flags wallet.Flags, caps capability.Set) (*wallet.Wallet, error) {
	if err := caps.Require(capability.ScopeWalletAdmin); err != nil {
		return nil, err
	}

	var updated *wallet.Wallet
	changed := false
	err := s.txm.ExecuteTx(context.WithoutCancel(ctx), func(tx pgx.Tx) error {
		wallets := s.wallets.WithTx(tx)
		w, err := wallets.LockByRef(ctx, ref)
		if err != nil {
			return err
		}
		updated = w
		if !flags.Apply(w) {
			return nil
		}
		changed = true
		w.Touch()
		return wallets.UpdateFlags(ctx, w)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logger.FromContext(ctx, s.logger).Info("Wallet flags updated",
			"wallet", ref.String(),
			"is_frozen", updated.IsFrozen,
			"is_settlement_held", updated.IsSettlementHeld,
			"is_active", updated.IsActive,
			"actor", caps.Actor(),
		)
	}
	return updated, nil
}

// GetBalance returns the materialized balance of a wallet
func (s *Service) GetBalance(ctx context.Context, ref wallet.Ref) (*Balance, error) {
	w, err := s.wallets.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return balanceOf(w), nil
}

// GetWallet returns the wallet for ref
func (s *Service) GetWallet(ctx context.Context, ref wallet.Ref) (*wallet.Wallet, error) {
	return s.wallets.GetByRef(ctx, ref)
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	return s.entries.GetByID(ctx, id)
}

// FindTransactionEntry returns the entry a business transaction posted to
// the wallet, matching the transaction reference before the entry reference
func (s *Service) FindTransactionEntry(ctx context.Context, ref wallet.Ref, transactionRef string) (*ledger.Entry, error) {
	w, err := s.wallets.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	entry, err := s.entries.GetByTransactionRef(ctx, w.ID, transactionRef)
	if err == nil || !errors.Is(err, ledger.ErrEntryNotFound{}) {
		return entry, err
	}
	return s.entries.GetActiveByReference(ctx, w.ID, transactionRef)
}

// ListEntries pages through a wallet's entries, newest first
func (s *Service) ListEntries(ctx context.Context, ref wallet.Ref, filter ledger.ListFilter) ([]*ledger.Entry, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("invalid entry status filter: %s", filter.Status)
	}
	if filter.Limit <= 0 {
		filter.Limit = s.defaultPageSize
	}
	if filter.Limit > s.maxPageSize {
		filter.Limit = s.maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	w, err := s.wallets.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.entries.ListByWallet(ctx, w.ID, filter)
}

// ReconcileWallet recomputes the wallet's amounts from its entries
func (s *Service) ReconcileWallet(ctx context.Context, ref wallet.Ref) (*ledger.Reconciliation, error) {
	w, err := s.wallets.GetByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	entries, err := s.entries.ListAllByWallet(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	rec := ledger.Reconcile(w, entries)
	if !rec.Consistent {
		logger.FromContext(ctx, s.logger).Warn("Wallet balance drift detected",
			"wallet", ref.String(),
			"materialized", rec.Materialized.String(),
			"computed", rec.Computed.String(),
			"drift", rec.Drift.String(),
		)
	}
	return &rec, nil
}
