package dispute_controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/dispute"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

// Ledger is the subset of the ledger core the controller acts through
type Ledger interface {
	FindTransactionEntry(ctx context.Context, ref wallet.Ref, transactionRef string) (*ledger.Entry, error)
	SetEntryStatus(ctx context.Context, id uuid.UUID, status ledger.Status, caps capability.Set) (*ledger.Entry, error)
	SetWalletFlags(ctx context.Context, ref wallet.Ref, flags wallet.Flags, caps capability.Set) (*wallet.Wallet, error)
}

// Settlements reports the settlements a wallet hold would intercept
type Settlements interface {
	PendingForWallet(ctx context.Context, walletID uuid.UUID) ([]*settlement.Settlement, error)
}

type RaiseRequest struct {
	TransactionRef string            `json:"transaction_ref"`
	PartnerID      uuid.UUID         `json:"partner_id"`
	WalletType     shared.WalletType `json:"wallet_type"`
	Reason         string            `json:"reason"`
}

// WalletHold is the wallet after a flag change and the settlements it stopped
type WalletHold struct {
	Wallet      *wallet.Wallet           `json:"wallet"`
	Intercepted []*settlement.Settlement `json:"intercepted_settlements"`
}

type Service struct {
	txm         persistence.TxManager
	disputes    dispute.Repository
	ledger      Ledger
	settlements Settlements
	logger      *slog.Logger
}

func NewService(logger *slog.Logger, txm persistence.TxManager, disputes dispute.Repository, ledgerCore Ledger, settlements Settlements) *Service {
	return &Service{
		txm:         txm,
		disputes:    disputes,
		ledger:      ledgerCore,
		settlements: settlements,
		logger:      logger,
	}
}

// Raise opens a dispute on the entry the transaction posted to the wallet
func (s *Service) Raise(ctx context.Context, req RaiseRequest, caps capability.Set) (*dispute.Dispute, error) {
	if err := caps.Require(capability.ScopeDisputeAdmin); err != nil {
		return nil, err
	}
	req.TransactionRef = strings.TrimSpace(req.TransactionRef)
	if req.TransactionRef == "" {
		return nil, dispute.ErrMissingReference
	}
	if req.WalletType == "" {
		req.WalletType = shared.WalletTypePrimary
	}

	active, err := s.disputes.GetActiveByTransaction(ctx, req.TransactionRef)
	if err == nil {
		return nil, dispute.ErrActiveDispute{TransactionRef: req.TransactionRef, DisputeID: active.ID}
	}
	if !errors.Is(err, dispute.ErrDisputeNotFound{}) {
		return nil, err
	}

	entry, err := s.ledger.FindTransactionEntry(ctx, wallet.NewRef(req.PartnerID, req.WalletType), req.TransactionRef)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &dispute.Dispute{
		ID:             uuid.New(),
		TransactionRef: req.TransactionRef,
		LedgerEntryID:  entry.ID,
		PartnerID:      entry.PartnerID,
		WalletType:     entry.WalletType,
		Status:         dispute.StatusOpen,
		Reason:         strings.TrimSpace(req.Reason),
		RaisedBy:       caps.Actor(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("Dispute raised",
		"dispute_id", d.ID.String(),
		"transaction_ref", d.TransactionRef,
		"ledger_entry_id", d.LedgerEntryID.String(),
		"actor", d.RaisedBy,
	)
	return d, nil
}

// Transition applies an operator action. Hold forces the disputed entry to
// hold; resolve and reject close the dispute and leave the entry as it is.
// The dispute row stays locked while the entry is held.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, action dispute.Action, resolution string, caps capability.Set) (*dispute.Dispute, error) {
	if err := caps.Require(capability.ScopeDisputeAdmin); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, s.logger)

	var (
		updated   *dispute.Dispute
		entryHeld bool
	)
	txCtx := context.WithoutCancel(ctx)
	err := s.txm.ExecuteTx(txCtx, func(tx pgx.Tx) error {
		repo := s.disputes.WithTx(tx)
		locked, err := repo.LockByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := locked.Apply(action, resolution); err != nil {
			return err
		}
		if action == dispute.ActionHold {
			if _, err := s.ledger.SetEntryStatus(txCtx, locked.LedgerEntryID, ledger.StatusHold, caps.With(capability.ScopeEntryAdmin)); err != nil {
				return err
			}
			entryHeld = true
		}
		updated = locked
		return repo.Update(txCtx, locked)
	})
	if err != nil {
		if entryHeld {
			log.Error("Disputed entry held but dispute not updated",
				"dispute_id", id.String(),
				"ledger_entry_id", updated.LedgerEntryID.String(),
				"error", err,
			)
		}
		return nil, err
	}

	log.Info("Dispute transitioned",
		"dispute_id", id.String(),
		"action", action,
		"status", updated.Status,
		"actor", caps.Actor(),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*dispute.Dispute, error) {
	return s.disputes.GetByID(ctx, id)
}

// HoldWallet sets or clears the settlement hold of a wallet
func (s *Service) HoldWallet(ctx context.Context, ref wallet.Ref, held bool, caps capability.Set) (*WalletHold, error) {
	return s.setFlags(ctx, ref, wallet.Flags{SettlementHeld: &held}, caps)
}

// FreezeWallet sets or clears the freeze of a wallet. A frozen wallet also
// stops its settlements.
func (s *Service) FreezeWallet(ctx context.Context, ref wallet.Ref, frozen bool, caps capability.Set) (*WalletHold, error) {
	flags := wallet.Flags{Frozen: &frozen}
	if frozen {
		flags.SettlementHeld = &frozen
	}
	return s.setFlags(ctx, ref, flags, caps)
}

func (s *Service) setFlags(ctx context.Context, ref wallet.Ref, flags wallet.Flags, caps capability.Set) (*WalletHold, error) {
	if err := caps.Require(capability.ScopeDisputeAdmin); err != nil {
		return nil, err
	}
	w, err := s.ledger.SetWalletFlags(ctx, ref, flags, caps.With(capability.ScopeWalletAdmin))
	if err != nil {
		return nil, err
	}

	result := &WalletHold{Wallet: w, Intercepted: []*settlement.Settlement{}}
	if !w.IsSettlementHeld {
		return result, nil
	}
	intercepted, err := s.settlements.PendingForWallet(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	result.Intercepted = intercepted

	if len(intercepted) > 0 {
		logger.FromContext(ctx, s.logger).Warn("Wallet hold intercepted in-flight settlements",
			"wallet", ref.String(),
			"count", len(intercepted),
			"actor", caps.Actor(),
		)
	}
	return result, nil
}
