package settlement_orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
	"github.com/partner-wallet-ledger/internal/platform/payout"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
	"github.com/partner-wallet-ledger/internal/platform/retry"
	"github.com/shopspring/decimal"
)

// requestNamespace derives stable settlement ids from client request ids
var requestNamespace = uuid.MustParse("9d3c2f43-5a34-4f0e-9a55-0b1f6f3e8c21")

// Ledger is the subset of the ledger core the orchestrator posts through
type Ledger interface {
	Debit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
	GetWallet(ctx context.Context, ref wallet.Ref) (*wallet.Wallet, error)
	SetEntryStatus(ctx context.Context, id uuid.UUID, status ledger.Status, caps capability.Set) (*ledger.Entry, error)
	CompensateEntry(ctx context.Context, id uuid.UUID, reference, remarks string, caps capability.Set) (*ledger.PostingResult, error)
}

// SettlementRequest asks for wallet funds to be paid out. RequestID makes
// the request idempotent per partner.
type SettlementRequest struct {
	PartnerID  uuid.UUID         `json:"partner_id"`
	WalletType shared.WalletType `json:"wallet_type"`
	Amount     decimal.Decimal   `json:"amount"`
	Mode       settlement.Mode   `json:"mode"`
	RequestID  string            `json:"request_id"`
}

type Service struct {
	cfg         *config.SettlementConfig
	txm         persistence.TxManager
	settlements settlement.Repository
	ledger      Ledger
	executor    settlement.PayoutExecutor
	system      capability.Set
	logger      *slog.Logger
}

func NewService(
	logger *slog.Logger,
	cfg *config.SettlementConfig,
	txm persistence.TxManager,
	settlements settlement.Repository,
	ledgerCore Ledger,
	executor settlement.PayoutExecutor,
) *Service {
	return &Service{
		cfg:         cfg,
		txm:         txm,
		settlements: settlements,
		ledger:      ledgerCore,
		executor:    executor,
		system:      capability.System("settlement_orchestrator"),
		logger:      logger,
	}
}

// Request reserves the amount with a pending ledger debit and records a
// pending settlement. T0 requests are paid out at once when auto release is on.
func (s *Service) Request(ctx context.Context, req SettlementRequest, caps capability.Set) (*settlement.Settlement, error) {
	if err := caps.Require(capability.ScopeSettlementRequest); err != nil {
		return nil, err
	}
	if caps.PartnerID() != uuid.Nil && caps.PartnerID() != req.PartnerID {
		return nil, capability.ErrForbidden{Actor: caps.Actor(), Scope: capability.ScopeSettlementAdmin}
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %s", settlement.ErrInvalidMode, req.Mode)
	}
	amount, err := shared.NormalizeAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if req.WalletType == "" {
		req.WalletType = shared.WalletTypePrimary
	}

	id := uuid.New()
	if req.RequestID = strings.TrimSpace(req.RequestID); req.RequestID != "" {
		id = uuid.NewSHA1(requestNamespace, []byte(req.PartnerID.String()+"/"+req.RequestID))
		existing, err := s.settlements.GetByID(ctx, id)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, settlement.ErrSettlementNotFound{}) {
			return nil, err
		}
	}

	log := logger.FromContext(ctx, s.logger)

	// only the posting scope: a settlement may never overdraw or bypass a freeze
	posting := capability.Grant(caps.Actor(), caps.PartnerID(), capability.ScopeLedgerPost)
	posted, err := s.ledger.Debit(ctx, ledger.Posting{
		Wallet:                wallet.NewRef(req.PartnerID, req.WalletType),
		Amount:                amount,
		FundCategory:          shared.FundCategorySettlement,
		ServiceType:           shared.ServiceTypeSettlement,
		TxnType:               "settlement",
		ReferenceID:           settlement.Reference(id),
		Remarks:               string(req.Mode) + " settlement",
		Status:                ledger.StatusPending,
		RequireSettlementOpen: true,
	}, posting)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	st := &settlement.Settlement{
		ID:            id,
		PartnerID:     req.PartnerID,
		WalletID:      posted.Entry.WalletID,
		WalletType:    req.WalletType,
		Amount:        amount,
		Mode:          req.Mode,
		Status:        settlement.StatusPending,
		LedgerEntryID: posted.Entry.ID,
		RequestedBy:   caps.Actor(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.settlements.Create(ctx, st); err != nil {
		if existing, getErr := s.settlements.GetByID(ctx, id); getErr == nil {
			return existing, nil
		}
		log.Error("Failed to record settlement, compensating reservation",
			"settlement_id", id.String(),
			"ledger_entry_id", posted.Entry.ID.String(),
			"error", err,
		)
		if _, compErr := s.ledger.CompensateEntry(ctx, posted.Entry.ID, settlement.ReversalReference(id), "settlement not recorded", s.system); compErr != nil {
			return nil, errors.Join(err, compErr)
		}
		return nil, err
	}

	metrics.RecordSettlementTransition(string(st.Mode), string(st.Status))
	log.Info("Settlement requested",
		"settlement_id", st.ID.String(),
		"partner_id", st.PartnerID.String(),
		"amount", st.Amount.String(),
		"mode", st.Mode,
	)

	if st.Mode == settlement.ModeT0 && s.cfg.T0AutoRelease {
		released, err := s.Release(ctx, st.ID, settlement.ActionApprove, s.system)
		if err != nil {
			log.Warn("T0 auto release did not complete", "settlement_id", st.ID.String(), "error", err)
			return s.settlements.GetByID(ctx, st.ID)
		}
		return released, nil
	}
	return st, nil
}

// Release approves or rejects a settlement
func (s *Service) Release(ctx context.Context, id uuid.UUID, action settlement.Action, caps capability.Set) (*settlement.Settlement, error) {
	if err := caps.Require(capability.ScopeSettlementAdmin); err != nil {
		return nil, err
	}
	switch action {
	case settlement.ActionApprove:
		return s.approve(ctx, id)
	case settlement.ActionReject:
		return s.reject(ctx, id, caps)
	default:
		return nil, fmt.Errorf("%w: %s", settlement.ErrInvalidAction, action)
	}
}

// approve moves the settlement to processing and calls the payout executor.
// A settlement-held wallet intercepts the payout before it starts.
func (s *Service) approve(ctx context.Context, id uuid.UUID) (*settlement.Settlement, error) {
	current, err := s.settlements.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	w, err := s.ledger.GetWallet(ctx, wallet.NewRef(current.PartnerID, current.WalletType))
	if err != nil {
		return nil, err
	}
	if err := w.CheckSettlementOpen(); err != nil {
		return nil, err
	}

	var st *settlement.Settlement
	err = s.update(ctx, id, func(locked *settlement.Settlement) error {
		if err := locked.TransitionTo(settlement.StatusProcessing); err != nil {
			return err
		}
		locked.Attempts++
		locked.FailureReason = ""
		st = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	result, err := s.payout(ctx, st)
	switch {
	case err != nil:
		return st, err
	case result.Success:
		return s.complete(ctx, st.ID, result.Reference)
	default:
		failed, updErr := s.fail(ctx, st.ID, result.Reason)
		if updErr != nil {
			return nil, updErr
		}
		return failed, settlement.ErrPayoutFailed{SettlementID: st.ID, Reason: result.Reason}
	}
}

// payout calls the executor with backoff on transient errors, bounded by
// the payout timeout. Running out of time leaves the outcome unknown.
func (s *Service) payout(ctx context.Context, st *settlement.Settlement) (*settlement.PayoutResult, error) {
	log := logger.FromContext(ctx, s.logger)
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PayoutTimeout)
	defer cancel()

	req := settlement.PayoutRequest{
		SettlementID:   st.ID,
		PartnerID:      st.PartnerID,
		Amount:         st.Amount,
		Mode:           st.Mode,
		IdempotencyKey: fmt.Sprintf("%s-%d", st.ID, st.Attempts),
	}
	policy := retry.Policy{
		InitialInterval: s.cfg.PayoutInitialInterval,
		MaxInterval:     s.cfg.PayoutMaxInterval,
		MaxElapsedTime:  s.cfg.PayoutTimeout,
	}

	var result *settlement.PayoutResult
	err := retry.Do(callCtx, policy, func() error {
		var execErr error
		result, execErr = s.executor.Execute(callCtx, req)
		if execErr == nil {
			return nil
		}
		var transient payout.ErrTransient
		if errors.As(execErr, &transient) {
			return execErr
		}
		return retry.Permanent(execErr)
	}, func(err error, wait time.Duration) {
		log.Warn("Payout attempt failed, retrying", "settlement_id", st.ID.String(), "wait", wait, "error", err)
	})
	seconds := time.Since(start).Seconds()

	if err != nil {
		var transient payout.ErrTransient
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &transient) {
			metrics.RecordPayout("timeout", seconds)
			log.Error("Payout outcome unknown, settlement left processing",
				"settlement_id", st.ID.String(),
				"error", err,
			)
			return nil, settlement.ErrPayoutTimeout
		}
		metrics.RecordPayout("error", seconds)
		return nil, fmt.Errorf("failed to execute payout: %w", err)
	}

	outcome := "success"
	if !result.Success {
		outcome = "failed"
	}
	metrics.RecordPayout(outcome, seconds)
	return result, nil
}

func (s *Service) complete(ctx context.Context, id uuid.UUID, reference string) (*settlement.Settlement, error) {
	var st *settlement.Settlement
	err := s.update(ctx, id, func(locked *settlement.Settlement) error {
		if err := locked.TransitionTo(settlement.StatusSuccess); err != nil {
			return err
		}
		if _, err := s.ledger.SetEntryStatus(ctx, locked.LedgerEntryID, ledger.StatusCompleted, s.system); err != nil {
			return err
		}
		locked.PayoutReference = reference
		st = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Info("Settlement paid out",
		"settlement_id", st.ID.String(),
		"payout_reference", reference,
	)
	return st, nil
}

func (s *Service) fail(ctx context.Context, id uuid.UUID, reason string) (*settlement.Settlement, error) {
	var st *settlement.Settlement
	err := s.update(ctx, id, func(locked *settlement.Settlement) error {
		if err := locked.TransitionTo(settlement.StatusFailed); err != nil {
			return err
		}
		locked.FailureReason = reason
		st = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Warn("Settlement payout failed",
		"settlement_id", st.ID.String(),
		"reason", reason,
	)
	return st, nil
}

// reject returns the reserved or paid amount to the wallet
func (s *Service) reject(ctx context.Context, id uuid.UUID, caps capability.Set) (*settlement.Settlement, error) {
	current, err := s.settlements.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(settlement.StatusReversed) {
		return nil, settlement.ErrInvalidTransition{ID: id, From: current.Status, To: settlement.StatusReversed}
	}

	reversal, err := s.ledger.CompensateEntry(ctx, current.LedgerEntryID, settlement.ReversalReference(id), "settlement rejected by "+caps.Actor(), s.system)
	if err != nil {
		return nil, err
	}

	var st *settlement.Settlement
	err = s.update(ctx, id, func(locked *settlement.Settlement) error {
		if err := locked.TransitionTo(settlement.StatusReversed); err != nil {
			return err
		}
		locked.ReversalEntryID = &reversal.Entry.ID
		st = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Info("Settlement reversed",
		"settlement_id", st.ID.String(),
		"reversal_entry_id", reversal.Entry.ID.String(),
		"actor", caps.Actor(),
	)
	return st, nil
}

// Reconcile records the real outcome of a settlement stuck in processing
func (s *Service) Reconcile(ctx context.Context, id uuid.UUID, outcome settlement.Outcome, payoutRef string, caps capability.Set) (*settlement.Settlement, error) {
	if err := caps.Require(capability.ScopeSettlementAdmin); err != nil {
		return nil, err
	}
	switch outcome {
	case settlement.OutcomeSuccess:
		return s.complete(ctx, id, payoutRef)
	case settlement.OutcomeFailed:
		return s.fail(ctx, id, "reconciled as failed by "+caps.Actor())
	default:
		return nil, fmt.Errorf("invalid settlement outcome: %s", outcome)
	}
}

// update runs fn on the locked settlement and persists the result
func (s *Service) update(ctx context.Context, id uuid.UUID, fn func(locked *settlement.Settlement) error) error {
	var mode settlement.Mode
	var status settlement.Status
	txCtx := context.WithoutCancel(ctx)
	err := s.txm.ExecuteTx(txCtx, func(tx pgx.Tx) error {
		repo := s.settlements.WithTx(tx)
		locked, err := repo.LockByID(txCtx, id)
		if err != nil {
			return err
		}
		if err := fn(locked); err != nil {
			return err
		}
		mode, status = locked.Mode, locked.Status
		return repo.Update(txCtx, locked)
	})
	if err != nil {
		return err
	}
	metrics.RecordSettlementTransition(string(mode), string(status))
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*settlement.Settlement, error) {
	return s.settlements.GetByID(ctx, id)
}

func (s *Service) ListByPartner(ctx context.Context, partnerID uuid.UUID, limit, offset int) ([]*settlement.Settlement, error) {
	return s.settlements.ListByPartner(ctx, partnerID, limit, offset)
}

// PendingForWallet lists settlements a wallet hold would intercept
func (s *Service) PendingForWallet(ctx context.Context, walletID uuid.UUID) ([]*settlement.Settlement, error) {
	return s.settlements.ListOpenByWallet(ctx, walletID)
}
