package transfer_saga

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/partner"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/transfer"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
	"github.com/partner-wallet-ledger/internal/platform/retry"
	"github.com/shopspring/decimal"
)

var ErrNotInHierarchy = errors.New("counterparty is not below the initiating partner")

// Ledger is the subset of the ledger core the saga steps post through
type Ledger interface {
	Credit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
	Debit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
	CompensateEntry(ctx context.Context, id uuid.UUID, reference, remarks string, caps capability.Set) (*ledger.PostingResult, error)
}

// TransferRequest moves funds between an upline partner and a partner below it.
// PartnerID is the initiating upline partner and defaults to the caller's.
type TransferRequest struct {
	PartnerID      uuid.UUID       `json:"partner_id"`
	CounterpartyID uuid.UUID       `json:"counterparty_id"`
	Amount         decimal.Decimal `json:"amount"`
	Remarks        string          `json:"remarks"`
}

type Service struct {
	cfg       *config.SagaConfig
	transfers transfer.Repository
	partners  partner.Directory
	ledger    Ledger
	system    capability.Set
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(logger *slog.Logger, cfg *config.SagaConfig, transfers transfer.Repository, partners partner.Directory, ledgerCore Ledger) *Service {
	return &Service{
		cfg:       cfg,
		transfers: transfers,
		partners:  partners,
		ledger:    ledgerCore,
		system:    capability.System("transfer_saga"),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Push moves funds from the initiating partner down to the counterparty
func (s *Service) Push(ctx context.Context, req TransferRequest, caps capability.Set) (*transfer.Transfer, error) {
	return s.start(ctx, transfer.KindPush, req, caps)
}

// Pull moves funds from the counterparty up to the initiating partner
func (s *Service) Pull(ctx context.Context, req TransferRequest, caps capability.Set) (*transfer.Transfer, error) {
	return s.start(ctx, transfer.KindPull, req, caps)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error) {
	return s.transfers.GetByID(ctx, id)
}

func (s *Service) start(ctx context.Context, kind transfer.Kind, req TransferRequest, caps capability.Set) (*transfer.Transfer, error) {
	if err := caps.Require(capability.ScopeTransfer); err != nil {
		return nil, err
	}
	if req.PartnerID == uuid.Nil {
		req.PartnerID = caps.PartnerID()
	}
	if req.PartnerID == uuid.Nil || (caps.PartnerID() != uuid.Nil && caps.PartnerID() != req.PartnerID) {
		return nil, capability.ErrForbidden{Actor: caps.Actor(), Scope: capability.ScopeTransfer}
	}
	amount, err := shared.NormalizeAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	upline, err := s.partners.Upline(ctx, req.CounterpartyID)
	if err != nil {
		return nil, err
	}
	if !upline.Contains(req.PartnerID) {
		return nil, ErrNotInHierarchy
	}

	initiator := wallet.NewRef(req.PartnerID, shared.WalletTypePrimary)
	counterparty := wallet.NewRef(req.CounterpartyID, shared.WalletTypePrimary)
	source, destination := initiator, counterparty
	if kind == transfer.KindPull {
		source, destination = counterparty, initiator
	}

	t, err := transfer.New(kind, source, destination, amount, caps.Actor(), req.Remarks)
	if err != nil {
		return nil, err
	}
	if err := s.transfers.Create(ctx, t); err != nil {
		return nil, err
	}
	metrics.RecordTransferSaga(string(t.Kind), string(t.State))

	sagaCtx := context.WithoutCancel(ctx)
	if err := s.debit(sagaCtx, t, caps); err != nil {
		return t, err
	}
	return t, s.credit(sagaCtx, t)
}

// debit runs step one. The caller's own scopes apply: no overdraft and no
// freeze override.
func (s *Service) debit(ctx context.Context, t *transfer.Transfer, caps capability.Set) error {
	posting := capability.Grant(caps.Actor(), caps.PartnerID(), capability.ScopeLedgerPost)
	posted, err := s.ledger.Debit(ctx, ledger.Posting{
		Wallet:         t.Source,
		Amount:         t.Amount,
		ServiceType:    shared.ServiceTypeTransfer,
		TxnType:        string(t.Kind),
		ReferenceID:    t.DebitReference(),
		TransactionRef: t.ID.String(),
		Remarks:        t.Remarks,
	}, posting)
	if err != nil {
		if stepErr := s.advance(ctx, t, transfer.StateFailed, err); stepErr != nil {
			return errors.Join(err, stepErr)
		}
		return err
	}
	t.DebitEntryID = &posted.Entry.ID
	return s.advance(ctx, t, transfer.StateDebited, nil)
}

// credit runs step two, compensating step one when it fails
func (s *Service) credit(ctx context.Context, t *transfer.Transfer) error {
	posted, err := s.ledger.Credit(ctx, ledger.Posting{
		Wallet:         t.Destination,
		Amount:         t.Amount,
		ServiceType:    shared.ServiceTypeTransfer,
		TxnType:        string(t.Kind),
		ReferenceID:    t.CreditReference(),
		TransactionRef: t.ID.String(),
		Remarks:        t.Remarks,
	}, capability.Grant(s.system.Actor(), uuid.Nil, capability.ScopeLedgerPost))
	if err == nil {
		t.CreditEntryID = &posted.Entry.ID
		if err := s.advance(ctx, t, transfer.StateCompleted, nil); err != nil {
			return err
		}
		logger.FromContext(ctx, s.logger).Info("Transfer completed",
			"transfer_id", t.ID.String(),
			"kind", t.Kind,
			"amount", t.Amount.String(),
		)
		return nil
	}

	logger.FromContext(ctx, s.logger).Warn("Transfer credit failed, compensating debit",
		"transfer_id", t.ID.String(),
		"error", err,
	)
	if stepErr := s.advance(ctx, t, transfer.StateCompensating, err); stepErr != nil {
		return errors.Join(err, stepErr)
	}
	if compErr := s.compensate(ctx, t); compErr != nil {
		return compErr
	}
	return err
}

// compensate returns the debited amount to the source, retrying with
// backoff. On failure the saga is left for RecoverCompensations.
func (s *Service) compensate(ctx context.Context, t *transfer.Transfer) error {
	log := logger.FromContext(ctx, s.logger)
	policy := retry.Policy{MaxElapsedTime: s.cfg.CompensationMaxElapsed}

	var result *ledger.PostingResult
	err := retry.Do(ctx, policy, func() error {
		t.Attempts++
		var compErr error
		result, compErr = s.ledger.CompensateEntry(ctx, *t.DebitEntryID, t.CompensationReference(), "transfer "+t.ID.String()+" failed", s.system)
		if errors.Is(compErr, ledger.ErrInvalidTransition{}) {
			return retry.Permanent(compErr)
		}
		return compErr
	}, func(err error, wait time.Duration) {
		log.Warn("Transfer compensation attempt failed", "transfer_id", t.ID.String(), "wait", wait, "error", err)
	})
	if err != nil {
		log.Error("Transfer compensation failed, left for recovery",
			"transfer_id", t.ID.String(),
			"debit_entry_id", t.DebitEntryID.String(),
			"error", err,
		)
		if stepErr := s.advance(ctx, t, transfer.StateCompensationFailed, err); stepErr != nil {
			return errors.Join(transfer.ErrCompensationFailed{TransferID: t.ID, Cause: err}, stepErr)
		}
		return transfer.ErrCompensationFailed{TransferID: t.ID, Cause: err}
	}

	t.CompensationEntryID = &result.Entry.ID
	if err := s.advance(ctx, t, transfer.StateCompensated, nil); err != nil {
		return err
	}
	log.Info("Transfer compensated",
		"transfer_id", t.ID.String(),
		"compensation_entry_id", result.Entry.ID.String(),
	)
	return nil
}

func (s *Service) advance(ctx context.Context, t *transfer.Transfer, next transfer.State, cause error) error {
	if err := t.TransitionTo(next, cause); err != nil {
		return err
	}
	if err := s.transfers.Update(ctx, t); err != nil {
		return err
	}
	metrics.RecordTransferSaga(string(t.Kind), string(t.State))
	return nil
}

// RecoverCompensations retries failed compensations and resumes sagas left
// mid-flight for longer than the recovery interval. It returns how many
// sagas reached a terminal state.
func (s *Service) RecoverCompensations(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx, s.logger)
	stale := s.now().Add(-s.cfg.RecoveryInterval)
	finished := 0

	for _, state := range []transfer.State{transfer.StateCompensationFailed, transfer.StateCompensating, transfer.StateDebited} {
		transfers, err := s.transfers.ListByState(ctx, state, s.cfg.RecoveryBatchSize)
		if err != nil {
			return finished, err
		}
		for _, t := range transfers {
			if ctx.Err() != nil {
				return finished, ctx.Err()
			}
			if state != transfer.StateCompensationFailed && t.UpdatedAt.After(stale) {
				continue
			}
			if err := s.resume(context.WithoutCancel(ctx), t); err != nil {
				log.Warn("Transfer recovery incomplete", "transfer_id", t.ID.String(), "state", t.State, "error", err)
			}
			if t.State.IsTerminal() {
				finished++
			}
		}
	}
	return finished, nil
}

func (s *Service) resume(ctx context.Context, t *transfer.Transfer) error {
	switch t.State {
	case transfer.StateDebited:
		// the credit reference replays if step two had already posted
		return s.credit(ctx, t)
	case transfer.StateCompensationFailed:
		if err := s.advance(ctx, t, transfer.StateCompensating, nil); err != nil {
			return err
		}
		return s.compensate(ctx, t)
	case transfer.StateCompensating:
		return s.compensate(ctx, t)
	}
	return nil
}
