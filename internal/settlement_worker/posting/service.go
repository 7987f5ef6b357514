package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
	"github.com/partner-wallet-ledger/internal/platform/timeutil"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
)

// Callback outcomes recorded in metrics
const (
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeDeferred  = "deferred"
	OutcomeSettled   = "settled"
)

// Reference is the ledger reference of an instant callback credit
func Reference(serviceType shared.ServiceType, externalID string) string {
	return strings.ToUpper(string(serviceType)) + "_" + externalID
}

// Service records provider callbacks and settles instant ones straight
// into the retailer wallet. Everything else waits for the batch runner.
type Service struct {
	transactions batch.TransactionRepository
	ledger       Ledger
	resolver     FeeResolver
	commissions  CommissionDistributor
	system       capability.Set
	now          func() time.Time
	logger       *slog.Logger
}

func NewService(
	logger *slog.Logger,
	transactions batch.TransactionRepository,
	ledgerCore Ledger,
	resolver FeeResolver,
	commissions CommissionDistributor,
) *Service {
	return &Service{
		transactions: transactions,
		ledger:       ledgerCore,
		resolver:     resolver,
		commissions:  commissions,
		system:       capability.System("settlement_worker"),
		now:          timeutil.Now,
		logger:       logger,
	}
}

// Post records the callback and, for instant captured payments, credits
// the net amount. A returned error means the callback should be retried.
func (s *Service) Post(ctx context.Context, cb *shared.PaymentCallback) error {
	log := logger.FromContext(ctx, s.logger).With("external_id", cb.ExternalID)

	t, created, err := s.transactions.Record(ctx, batch.FromCallback(cb))
	if err != nil {
		return fmt.Errorf("failed to record provider transaction %s: %w", cb.ExternalID, err)
	}
	if t.WalletCredited {
		log.Info("Callback already settled", "transaction_id", t.ID.String())
		metrics.RecordCallback(string(t.ServiceType), OutcomeDuplicate)
		return nil
	}
	if t.Status != shared.CallbackStatusCaptured {
		log.Info("Provider reported a failed payment, nothing to credit", "created", created)
		metrics.RecordCallback(string(t.ServiceType), OutcomeFailed)
		return nil
	}
	if !cb.Instant {
		log.Info("Callback recorded for batch settlement", "created", created)
		metrics.RecordCallback(string(t.ServiceType), OutcomeDeferred)
		return nil
	}

	settled, err := s.settle(ctx, log, t)
	if err != nil {
		return err
	}
	outcome := OutcomeDeferred
	if settled {
		outcome = OutcomeSettled
	}
	metrics.RecordCallback(string(t.ServiceType), outcome)
	return nil
}

// settle claims the row under its instant reference so an interrupted
// attempt is finished by the batch runner under the same reference
func (s *Service) settle(ctx context.Context, log *slog.Logger, t *batch.ProviderTransaction) (bool, error) {
	ref := Reference(t.ServiceType, t.ExternalID)

	res, err := s.resolver.ResolveFee(ctx, scheme_resolver.FeeRequest{
		Amount:             t.Amount,
		ServiceType:        t.ServiceType,
		Mode:               t.Mode,
		CardType:           t.CardType,
		CardBrand:          t.CardBrand,
		CardClassification: t.CardClassification,
		PartnerID:          t.PartnerID,
	})
	if err != nil {
		if errors.Is(err, scheme.ErrNoApplicableScheme{}) {
			log.Warn("No fee scheme for instant callback, leaving it for batch settlement", "error", err)
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve fee for %s: %w", t.ExternalID, err)
	}
	fee := res.FeeAmount
	net := commission.NetSettlement(t.Amount, fee)

	err = s.transactions.Claim(ctx, batch.Claim{
		TransactionID: t.ID,
		BatchRef:      ref,
		FeeAmount:     fee,
		NetAmount:     net,
		RatePercent:   res.Rate,
		SchemeID:      res.SchemeID,
	})
	if err != nil {
		var taken batch.ErrAlreadyClaimed
		if !errors.As(err, &taken) {
			return false, fmt.Errorf("failed to claim %s: %w", t.ExternalID, err)
		}
		if t.BatchRef == nil || *t.BatchRef != ref {
			log.Info("Transaction already claimed by a batch run", "batch_ref", valueOf(t.BatchRef))
			return false, nil
		}
	}

	var entryID uuid.UUID
	if net.IsPositive() {
		posted, err := s.ledger.Credit(context.WithoutCancel(ctx), ledger.Posting{
			Wallet:                wallet.NewRef(t.PartnerID, t.WalletType),
			Amount:                net,
			FundCategory:          shared.FundCategoryOnline,
			ServiceType:           t.ServiceType,
			TxnType:               "instant_settlement",
			ReferenceID:           ref,
			TransactionRef:        t.ExternalID,
			Remarks:               fmt.Sprintf("T0 settlement of %s", t.ExternalID),
			RequireSettlementOpen: true,
		}, s.system)
		if err != nil {
			if errors.Is(err, wallet.ErrSettlementHeld) {
				log.Warn("Wallet settlement-held, instant credit left for the batch runner")
				return false, nil
			}
			return false, fmt.Errorf("failed to credit %s: %w", ref, err)
		}
		entryID = posted.Entry.ID
		if posted.Replayed {
			log.Info("Instant credit already posted", "entry_id", entryID.String())
		}
	}

	if fee.IsPositive() {
		if _, err := s.commissions.Distribute(ctx, commission_distributor.DistributionRequest{
			TransactionID: t.ExternalID,
			PartnerID:     t.PartnerID,
			ServiceType:   t.ServiceType,
			FeeAmount:     fee,
		}); err != nil {
			return false, fmt.Errorf("failed to distribute commission for %s: %w", t.ExternalID, err)
		}
	}

	if err := s.transactions.MarkSettled(ctx, []uuid.UUID{t.ID}, entryID, s.now()); err != nil {
		return false, fmt.Errorf("failed to mark %s settled: %w", t.ExternalID, err)
	}

	log.Info("Instant callback settled",
		"reference", ref,
		"entry_id", entryID.String(),
		"fee", fee.String(),
		"net", net.String(),
	)
	return true, nil
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
