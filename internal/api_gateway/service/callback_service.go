package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/messaging/producers"
)

// CallbackServiceImpl implements the CallbackService interface
type CallbackServiceImpl struct {
	transactions batch.TransactionRepository
	producer     producers.MessagePublisher
	logger       *slog.Logger
}

// NewCallbackService creates a new callback service
func NewCallbackService(logger *slog.Logger, transactions batch.TransactionRepository, producer producers.MessagePublisher) CallbackService {
	return &CallbackServiceImpl{
		transactions: transactions,
		producer:     producer,
		logger:       logger,
	}
}

// Submit validates the callback and publishes it keyed by external id so
// callbacks for one transaction stay ordered on a single partition
func (s *CallbackServiceImpl) Submit(ctx context.Context, cb *shared.PaymentCallback) (*batch.ProviderTransaction, error) {
	log := logger.FromContext(ctx, s.logger)

	if err := cb.Validate(); err != nil {
		return nil, err
	}
	cb.Amount = shared.RoundMoney(cb.Amount)
	if cb.Status == "" {
		cb.Status = shared.CallbackStatusCaptured
	}
	if cb.CorrelationID == "" {
		cb.CorrelationID = logger.CorrelationID(ctx)
	}

	existing, err := s.transactions.GetByExternalID(ctx, cb.ExternalID)
	if err == nil {
		log.Info("Found recorded provider transaction for callback",
			"external_id", cb.ExternalID,
			"transaction_id", existing.ID.String(),
			"wallet_credited", existing.WalletCredited,
		)
		return existing, nil
	}
	if !errors.Is(err, batch.ErrTransactionNotFound{}) {
		log.Error("Failed to check for recorded provider transaction",
			"external_id", cb.ExternalID,
			"error", err,
		)
		return nil, err
	}

	if err := s.producer.Publish(ctx, cb.ExternalID, cb); err != nil {
		log.Error("Failed to publish payment callback",
			"external_id", cb.ExternalID,
			"partner_id", cb.PartnerID.String(),
			"service_type", cb.ServiceType,
			"error", err,
		)
		return nil, err
	}

	log.Info("Payment callback published",
		"external_id", cb.ExternalID,
		"partner_id", cb.PartnerID.String(),
		"service_type", cb.ServiceType,
		"amount", cb.Amount.String(),
		"instant", cb.Instant,
	)
	return nil, nil
}
