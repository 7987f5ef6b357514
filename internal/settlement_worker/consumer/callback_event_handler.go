package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/messaging/producers"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
	"github.com/partner-wallet-ledger/internal/settlement_worker/posting"
)

// CallbackEventHandler handles provider payment callbacks read from Kafka
type CallbackEventHandler struct {
	poster   posting.CallbackPoster
	producer producers.DeadLetterPublisher
	logger   *slog.Logger
}

// NewCallbackEventHandler creates a new handler
func NewCallbackEventHandler(
	logger *slog.Logger,
	poster posting.CallbackPoster,
	producer producers.DeadLetterPublisher,
) *CallbackEventHandler {
	return &CallbackEventHandler{
		poster:   poster,
		producer: producer,
		logger:   logger,
	}
}

// HandleMessage posts one callback. Unreadable or invalid callbacks are
// parked on the DLQ and acknowledged, as are callbacks the ledger refuses.
// Other posting failures are returned so the consumer retries them.
func (h *CallbackEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var cb shared.PaymentCallback
	if err := json.Unmarshal(value, &cb); err != nil {
		return h.deadLetter(ctx, key, value, "Failed to unmarshal payment callback", err)
	}
	if err := cb.Validate(); err != nil {
		return h.deadLetter(ctx, key, value, "Invalid payment callback", err)
	}

	if cb.CorrelationID != "" && logger.CorrelationID(ctx) == "" {
		ctx = logger.WithCorrelationID(ctx, cb.CorrelationID)
	}
	log := logger.FromContext(ctx, h.logger)

	log.Info("Received payment callback for posting",
		"external_id", cb.ExternalID,
		"partner_id", cb.PartnerID.String(),
		"service_type", cb.ServiceType,
		"amount", cb.Amount.String(),
		"instant", cb.Instant,
	)

	if err := h.poster.Post(ctx, &cb); err != nil {
		if rejected(err) {
			return h.deadLetter(ctx, key, value, "Payment callback rejected by ledger", err)
		}
		log.Error("Failed to post payment callback", "external_id", cb.ExternalID, "error", err)
		return fmt.Errorf("posting callback %s failed: %w", cb.ExternalID, err)
	}
	return nil
}

// rejected reports posting failures that no redelivery can fix
func rejected(err error) bool {
	return errors.Is(err, wallet.ErrWalletFrozen) ||
		errors.Is(err, wallet.ErrWalletNotFound{}) ||
		errors.Is(err, shared.ErrInvalidAmount)
}

func (h *CallbackEventHandler) deadLetter(ctx context.Context, key, value []byte, msg string, cause error) error {
	log := logger.FromContext(ctx, h.logger)
	log.Error(msg, "error", cause, "message_key", string(key))
	metrics.RecordCallback("unknown", "dead_lettered")

	if h.producer == nil {
		return fmt.Errorf("%s: %w", msg, cause)
	}

	reason := fmt.Sprintf("%s: %s", msg, cause.Error())
	if err := h.producer.PublishToDLQ(ctx, string(key), value, reason); err != nil {
		log.Error("Failed to publish message to DLQ",
			"dlq_error", err,
			"original_error", cause,
			"message_key", string(key),
		)
		return fmt.Errorf("%s: %w", msg, cause)
	}

	log.Info("Published unprocessable message to DLQ", "message_key", string(key), "reason", reason)
	return nil
}
