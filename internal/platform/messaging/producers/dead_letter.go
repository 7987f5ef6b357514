package producers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/timeutil"
	"github.com/segmentio/kafka-go"
)

// ErrDLQDisabled is returned by a producer that has no writer
var ErrDLQDisabled = errors.New("dead letter producer not initialized")

const reasonHeader = "dlq-reason"

// DeadLetter is the envelope parked on the DLQ topic. Payload holds the
// original message when it was valid JSON, RawPayload otherwise, so an
// operator can replay it onto SourceTopic unchanged.
type DeadLetter struct {
	Key           string          `json:"key"`
	SourceTopic   string          `json:"source_topic"`
	Reason        string          `json:"reason"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RawPayload    string          `json:"raw_payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewDeadLetter wraps an unprocessable message read from sourceTopic
func NewDeadLetter(ctx context.Context, sourceTopic, key string, value []byte, reason string) DeadLetter {
	dl := DeadLetter{
		Key:           key,
		SourceTopic:   sourceTopic,
		Reason:        reason,
		CorrelationID: logger.CorrelationID(ctx),
		FailedAt:      timeutil.Now(),
	}
	if len(value) > 0 && json.Valid(value) {
		dl.Payload = json.RawMessage(value)
	} else {
		dl.RawPayload = string(value)
	}
	return dl
}

// DLQProducer parks callbacks the worker cannot post
type DLQProducer struct {
	logger      *slog.Logger
	writer      KafkaWriter
	dlqTopic    string
	sourceTopic string
}

func NewDLQProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*DLQProducer, error) {
	if cfg.DLQTopic == "" {
		return nil, fmt.Errorf("kafka dlq topic is not configured")
	}

	writer, err := openTopicWriter(ctx, logger, cfg, cfg.DLQTopic, &kafka.LeastBytes{})
	if err != nil {
		return nil, fmt.Errorf("dlq producer: %w", err)
	}
	return &DLQProducer{
		logger:      logger,
		writer:      writer,
		dlqTopic:    cfg.DLQTopic,
		sourceTopic: cfg.CallbackTopic,
	}, nil
}

func (p *DLQProducer) PublishToDLQ(ctx context.Context, key string, value []byte, reason string) error {
	if p == nil || p.writer == nil {
		return ErrDLQDisabled
	}

	body, err := json.Marshal(NewDeadLetter(ctx, p.sourceTopic, key, value, reason))
	if err != nil {
		return fmt.Errorf("encode dead letter %s: %w", key, err)
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Headers: []kafka.Header{{Key: reasonHeader, Value: []byte(reason)}},
	}
	stampCorrelation(ctx, &msg)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Dead letter publish failed", "topic", p.dlqTopic, "key", key, "error", err)
		return fmt.Errorf("publish dead letter %s to %s: %w", key, p.dlqTopic, err)
	}

	p.logger.Warn("Message parked on DLQ", "topic", p.dlqTopic, "key", key, "reason", reason)
	return nil
}

func (p *DLQProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	p.logger.Info("Closing DLQ producer", "topic", p.dlqTopic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close dlq writer for %s: %w", p.dlqTopic, err)
	}
	return nil
}
