package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/partner-wallet-ledger/internal/config"
	"github.com/segmentio/kafka-go"
)

// CallbackProducer hands accepted provider callbacks to the settlement worker
type CallbackProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

// NewCallbackProducer uses a hash balancer so every callback for one external
// id lands on the same partition and is posted in order.
func NewCallbackProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*CallbackProducer, error) {
	if cfg.CallbackTopic == "" {
		return nil, fmt.Errorf("kafka callback topic is not configured")
	}

	writer, err := openTopicWriter(ctx, logger, cfg, cfg.CallbackTopic, &kafka.Hash{})
	if err != nil {
		return nil, fmt.Errorf("callback producer: %w", err)
	}
	return &CallbackProducer{logger: logger, writer: writer, topic: cfg.CallbackTopic}, nil
}

func (p *CallbackProducer) Publish(ctx context.Context, key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode callback %s: %w", key, err)
	}

	msg := kafka.Message{Key: []byte(key), Value: body}
	stampCorrelation(ctx, &msg)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Callback publish failed", "topic", p.topic, "external_id", key, "error", err)
		return fmt.Errorf("publish callback %s to %s: %w", key, p.topic, err)
	}

	p.logger.Debug("Callback queued for posting", "topic", p.topic, "external_id", key)
	return nil
}

func (p *CallbackProducer) Close() error {
	p.logger.Info("Closing callback producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close callback writer for %s: %w", p.topic, err)
	}
	return nil
}
