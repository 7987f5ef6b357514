package consumers

import (
	"context"
	"log/slog"
	"time"

	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/retry"
	"github.com/segmentio/kafka-go"
)

const correlationHeader = "correlation-id"

var (
	fetchRetryPolicy   = retry.Policy{InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}
	handlerRetryPolicy = retry.Policy{InitialInterval: 200 * time.Millisecond, MaxInterval: 30 * time.Second}
)

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// KafkaReader is the part of kafka.Reader the consumer drives
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer feeds provider callbacks to a handler one at a time per
// partition. A message whose handler fails is retried with backoff and its
// offset is committed only once the handler succeeds, so a later commit can
// never skip over it.
type KafkaConsumer struct {
	reader  KafkaReader
	logger  *slog.Logger
	topic   string
	groupID string
	done    chan struct{}
}

func NewKafkaConsumer(_ context.Context, log *slog.Logger, cfg *config.KafkaConfig) *KafkaConsumer {
	offset := kafka.FirstOffset
	if cfg.StartOffset == kafka.LastOffset {
		offset = kafka.LastOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{cfg.Brokers},
		Topic:       cfg.CallbackTopic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    cfg.MinBytes,
		MaxBytes:    cfg.MaxBytes,
		MaxWait:     cfg.MaxWait,
		StartOffset: offset,
	})
	return &KafkaConsumer{
		reader:  reader,
		logger:  log.With("topic", cfg.CallbackTopic, "group_id", cfg.ConsumerGroup),
		topic:   cfg.CallbackTopic,
		groupID: cfg.ConsumerGroup,
		done:    make(chan struct{}),
	}
}

// Subscribe runs the fetch loop in the background until ctx is done
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Consuming payment callbacks")
	go func() {
		defer close(c.done)
		for {
			msg, ok := c.fetch(ctx)
			if !ok {
				c.logger.Info("Callback consumer stopped")
				return
			}
			if !c.handle(ctx, msg, handler) {
				c.logger.Info("Callback consumer stopped with message in flight", "partition", msg.Partition, "offset", msg.Offset)
				return
			}
		}
	}()
	return nil
}

func (c *KafkaConsumer) fetch(ctx context.Context) (kafka.Message, bool) {
	var msg kafka.Message
	err := retry.Do(ctx, fetchRetryPolicy, func() error {
		var err error
		msg, err = c.reader.FetchMessage(ctx)
		if err != nil && ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, wait time.Duration) {
		c.logger.Error("Kafka fetch failed", "wait", wait, "error", err)
	})
	return msg, err == nil
}

// handle reports false only when ctx ended before the message was processed
func (c *KafkaConsumer) handle(ctx context.Context, msg kafka.Message, handler MessageHandler) bool {
	msgCtx := messageContext(ctx, msg)
	log := logger.FromContext(msgCtx, c.logger).With(
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
	)
	log.Debug("Callback message received")

	err := retry.Do(ctx, handlerRetryPolicy, func() error {
		return handler(msgCtx, msg.Key, msg.Value)
	}, func(err error, wait time.Duration) {
		log.Error("Callback handling failed, offset held", "wait", wait, "error", err)
	})
	if err != nil {
		return false
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("Offset commit failed, message may be redelivered", "error", err)
	}
	return true
}

func messageContext(ctx context.Context, msg kafka.Message) context.Context {
	for _, h := range msg.Headers {
		if h.Key == correlationHeader && len(h.Value) > 0 {
			return logger.WithCorrelationID(ctx, string(h.Value))
		}
	}
	return ctx
}

// Done is closed once the loop started by Subscribe has exited
func (c *KafkaConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *KafkaConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
