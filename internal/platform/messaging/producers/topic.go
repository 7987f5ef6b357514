package producers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/retry"
	"github.com/segmentio/kafka-go"
)

const correlationHeader = "correlation-id"

var topicLookupPolicy = retry.Policy{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxElapsedTime:  10 * time.Second,
}

// openTopicWriter makes sure topic exists on the broker and returns a writer
// that waits for every in-sync replica.
func openTopicWriter(ctx context.Context, log *slog.Logger, cfg *config.KafkaConfig, topic string, balancer kafka.Balancer) (*kafka.Writer, error) {
	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("dial kafka broker %s: %w", cfg.Brokers, err)
	}
	defer conn.Close()

	if err := ensureTopic(ctx, conn, topic, cfg.NumPartitions, cfg.ReplicationFactor, log); err != nil {
		return nil, err
	}

	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        topic,
		Balancer:     balancer,
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.MaxWait,
	}, nil
}

// stampCorrelation copies the request correlation id onto the message headers
func stampCorrelation(ctx context.Context, msg *kafka.Message) {
	if id := logger.CorrelationID(ctx); id != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: correlationHeader, Value: []byte(id)})
	}
}

// ensureTopic creates the topic when its partitions cannot be read
func ensureTopic(ctx context.Context, admin TopicAdmin, topic string, partitions, replicas int, log *slog.Logger) error {
	var found []kafka.Partition
	lookupErr := retry.Do(ctx, topicLookupPolicy, func() error {
		var err error
		found, err = admin.ReadPartitions(topic)
		return err
	}, func(err error, wait time.Duration) {
		log.Warn("Kafka topic lookup failed, retrying", "topic", topic, "wait", wait, "error", err)
	})
	if lookupErr == nil && len(found) > 0 {
		log.Debug("Kafka topic present", "topic", topic, "partitions", len(found))
		return nil
	}

	partitions = max(partitions, 1)
	replicas = max(replicas, 1)

	log.Info("Creating Kafka topic", "topic", topic, "partitions", partitions, "replicas", replicas, "lookup_error", lookupErr)
	if err := admin.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: replicas,
	}); err != nil {
		return fmt.Errorf("create kafka topic %s: %w", topic, err)
	}
	return nil
}
