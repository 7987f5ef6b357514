// Package config provides configuration structures and validation for both binaries.
// Values come from a .env file under configs/ and are overridden by environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration. Each field is one
// subsystem and is validated during startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Outbox      OutboxConfig
	WorkerPool  WorkerPoolConfig
	Ledger      LedgerConfig
	Scheme      SchemeConfig
	Commission  CommissionConfig
	Settlement  SettlementConfig
	Batch       BatchConfig
	Saga        SagaConfig
	RateLimit   RateLimitConfig
	Metrics     MetricsConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

// KafkaConfig contains Kafka configuration for provider callbacks
type KafkaConfig struct {
	Brokers           string
	CallbackTopic     string
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
}

// MongoDBConfig contains MongoDB configuration for the statement read model
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// OutboxConfig contains outbox polling configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int
}

// LedgerConfig bounds statement and entry listings
type LedgerConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// SchemeConfig holds the role cap table for MDR rates, e.g.
// "retailer:0.5:5,distributor:0.3:3,master_distributor:0.1:2"
type SchemeConfig struct {
	MDRCaps string
}

// CommissionConfig contains the upline share policy
type CommissionConfig struct {
	DistributorPercent       decimal.Decimal
	MasterDistributorPercent decimal.Decimal
	LockOnCreate             bool
	MaxAdjustmentPercent     decimal.Decimal
}

// SettlementConfig contains payout executor settings
type SettlementConfig struct {
	PayoutURL             string
	PayoutTimeout         time.Duration // Bound on one payout call including retries
	PayoutInitialInterval time.Duration
	PayoutMaxInterval     time.Duration
	T0AutoRelease         bool
}

// BatchConfig contains the T1 batch settlement schedule
type BatchConfig struct {
	Enabled  bool
	RunAt    string // UTC wall clock, HH:MM:SS
	Limit    int
	LeaseTTL time.Duration
	Owner    string
}

// SagaConfig contains transfer compensation settings
type SagaConfig struct {
	CompensationMaxElapsed time.Duration
	RecoveryInterval       time.Duration
	RecoveryBatchSize      int
}

// RateLimitConfig contains API rate limiting settings
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// MetricsConfig contains Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// validate checks every configuration value and reports all problems at once
func (c *Config) validate() error {
	var validationErrors []string
	check := func(ok bool, msg string) {
		if !ok {
			validationErrors = append(validationErrors, msg)
		}
	}

	check(c.Server.Port > 0, "SERVER_PORT must be greater than 0")
	check(c.Server.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	check(c.Server.ReadTimeout > 0, "SERVER_READ_TIMEOUT must be greater than 0")
	check(c.Server.WriteTimeout > 0, "SERVER_WRITE_TIMEOUT must be greater than 0")
	check(c.Server.IdleTimeout > 0, "SERVER_IDLE_TIMEOUT must be greater than 0")

	check(c.Kafka.Brokers != "", "KAFKA_BROKERS is required")
	check(c.Kafka.CallbackTopic != "", "KAFKA_CALLBACK_TOPIC is required")
	check(c.Kafka.ConsumerGroup != "", "KAFKA_CONSUMER_GROUP is required")
	check(c.Kafka.MinBytes > 0, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	check(c.Kafka.MaxBytes > 0, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	check(c.Kafka.MaxWait > 0, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	check(c.Kafka.DLQTopic != "", "KAFKA_DLQ_TOPIC is required")

	check(c.Postgres.URL != "", "POSTGRES_URL is required")
	check(c.Postgres.MaxConns > 0, "POSTGRES_MAX_CONNS must be greater than 0")
	check(c.Postgres.MinConns > 0, "POSTGRES_MIN_CONNS must be greater than 0")
	check(c.Postgres.ConnMaxLifetime > 0, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	check(c.Postgres.ConnMaxIdleTime > 0, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")

	check(c.MongoDB.URI != "", "MONGO_URI is required")
	check(c.MongoDB.Database != "", "MONGO_DATABASE is required")
	check(c.MongoDB.Timeout > 0, "MONGO_TIMEOUT must be greater than 0")
	check(c.MongoDB.MaxPoolSize > 0, "MONGO_MAX_POOL_SIZE must be greater than 0")
	check(c.MongoDB.MinPoolSize > 0, "MONGO_MIN_POOL_SIZE must be greater than 0")
	check(c.MongoDB.MaxConnIdleTime > 0, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")

	check(c.Outbox.PollingInterval > 0, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	check(c.Outbox.BatchSize > 0, "OUTBOX_BATCH_SIZE must be greater than 0")
	check(c.Outbox.MaxRetryAttempts > 0, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")

	check(c.WorkerPool.Size > 0, "WORKER_POOL_SIZE must be greater than 0")

	check(c.Ledger.DefaultPageSize > 0, "LEDGER_DEFAULT_PAGE_SIZE must be greater than 0")
	check(c.Ledger.MaxPageSize >= c.Ledger.DefaultPageSize, "LEDGER_MAX_PAGE_SIZE must not be below LEDGER_DEFAULT_PAGE_SIZE")

	check(!c.Commission.DistributorPercent.IsNegative(), "COMMISSION_DISTRIBUTOR_PERCENT must not be negative")
	check(!c.Commission.MasterDistributorPercent.IsNegative(), "COMMISSION_MASTER_DISTRIBUTOR_PERCENT must not be negative")
	check(!c.Commission.MaxAdjustmentPercent.IsNegative(), "COMMISSION_MAX_ADJUSTMENT_PERCENT must not be negative")

	check(c.Settlement.PayoutURL != "", "SETTLEMENT_PAYOUT_URL is required")
	check(c.Settlement.PayoutTimeout > 0, "SETTLEMENT_PAYOUT_TIMEOUT must be greater than 0")
	check(c.Settlement.PayoutInitialInterval > 0, "SETTLEMENT_PAYOUT_INITIAL_INTERVAL must be greater than 0")
	check(c.Settlement.PayoutMaxInterval >= c.Settlement.PayoutInitialInterval, "SETTLEMENT_PAYOUT_MAX_INTERVAL must not be below the initial interval")

	_, err := time.Parse(time.TimeOnly, c.Batch.RunAt)
	check(err == nil, "BATCH_RUN_AT must be formatted as HH:MM:SS")
	check(c.Batch.Limit > 0, "BATCH_LIMIT must be greater than 0")
	check(c.Batch.LeaseTTL > 0, "BATCH_LEASE_TTL must be greater than 0")
	check(c.Batch.Owner != "", "BATCH_OWNER is required")

	check(c.Saga.CompensationMaxElapsed > 0, "SAGA_COMPENSATION_MAX_ELAPSED must be greater than 0")
	check(c.Saga.RecoveryInterval > 0, "SAGA_RECOVERY_INTERVAL must be greater than 0")
	check(c.Saga.RecoveryBatchSize > 0, "SAGA_RECOVERY_BATCH_SIZE must be greater than 0")

	check(c.RateLimit.RequestsPerSecond > 0, "RATE_LIMIT_RPS must be greater than 0")
	check(c.RateLimit.Burst > 0, "RATE_LIMIT_BURST must be greater than 0")

	check(!c.Metrics.Enabled || strings.HasPrefix(c.Metrics.Path, "/"), "METRICS_PATH must start with /")

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
