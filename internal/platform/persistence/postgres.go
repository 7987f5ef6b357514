package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/platform/retry"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// txRetryPolicy bounds how long a unit of work is replayed after the server
// aborted it for a lock conflict
var txRetryPolicy = retry.Policy{
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     200 * time.Millisecond,
	MaxElapsedTime:  2 * time.Second,
}

// Querier is satisfied by the pool and by an open transaction
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// TxManager runs a unit of work inside one database transaction
type TxManager interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// txStarter is the part of the pool ExecuteTx needs
type txStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

var _ TxManager = (*PostgresDB)(nil)

// PostgresDB owns the pool holding wallets, ledger entries and the outbox
type PostgresDB struct {
	pool   *pgxpool.Pool
	begin  txStarter
	logger *slog.Logger
}

// NewPostgresDB migrates the schema to the latest version before opening the pool
func NewPostgresDB(ctx context.Context, logger *slog.Logger, cfg *config.PostgresConfig) (*PostgresDB, error) {
	if err := RunMigrations(cfg.URL, cfg.MigrationsPath); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("Connected to PostgreSQL", "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)
	return &PostgresDB{pool: pool, begin: pool, logger: logger}, nil
}

func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() {
	db.pool.Close()
	db.logger.Info("Closed PostgreSQL connection")
}

// ExecuteTx commits fn's work atomically. A transaction the server aborts
// for a deadlock or serialization conflict is replayed from the start, so fn
// must only touch the database.
func (db *PostgresDB) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	attempt := 0
	return retry.Do(ctx, txRetryPolicy, func() error {
		attempt++
		err := db.runTx(ctx, fn)
		if err != nil && !IsLockConflict(err) {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, wait time.Duration) {
		db.logger.Warn("Transaction aborted by lock conflict, replaying", "attempt", attempt, "wait", wait, "error", err)
	})
}

func (db *PostgresDB) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.begin.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.logger.Error("Rollback failed", "error", rbErr, "cause", err)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	return pgCode(err) == uniqueViolation
}

// IsLockConflict reports whether the server aborted the transaction because
// of a deadlock or a serialization failure
func IsLockConflict(err error) bool {
	code := pgCode(err)
	return code == serializationFailure || code == deadlockDetected
}
