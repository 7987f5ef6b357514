package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
)

// LeaseRepository keeps job leases in batch_leases. A lease row outlives its
// holder so run_seq keeps increasing across acquisitions.
type LeaseRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLeaseRepository creates a new PostgreSQL lease repository
func NewLeaseRepository(logger *slog.Logger, db *persistence.PostgresDB) batch.LeaseRepository {
	return &LeaseRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *LeaseRepository) Acquire(ctx context.Context, jobName, owner string, ttl time.Duration) (*batch.Lease, error) {
	query := `
		INSERT INTO batch_leases (job_name, owner, run_seq, acquired_at, expires_at)
		VALUES ($1, $2, 1, NOW(), NOW() + $3::interval)
		ON CONFLICT (job_name) DO UPDATE
		SET owner = EXCLUDED.owner,
			run_seq = batch_leases.run_seq + 1,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE batch_leases.expires_at < NOW()
		RETURNING job_name, owner, run_seq, acquired_at, expires_at
	`

	lease, err := scanLease(r.querier.QueryRow(ctx, query, jobName, owner, intervalArg(ttl)))
	if err == nil {
		r.logger.Info("Acquired batch lease", "job", jobName, "owner", owner, "run_seq", lease.RunSeq)
		return lease, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to acquire batch lease", "job", jobName, "error", err)
		return nil, fmt.Errorf("failed to acquire batch lease: %w", err)
	}

	holder, err := scanLease(r.querier.QueryRow(ctx,
		`SELECT job_name, owner, run_seq, acquired_at, expires_at FROM batch_leases WHERE job_name = $1`, jobName))
	if err != nil {
		// the holder released between the two statements
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, batch.ErrConcurrentBatchRun{JobName: jobName}
		}
		return nil, fmt.Errorf("failed to read batch lease holder: %w", err)
	}
	return nil, batch.ErrConcurrentBatchRun{JobName: jobName, Owner: holder.Owner, ExpiresAt: holder.ExpiresAt}
}

// Renew extends a lease the owner still holds
func (r *LeaseRepository) Renew(ctx context.Context, jobName, owner string, ttl time.Duration) error {
	query := `
		UPDATE batch_leases SET expires_at = NOW() + $3::interval
		WHERE job_name = $1 AND owner = $2 AND expires_at >= NOW()
	`

	result, err := r.querier.Exec(ctx, query, jobName, owner, intervalArg(ttl))
	if err != nil {
		r.logger.Error("Failed to renew batch lease", "job", jobName, "error", err)
		return fmt.Errorf("failed to renew batch lease: %w", err)
	}

	if result.RowsAffected() == 0 {
		return batch.ErrLeaseLost{JobName: jobName, Owner: owner}
	}

	return nil
}

// Release expires the lease immediately, keeping the row for run_seq
func (r *LeaseRepository) Release(ctx context.Context, jobName, owner string) error {
	query := `UPDATE batch_leases SET expires_at = NOW() WHERE job_name = $1 AND owner = $2`

	if _, err := r.querier.Exec(ctx, query, jobName, owner); err != nil {
		r.logger.Error("Failed to release batch lease", "job", jobName, "error", err)
		return fmt.Errorf("failed to release batch lease: %w", err)
	}

	return nil
}

func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%d milliseconds", d.Milliseconds())
}

func scanLease(row rowScanner) (*batch.Lease, error) {
	var l batch.Lease
	if err := row.Scan(&l.JobName, &l.Owner, &l.RunSeq, &l.AcquiredAt, &l.ExpiresAt); err != nil {
		return nil, err
	}
	return &l, nil
}
