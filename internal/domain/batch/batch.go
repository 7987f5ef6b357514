package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JobName keys the durable lease of the T1 settlement run
const JobName = "batch_settlement_t1"

// DefaultLimit caps the rows a single run processes
const DefaultLimit = 500

// Reference is the run-scoped ledger reference for a run's credits
func Reference(runDate time.Time, runSeq int64) string {
	return fmt.Sprintf("AUTO-T1-%s-%d", runDate.UTC().Format("20060102"), runSeq)
}

// Lease is a time-bounded exclusive claim on a job
type Lease struct {
	JobName    string    `json:"job_name"`
	Owner      string    `json:"owner"`
	RunSeq     int64     `json:"run_seq"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LeaseRepository persists job leases
type LeaseRepository interface {
	// Acquire takes the lease when free or expired; held leases yield ErrConcurrentBatchRun
	Acquire(ctx context.Context, jobName, owner string, ttl time.Duration) (*Lease, error)
	Renew(ctx context.Context, jobName, owner string, ttl time.Duration) error
	Release(ctx context.Context, jobName, owner string) error
}

// PartnerCredit is the single wallet credit a run made for one partner
type PartnerCredit struct {
	PartnerID uuid.UUID       `json:"partner_id"`
	BatchRef  string          `json:"batch_ref"`
	EntryID   uuid.UUID       `json:"entry_id"`
	Count     int             `json:"count"`
	Gross     decimal.Decimal `json:"gross"`
	Fee       decimal.Decimal `json:"fee"`
	Net       decimal.Decimal `json:"net"`
	Recovered bool            `json:"recovered"`
}

// RunResult summarizes one invocation of the batch runner
type RunResult struct {
	Cutoff         time.Time       `json:"cutoff"`
	ProcessedCount int             `json:"processed_count"`
	FailedCount    int             `json:"failed_count"`
	HeldCount      int             `json:"held_count"`
	PartnerCount   int             `json:"partner_count"`
	Credits        []PartnerCredit `json:"credits"`
	Stopped        bool            `json:"stopped"`
}

// ErrConcurrentBatchRun indicates another runner holds the lease
type ErrConcurrentBatchRun struct {
	JobName   string
	Owner     string
	ExpiresAt time.Time
}

func (e ErrConcurrentBatchRun) Error() string {
	if e.Owner == "" {
		return "batch run already in progress: " + e.JobName
	}
	return fmt.Sprintf("batch run already in progress: %s held by %s until %s", e.JobName, e.Owner, e.ExpiresAt.Format(time.RFC3339))
}

func (e ErrConcurrentBatchRun) Is(target error) bool {
	_, ok := target.(ErrConcurrentBatchRun)
	return ok
}

// ErrLeaseLost indicates the lease expired and was taken over mid-run
type ErrLeaseLost struct {
	JobName string
	Owner   string
}

func (e ErrLeaseLost) Error() string {
	return fmt.Sprintf("lease %s no longer held by %s", e.JobName, e.Owner)
}
