package batch_runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/config"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
	"github.com/partner-wallet-ledger/internal/platform/timeutil"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/shopspring/decimal"
)

// Ledger is the subset of the ledger core the runner credits through
type Ledger interface {
	Credit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
	GetWallet(ctx context.Context, ref wallet.Ref) (*wallet.Wallet, error)
}

type FeeResolver interface {
	ResolveFee(ctx context.Context, req scheme_resolver.FeeRequest) (*scheme.Resolution, error)
}

type CommissionDistributor interface {
	Distribute(ctx context.Context, req commission_distributor.DistributionRequest) ([]*commission.Entry, error)
}

// Runner settles captured T1 transactions into partner wallets, one credit
// per partner wallet per run
type Runner struct {
	cfg          *config.BatchConfig
	transactions batch.TransactionRepository
	leases       batch.LeaseRepository
	ledger       Ledger
	resolver     FeeResolver
	commissions  CommissionDistributor
	system       capability.Set
	stopped      atomic.Bool
	now          func() time.Time
	logger       *slog.Logger
}

func NewRunner(
	logger *slog.Logger,
	cfg *config.BatchConfig,
	transactions batch.TransactionRepository,
	leases batch.LeaseRepository,
	ledgerCore Ledger,
	resolver FeeResolver,
	commissions CommissionDistributor,
) *Runner {
	return &Runner{
		cfg:          cfg,
		transactions: transactions,
		leases:       leases,
		ledger:       ledgerCore,
		resolver:     resolver,
		commissions:  commissions,
		system:       capability.System("batch_runner"),
		now:          timeutil.Now,
		logger:       logger,
	}
}

// group is the transactions of one partner wallet settled by one credit
type group struct {
	ref      wallet.Ref
	batchRef string
	rows     []*batch.ProviderTransaction
}

// Stop asks a running Run to return after its current partner group
func (r *Runner) Stop() {
	r.stopped.Store(true)
}

func (r *Runner) shouldStop(ctx context.Context) bool {
	return r.stopped.Load() || ctx.Err() != nil
}

// Run settles transactions captured before cutoff. A zero cutoff means the
// start of the current UTC day. Only one run may hold the lease at a time.
func (r *Runner) Run(ctx context.Context, cutoff time.Time, caps capability.Set) (*batch.RunResult, error) {
	if err := caps.Require(capability.ScopeBatchOperator); err != nil {
		return nil, err
	}
	if cutoff.IsZero() {
		cutoff = timeutil.StartOfDay(r.now())
	}
	log := logger.FromContext(ctx, r.logger).With("job", batch.JobName)

	// every run holds the lease under its own token, so a second run from
	// the same process is rejected like one from another replica
	owner := fmt.Sprintf("%s/%s", r.cfg.Owner, uuid.NewString())
	lease, err := r.leases.Acquire(ctx, batch.JobName, owner, r.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, batch.ErrConcurrentBatchRun{}) {
			metrics.RecordBatchRun("concurrent", 0, 0, 0)
		}
		return nil, err
	}
	defer func() {
		if err := r.leases.Release(context.WithoutCancel(ctx), batch.JobName, owner); err != nil {
			log.Error("Failed to release batch lease", "error", err)
		}
	}()
	r.stopped.Store(false)

	batchRef := batch.Reference(r.now(), lease.RunSeq)
	result := &batch.RunResult{Cutoff: cutoff, Credits: []batch.PartnerCredit{}}
	log.Info("Batch settlement run started", "batch_ref", batchRef, "cutoff", cutoff, "owner", owner, "actor", caps.Actor())

	limit := r.cfg.Limit
	if limit <= 0 || limit > batch.DefaultLimit {
		limit = batch.DefaultLimit
	}

	runErr := r.run(ctx, owner, batchRef, cutoff, limit, result)

	outcome := "completed"
	switch {
	case runErr != nil:
		outcome = "error"
	case result.Stopped:
		outcome = "stopped"
	}
	metrics.RecordBatchRun(outcome, result.ProcessedCount, result.FailedCount, result.HeldCount)
	log.Info("Batch settlement run finished",
		"batch_ref", batchRef,
		"outcome", outcome,
		"processed", result.ProcessedCount,
		"failed", result.FailedCount,
		"held", result.HeldCount,
		"partners", result.PartnerCount,
	)
	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, owner, batchRef string, cutoff time.Time, limit int, result *batch.RunResult) error {
	claimed, err := r.transactions.ListClaimedUnsettled(ctx, limit)
	if err != nil {
		return err
	}
	for _, g := range groupClaimed(claimed) {
		if r.shouldStop(ctx) {
			result.Stopped = true
			return nil
		}
		if err := r.leases.Renew(ctx, batch.JobName, owner, r.cfg.LeaseTTL); err != nil {
			return err
		}
		if err := r.settleGroup(context.WithoutCancel(ctx), g, true, result); err != nil {
			return err
		}
	}

	remaining := limit - len(claimed)
	if remaining <= 0 {
		return nil
	}
	rows, err := r.transactions.ListUnsettled(ctx, cutoff, remaining)
	if err != nil {
		return err
	}
	for _, g := range groupUnsettled(rows, batchRef) {
		if r.shouldStop(ctx) {
			result.Stopped = true
			return nil
		}
		if err := r.leases.Renew(ctx, batch.JobName, owner, r.cfg.LeaseTTL); err != nil {
			return err
		}
		groupCtx := context.WithoutCancel(ctx)
		g.rows = r.claimRows(groupCtx, g, result)
		if len(g.rows) == 0 {
			continue
		}
		if err := r.settleGroup(groupCtx, g, false, result); err != nil {
			return err
		}
	}
	return nil
}

// claimRows resolves each row's fee and tags it with the run's batch
// reference. Rows whose fee cannot be resolved stay unsettled.
func (r *Runner) claimRows(ctx context.Context, g *group, result *batch.RunResult) []*batch.ProviderTransaction {
	log := logger.FromContext(ctx, r.logger)

	if held, err := r.isHeld(ctx, g.ref); err != nil || held {
		if err != nil {
			log.Error("Failed to read wallet for batch group", "wallet", g.ref.String(), "error", err)
			result.FailedCount += len(g.rows)
			return nil
		}
		log.Warn("Skipping settlement-held wallet", "wallet", g.ref.String(), "rows", len(g.rows))
		result.HeldCount += len(g.rows)
		return nil
	}

	claimed := make([]*batch.ProviderTransaction, 0, len(g.rows))
	for _, t := range g.rows {
		res, err := r.resolver.ResolveFee(ctx, scheme_resolver.FeeRequest{
			Amount:             t.Amount,
			ServiceType:        t.ServiceType,
			Mode:               t.Mode,
			CardType:           t.CardType,
			CardBrand:          t.CardBrand,
			CardClassification: t.CardClassification,
			PartnerID:          t.PartnerID,
		})
		if err != nil {
			log.Warn("Fee resolution failed, leaving transaction unsettled",
				"external_id", t.ExternalID,
				"error", err,
			)
			result.FailedCount++
			continue
		}

		fee := res.FeeAmount
		net := commission.NetSettlement(t.Amount, fee)
		err = r.transactions.Claim(ctx, batch.Claim{
			TransactionID: t.ID,
			BatchRef:      g.batchRef,
			FeeAmount:     fee,
			NetAmount:     net,
			RatePercent:   res.Rate,
			SchemeID:      res.SchemeID,
		})
		if err != nil {
			var taken batch.ErrAlreadyClaimed
			if !errors.As(err, &taken) {
				log.Error("Failed to claim transaction", "external_id", t.ExternalID, "error", err)
				result.FailedCount++
			}
			continue
		}

		batchRef := g.batchRef
		t.BatchRef = &batchRef
		t.FeeAmount = &fee
		t.NetAmount = &net
		t.RatePercent = &res.Rate
		t.SchemeID = &res.SchemeID
		claimed = append(claimed, t)
	}
	return claimed
}

// settleGroup credits the group's net total once under its batch reference,
// distributes commission per row and links every row to the credit
func (r *Runner) settleGroup(ctx context.Context, g *group, recovered bool, result *batch.RunResult) error {
	log := logger.FromContext(ctx, r.logger)

	if recovered {
		held, err := r.isHeld(ctx, g.ref)
		if err != nil {
			return err
		}
		if held {
			result.HeldCount += len(g.rows)
			return nil
		}
	}

	credit := batch.PartnerCredit{
		PartnerID: g.ref.PartnerID,
		BatchRef:  g.batchRef,
		Gross:     decimal.Zero,
		Fee:       decimal.Zero,
		Net:       decimal.Zero,
		Recovered: recovered,
	}
	for _, t := range g.rows {
		credit.Count++
		credit.Gross = credit.Gross.Add(t.Amount)
		credit.Fee = credit.Fee.Add(valueOf(t.FeeAmount))
		credit.Net = credit.Net.Add(valueOf(t.NetAmount))
	}

	if !credit.Net.IsPositive() {
		log.Warn("Batch group net is not positive, rows left unsettled",
			"wallet", g.ref.String(),
			"batch_ref", g.batchRef,
			"net", credit.Net.String(),
		)
		result.FailedCount += len(g.rows)
		return nil
	}

	posted, err := r.ledger.Credit(ctx, ledger.Posting{
		Wallet:                g.ref,
		Amount:                credit.Net,
		FundCategory:          shared.FundCategoryOnline,
		ServiceType:           g.rows[0].ServiceType,
		TxnType:               "batch_settlement",
		ReferenceID:           g.batchRef,
		TransactionRef:        g.batchRef,
		Remarks:               fmt.Sprintf("T1 settlement of %d transactions", credit.Count),
		RequireSettlementOpen: true,
	}, r.system)
	if err != nil {
		if errors.Is(err, wallet.ErrSettlementHeld) {
			result.HeldCount += len(g.rows)
			return nil
		}
		log.Error("Failed to credit batch group", "wallet", g.ref.String(), "batch_ref", g.batchRef, "error", err)
		result.FailedCount += len(g.rows)
		return nil
	}
	entryID := posted.Entry.ID
	credit.EntryID = entryID

	settled := make([]uuid.UUID, 0, len(g.rows))
	for _, t := range g.rows {
		if fee := valueOf(t.FeeAmount); fee.IsPositive() {
			_, err := r.commissions.Distribute(ctx, commission_distributor.DistributionRequest{
				TransactionID: t.ExternalID,
				PartnerID:     t.PartnerID,
				ServiceType:   t.ServiceType,
				FeeAmount:     fee,
			})
			if err != nil {
				log.Warn("Commission distribution failed, transaction left for recovery",
					"external_id", t.ExternalID,
					"error", err,
				)
				result.FailedCount++
				continue
			}
		}
		settled = append(settled, t.ID)
	}

	if len(settled) > 0 {
		if err := r.transactions.MarkSettled(ctx, settled, entryID, r.now()); err != nil {
			return err
		}
	}

	result.ProcessedCount += len(settled)
	result.PartnerCount++
	result.Credits = append(result.Credits, credit)
	log.Info("Batch group settled",
		"wallet", g.ref.String(),
		"batch_ref", g.batchRef,
		"entry_id", entryID.String(),
		"rows", len(settled),
		"net", credit.Net.String(),
		"recovered", recovered,
	)
	return nil
}

func (r *Runner) isHeld(ctx context.Context, ref wallet.Ref) (bool, error) {
	w, err := r.ledger.GetWallet(ctx, ref)
	if err != nil {
		if errors.Is(err, wallet.ErrWalletNotFound{}) {
			return false, nil
		}
		return false, err
	}
	return w.IsSettlementHeld, nil
}

// groupUnsettled splits rows ordered by partner and wallet type into groups
func groupUnsettled(rows []*batch.ProviderTransaction, batchRef string) []*group {
	var groups []*group
	var current *group
	for _, t := range rows {
		ref := wallet.NewRef(t.PartnerID, t.WalletType)
		if current == nil || current.ref != ref {
			current = &group{ref: ref, batchRef: batchRef}
			groups = append(groups, current)
		}
		current.rows = append(current.rows, t)
	}
	return groups
}

// groupClaimed groups interrupted rows by wallet and the run that claimed them
func groupClaimed(rows []*batch.ProviderTransaction) []*group {
	type key struct {
		ref      wallet.Ref
		batchRef string
	}
	index := make(map[key]*group)
	var groups []*group
	for _, t := range rows {
		if t.BatchRef == nil {
			continue
		}
		k := key{ref: wallet.NewRef(t.PartnerID, t.WalletType), batchRef: *t.BatchRef}
		g, ok := index[k]
		if !ok {
			g = &group{ref: k.ref, batchRef: k.batchRef}
			index[k] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, t)
	}
	return groups
}

func valueOf(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
