package commission_distributor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/partner"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/partner-wallet-ledger/internal/platform/metrics"
	"github.com/partner-wallet-ledger/internal/platform/persistence"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/shopspring/decimal"
)

// Ledger is the subset of the ledger core the distributor posts through
type Ledger interface {
	Credit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
	Debit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*ledger.Entry, error)
	SetEntryStatus(ctx context.Context, id uuid.UUID, status ledger.Status, caps capability.Set) (*ledger.Entry, error)
	CompensateEntry(ctx context.Context, id uuid.UUID, reference, remarks string, caps capability.Set) (*ledger.PostingResult, error)
}

// FeeResolver resolves the fee a transaction is charged
type FeeResolver interface {
	ResolveFee(ctx context.Context, req scheme_resolver.FeeRequest) (*scheme.Resolution, error)
}

// DistributionRequest asks for a transaction's fee to be shared up the hierarchy.
// Upline is looked up from the partner directory when nil.
type DistributionRequest struct {
	TransactionID string             `json:"transaction_id"`
	PartnerID     uuid.UUID          `json:"partner_id"`
	ServiceType   shared.ServiceType `json:"service_type"`
	FeeAmount     decimal.Decimal    `json:"fee_amount"`
	Upline        partner.Upline     `json:"-"`
}

// FeeDistribution is the resolved fee of a transaction and the shares paid from it
type FeeDistribution struct {
	Resolution  *scheme.Resolution  `json:"resolution"`
	NetAmount   decimal.Decimal     `json:"net_amount"`
	Commissions []*commission.Entry `json:"commissions"`
}

type Service struct {
	txm         persistence.TxManager
	commissions commission.Repository
	partners    partner.Directory
	ledger      Ledger
	resolver    FeeResolver
	policy      commission.SharePolicy
	system      capability.Set
	logger      *slog.Logger
}

func NewService(
	logger *slog.Logger,
	policy commission.SharePolicy,
	txm persistence.TxManager,
	commissions commission.Repository,
	partners partner.Directory,
	ledgerCore Ledger,
	resolver FeeResolver,
) (*Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		txm:         txm,
		commissions: commissions,
		partners:    partners,
		ledger:      ledgerCore,
		resolver:    resolver,
		policy:      policy,
		system:      capability.System("commission_distributor"),
		logger:      logger,
	}, nil
}

// Distribute credits each upline tier its share of the fee. Calling it again
// for the same transaction returns the shares already paid.
func (s *Service) Distribute(ctx context.Context, req DistributionRequest) ([]*commission.Entry, error) {
	if req.TransactionID == "" {
		return nil, ledger.ErrInvalidReference
	}
	if req.FeeAmount.IsNegative() {
		return nil, shared.ErrInvalidAmount
	}
	fee := shared.RoundMoney(req.FeeAmount)
	if fee.IsZero() {
		return []*commission.Entry{}, nil
	}

	upline := req.Upline
	if upline == nil {
		var err error
		upline, err = s.partners.Upline(ctx, req.PartnerID)
		if err != nil {
			return nil, err
		}
	}

	log := logger.FromContext(ctx, s.logger)
	entries := make([]*commission.Entry, 0, 2)
	for _, share := range s.policy.Shares(fee, upline) {
		entry, err := s.pay(ctx, req, fee, share)
		if err != nil {
			log.Error("Failed to distribute commission share",
				"transaction_id", req.TransactionID,
				"beneficiary_id", share.Beneficiary.ID.String(),
				"role", share.Role,
				"error", err,
			)
			return entries, err
		}
		entries = append(entries, entry)
	}

	log.Info("Commission distributed",
		"transaction_id", req.TransactionID,
		"fee", fee.String(),
		"shares", len(entries),
	)
	return entries, nil
}

func (s *Service) pay(ctx context.Context, req DistributionRequest, fee decimal.Decimal, share commission.Share) (*commission.Entry, error) {
	existing, err := s.commissions.GetByTransactionAndBeneficiary(ctx, req.TransactionID, share.Beneficiary.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, commission.ErrCommissionNotFound{}) {
		return nil, err
	}

	status := ledger.StatusCompleted
	if s.policy.LockOnCreate {
		status = ledger.StatusHold
	}
	posted, err := s.ledger.Credit(ctx, ledger.Posting{
		Wallet:         wallet.NewRef(share.Beneficiary.ID, shared.WalletTypePrimary),
		Amount:         share.Amount,
		FundCategory:   shared.FundCategoryCommission,
		ServiceType:    req.ServiceType,
		TxnType:        "commission",
		ReferenceID:    commission.Reference(req.TransactionID, share.Role),
		TransactionRef: req.TransactionID,
		Remarks:        "commission from " + req.PartnerID.String(),
		Status:         status,
	}, s.system)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &commission.Entry{
		ID:              uuid.New(),
		TransactionID:   req.TransactionID,
		SourcePartnerID: req.PartnerID,
		BeneficiaryID:   share.Beneficiary.ID,
		BeneficiaryRole: share.Role,
		FeeAmount:       fee,
		OriginalAmount:  share.Amount,
		Amount:          share.Amount,
		IsLocked:        true,
		LedgerEntryID:   posted.Entry.ID,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.commissions.Create(ctx, entry); err != nil {
		// a concurrent distribution of the same transaction won
		if stored, getErr := s.commissions.GetByTransactionAndBeneficiary(ctx, req.TransactionID, share.Beneficiary.ID); getErr == nil {
			return stored, nil
		}
		return nil, err
	}
	metrics.RecordCommissionShare(string(share.Role))
	return entry, nil
}

// DistributeFee resolves the transaction's fee and distributes it
func (s *Service) DistributeFee(ctx context.Context, req scheme_resolver.FeeRequest, transactionID string) (*FeeDistribution, error) {
	res, err := s.resolver.ResolveFee(ctx, req)
	if err != nil {
		return nil, err
	}
	entries, err := s.Distribute(ctx, DistributionRequest{
		TransactionID: transactionID,
		PartnerID:     req.PartnerID,
		ServiceType:   req.ServiceType,
		FeeAmount:     res.FeeAmount,
	})
	if err != nil {
		return nil, err
	}
	return &FeeDistribution{
		Resolution:  res,
		NetAmount:   commission.NetSettlement(req.Amount, res.FeeAmount),
		Commissions: entries,
	}, nil
}

// Adjust changes a locked commission to newAmount. The difference is posted
// as an offsetting ledger entry; the original entry is never rewritten.
func (s *Service) Adjust(ctx context.Context, commissionID uuid.UUID, newAmount decimal.Decimal, reason string, caps capability.Set) (*commission.Adjustment, error) {
	if err := caps.Require(capability.ScopeCommissionAdjust); err != nil {
		return nil, err
	}
	newAmount = shared.RoundMoney(newAmount)

	entry, err := s.commissions.GetByID(ctx, commissionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkUpline(ctx, entry, caps); err != nil {
		return nil, err
	}
	if err := s.policy.CheckAdjustment(entry, newAmount); err != nil {
		return nil, err
	}

	adj := &commission.Adjustment{
		ID:           uuid.New(),
		CommissionID: entry.ID,
		AdjustedBy:   caps.Actor(),
		OldAmount:    entry.Amount,
		NewAmount:    newAmount,
		Delta:        newAmount.Sub(entry.Amount),
		Reason:       reason,
		CreatedAt:    time.Now().UTC(),
	}

	status := ledger.StatusCompleted
	if s.policy.LockOnCreate {
		status = ledger.StatusHold
	}
	p := ledger.Posting{
		Wallet:         wallet.NewRef(entry.BeneficiaryID, shared.WalletTypePrimary),
		Amount:         adj.Delta.Abs(),
		FundCategory:   shared.FundCategoryCommission,
		TxnType:        "commission_adjustment",
		ReferenceID:    commission.AdjustmentReference(adj.ID),
		TransactionRef: entry.TransactionID,
		Remarks:        reason,
		Status:         status,
	}
	post, postCaps := s.ledger.Credit, s.system
	if adj.Delta.IsNegative() {
		// a clawback offsets commission that may still be held
		post, postCaps = s.ledger.Debit, s.system.With(capability.ScopeOverdraft)
	}
	posted, err := post(ctx, p, postCaps)
	if err != nil {
		return nil, err
	}
	adj.LedgerEntryID = posted.Entry.ID

	err = s.txm.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.commissions.WithTx(tx)
		locked, err := repo.LockByID(ctx, entry.ID)
		if err != nil {
			return err
		}
		if locked.Version != entry.Version {
			return commission.ErrConcurrentModification{ID: entry.ID}
		}
		locked.Amount = newAmount
		locked.Version++
		locked.UpdatedAt = adj.CreatedAt
		if err := repo.Update(ctx, locked); err != nil {
			return err
		}
		return repo.CreateAdjustment(ctx, adj)
	})
	if err != nil {
		s.undoAdjustment(ctx, adj)
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("Commission adjusted",
		"commission_id", entry.ID.String(),
		"old_amount", adj.OldAmount.String(),
		"new_amount", adj.NewAmount.String(),
		"actor", adj.AdjustedBy,
	)
	return adj, nil
}

// undoAdjustment compensates the offsetting entry of an adjustment that could not be recorded
func (s *Service) undoAdjustment(ctx context.Context, adj *commission.Adjustment) {
	reference := commission.AdjustmentReference(adj.ID) + "_REV"
	if _, err := s.ledger.CompensateEntry(ctx, adj.LedgerEntryID, reference, "adjustment not recorded", s.system); err != nil {
		logger.FromContext(ctx, s.logger).Error("Failed to compensate commission adjustment entry",
			"commission_id", adj.CommissionID.String(),
			"ledger_entry_id", adj.LedgerEntryID.String(),
			"error", err,
		)
	}
}

// checkUpline allows commission admins anywhere and partners only above the beneficiary
func (s *Service) checkUpline(ctx context.Context, entry *commission.Entry, caps capability.Set) error {
	if caps.Has(capability.ScopeCommissionAdmin) {
		return nil
	}
	upline, err := s.partners.Upline(ctx, entry.BeneficiaryID)
	if err != nil {
		return err
	}
	if caps.PartnerID() == uuid.Nil || !upline.Contains(caps.PartnerID()) {
		return capability.ErrForbidden{Actor: caps.Actor(), Scope: capability.ScopeCommissionAdmin}
	}
	return nil
}

// Release unlocks a commission for payout, completing its held ledger entries
func (s *Service) Release(ctx context.Context, commissionID uuid.UUID, caps capability.Set) (*commission.Entry, error) {
	if err := caps.Require(capability.ScopeCommissionAdmin); err != nil {
		return nil, err
	}

	entry, err := s.commissions.GetByID(ctx, commissionID)
	if err != nil {
		return nil, err
	}
	if !entry.IsLocked {
		return nil, commission.ErrCommissionReleased
	}

	adjustments, err := s.commissions.ListAdjustments(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	ledgerIDs := []uuid.UUID{entry.LedgerEntryID}
	for _, a := range adjustments {
		ledgerIDs = append(ledgerIDs, a.LedgerEntryID)
	}
	for _, id := range ledgerIDs {
		le, err := s.ledger.GetEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		if le.Status != ledger.StatusHold {
			continue
		}
		if _, err := s.ledger.SetEntryStatus(ctx, id, ledger.StatusCompleted, s.system); err != nil {
			return nil, err
		}
	}

	var released *commission.Entry
	err = s.txm.ExecuteTx(ctx, func(tx pgx.Tx) error {
		repo := s.commissions.WithTx(tx)
		locked, err := repo.LockByID(ctx, entry.ID)
		if err != nil {
			return err
		}
		if !locked.IsLocked {
			released = locked
			return nil
		}
		locked.IsLocked = false
		locked.Version++
		locked.UpdatedAt = time.Now().UTC()
		if err := repo.Update(ctx, locked); err != nil {
			return err
		}
		released = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("Commission released", "commission_id", entry.ID.String(), "actor", caps.Actor())
	return released, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*commission.Entry, error) {
	return s.commissions.GetByID(ctx, id)
}

func (s *Service) ListByTransaction(ctx context.Context, transactionID string) ([]*commission.Entry, error) {
	return s.commissions.ListByTransaction(ctx, transactionID)
}
