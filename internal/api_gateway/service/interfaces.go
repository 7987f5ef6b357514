package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/batch_runner"
	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/dispute_controller"
	"github.com/partner-wallet-ledger/internal/domain/batch"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/dispute"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/settlement"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/domain/transfer"
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/partner-wallet-ledger/internal/ledger_core"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
	"github.com/partner-wallet-ledger/internal/settlement_orchestrator"
	"github.com/partner-wallet-ledger/internal/transfer_saga"
	"github.com/shopspring/decimal"
)

// LedgerService is the wallet surface of the ledger core
type LedgerService interface {
	Credit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
	Debit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
	GetBalance(ctx context.Context, ref wallet.Ref) (*ledger_core.Balance, error)
	ReconcileWallet(ctx context.Context, ref wallet.Ref) (*ledger.Reconciliation, error)
	ListEntries(ctx context.Context, ref wallet.Ref, filter ledger.ListFilter) ([]*ledger.Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*ledger.Entry, error)
	SetEntryStatus(ctx context.Context, id uuid.UUID, status ledger.Status, caps capability.Set) (*ledger.Entry, error)
}

// StatementService serves wallet statements from the read model
type StatementService interface {
	// GetStatement returns one page of statement lines and the total line count
	GetStatement(ctx context.Context, ref wallet.Ref, from, to *time.Time, page, perPage int) ([]*ledger.StatementLine, int64, error)
}

// FeeService resolves fees and manages scheme rates
type FeeService interface {
	ResolveFee(ctx context.Context, req scheme_resolver.FeeRequest) (*scheme.Resolution, error)
	CreateRate(ctx context.Context, rate *scheme.Rate, caps capability.Set) error
	ListRates(ctx context.Context, service scheme.Service) ([]*scheme.Rate, error)
}

// CommissionService distributes and maintains upline commissions
type CommissionService interface {
	DistributeFee(ctx context.Context, req scheme_resolver.FeeRequest, transactionID string) (*commission_distributor.FeeDistribution, error)
	Adjust(ctx context.Context, id uuid.UUID, newAmount decimal.Decimal, reason string, caps capability.Set) (*commission.Adjustment, error)
	Release(ctx context.Context, id uuid.UUID, caps capability.Set) (*commission.Entry, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*commission.Entry, error)
}

// SettlementService runs settlement requests through approval and payout
type SettlementService interface {
	Request(ctx context.Context, req settlement_orchestrator.SettlementRequest, caps capability.Set) (*settlement.Settlement, error)
	Release(ctx context.Context, id uuid.UUID, action settlement.Action, caps capability.Set) (*settlement.Settlement, error)
	Reconcile(ctx context.Context, id uuid.UUID, outcome settlement.Outcome, payoutRef string, caps capability.Set) (*settlement.Settlement, error)
	Get(ctx context.Context, id uuid.UUID) (*settlement.Settlement, error)
}

// DisputeService raises disputes and applies wallet holds
type DisputeService interface {
	Raise(ctx context.Context, req dispute_controller.RaiseRequest, caps capability.Set) (*dispute.Dispute, error)
	Transition(ctx context.Context, id uuid.UUID, action dispute.Action, resolution string, caps capability.Set) (*dispute.Dispute, error)
	Get(ctx context.Context, id uuid.UUID) (*dispute.Dispute, error)
	HoldWallet(ctx context.Context, ref wallet.Ref, held bool, caps capability.Set) (*dispute_controller.WalletHold, error)
	FreezeWallet(ctx context.Context, ref wallet.Ref, frozen bool, caps capability.Set) (*dispute_controller.WalletHold, error)
}

// BatchService triggers the T1 batch settlement on demand
type BatchService interface {
	Run(ctx context.Context, cutoff time.Time, caps capability.Set) (*batch.RunResult, error)
}

// TransferService moves funds within the partner hierarchy
type TransferService interface {
	Push(ctx context.Context, req transfer_saga.TransferRequest, caps capability.Set) (*transfer.Transfer, error)
	Pull(ctx context.Context, req transfer_saga.TransferRequest, caps capability.Set) (*transfer.Transfer, error)
	Get(ctx context.Context, id uuid.UUID) (*transfer.Transfer, error)
}

// CallbackService accepts provider payment callbacks
type CallbackService interface {
	// Submit queues the callback for posting. When the external id was already
	// recorded the stored transaction is returned and nothing is queued.
	Submit(ctx context.Context, cb *shared.PaymentCallback) (*batch.ProviderTransaction, error)
}

var (
	_ LedgerService     = (*ledger_core.Service)(nil)
	_ FeeService        = (*scheme_resolver.Service)(nil)
	_ CommissionService = (*commission_distributor.Service)(nil)
	_ SettlementService = (*settlement_orchestrator.Service)(nil)
	_ DisputeService    = (*dispute_controller.Service)(nil)
	_ BatchService      = (*batch_runner.Runner)(nil)
	_ TransferService   = (*transfer_saga.Service)(nil)
)
