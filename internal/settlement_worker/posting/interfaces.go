package posting

import (
	"context"

	"github.com/partner-wallet-ledger/internal/commission_distributor"
	"github.com/partner-wallet-ledger/internal/domain/capability"
	"github.com/partner-wallet-ledger/internal/domain/commission"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/scheme"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/scheme_resolver"
)

// CallbackPoster posts one provider callback
type CallbackPoster interface {
	Post(ctx context.Context, cb *shared.PaymentCallback) error
}

// Ledger credits retailer wallets
type Ledger interface {
	Credit(ctx context.Context, p ledger.Posting, caps capability.Set) (*ledger.PostingResult, error)
}

// FeeResolver resolves the fee a captured transaction pays
type FeeResolver interface {
	ResolveFee(ctx context.Context, req scheme_resolver.FeeRequest) (*scheme.Resolution, error)
}

// CommissionDistributor pays the upline share of a fee
type CommissionDistributor interface {
	Distribute(ctx context.Context, req commission_distributor.DistributionRequest) ([]*commission.Entry, error)
}
