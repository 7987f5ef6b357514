package settlement

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutRequest asks the payout executor to transfer funds to the partner's bank
type PayoutRequest struct {
	SettlementID uuid.UUID       `json:"settlement_id"`
	PartnerID    uuid.UUID       `json:"partner_id"`
	Amount       decimal.Decimal `json:"amount"`
	Mode         Mode            `json:"mode"`
	// IdempotencyKey is stable across retries of the same attempt
	IdempotencyKey string `json:"idempotency_key"`
}

// PayoutResult is the executor's answer
type PayoutResult struct {
	Reference string `json:"reference"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

// PayoutExecutor performs the bank transfer. Transient errors are retried;
// a result with Success false is definitive.
type PayoutExecutor interface {
	Execute(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
}
