package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// Repository persists ledger outbox messages. Create is only meaningful
// inside the posting transaction obtained through WithTx.
type Repository interface {
	Create(ctx context.Context, message *Message) error
	// GetPending returns pending messages in id order
	GetPending(ctx context.Context, limit int) ([]*Message, error)
	UpdateStatus(ctx context.Context, id int64, status shared.OutboxStatus) error
	IncrementAttempts(ctx context.Context, id int64) error
	WithTx(tx pgx.Tx) Repository
}
