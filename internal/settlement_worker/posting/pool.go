package posting

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/partner-wallet-ledger/internal/logger"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"
)

// PoolConfig sizes the posting worker pool
type PoolConfig struct {
	Size int
}

// PooledPoster bounds concurrent postings with an ants pool. Callers posting
// an external id that is already in flight share that result instead of
// posting it twice.
type PooledPoster struct {
	base    CallbackPoster
	pool    *ants.Pool
	group   singleflight.Group
	waiting atomic.Int32
	logger  *slog.Logger
}

func NewPooledPoster(base CallbackPoster, cfg PoolConfig, logger *slog.Logger) (*PooledPoster, error) {
	pool, err := ants.NewPool(cfg.Size)
	if err != nil {
		return nil, err
	}

	return &PooledPoster{
		base:   base,
		pool:   pool,
		logger: logger,
	}, nil
}

// Post submits the callback to the pool and waits for its result
func (p *PooledPoster) Post(ctx context.Context, cb *shared.PaymentCallback) error {
	p.waiting.Add(1)
	defer p.waiting.Add(-1)

	callback := *cb
	// the shared posting outlives any one caller's cancellation
	postCtx := context.WithoutCancel(ctx)
	results := p.group.DoChan(cb.ExternalID, func() (interface{}, error) {
		return nil, p.submit(postCtx, &callback)
	})

	select {
	case res := <-results:
		if res.Shared {
			logger.FromContext(ctx, p.logger).Debug("Callback result shared by concurrent posts", "external_id", cb.ExternalID)
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// submit runs one posting on a pool worker and waits for it
func (p *PooledPoster) submit(ctx context.Context, cb *shared.PaymentCallback) error {
	done := make(chan error, 1)
	if err := p.pool.Submit(func() {
		done <- p.base.Post(ctx, cb)
	}); err != nil {
		logger.FromContext(ctx, p.logger).Error("Failed to submit callback to worker pool", "external_id", cb.ExternalID, "error", err)
		return err
	}
	return <-done
}

// Shutdown waits for running postings and releases the pool
func (p *PooledPoster) Shutdown() {
	p.logger.Info("Shutting down posting worker pool", "running_workers", p.pool.Running())
	p.pool.Release()
}

// Running returns the number of busy workers
func (p *PooledPoster) Running() int {
	return p.pool.Running()
}

// Waiting returns the number of Post calls waiting for a result
func (p *PooledPoster) Waiting() int {
	return int(p.waiting.Load())
}

// Capacity returns the pool size
func (p *PooledPoster) Capacity() int {
	return p.pool.Cap()
}
