// Package execution routes approved orders to a venue. The three
// executors (simulated, Binance testnet, Binance production) share one
// contract and are interchangeable: the candle loop cannot tell which one
// it is driving.
package execution

import (
	"context"

	"github.com/google/uuid"

	"github.com/tidemark-lab/tidemark/internal/types"
)

// Executor submits orders and surfaces fills. Submit is idempotent under
// the order's ClientOrderID: resubmitting the same key returns the
// original outcome and never produces a second financial effect, which is
// what makes retrying after a connectivity error safe.
type Executor interface {
	// Submit places the order and returns whatever fills are immediately
	// known. Fills that arrive later surface through PendingFills.
	Submit(ctx context.Context, order types.ExecuteOrder) (types.ExecutionReport, error)
	// PendingFills drains fills for previously submitted orders that were
	// not filled synchronously. Each fill is returned exactly once.
	PendingFills(ctx context.Context) ([]types.Fill, error)
	// OnCandle gives the executor the latest market state. Simulated
	// executors price fills off it; live executors ignore it.
	OnCandle(candle types.Candle)
	Close() error
}

// NewClientOrderID mints an idempotency key for a fresh order.
func NewClientOrderID() string {
	return "tm-" + uuid.NewString()
}
