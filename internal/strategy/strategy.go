// Package strategy defines the strategy contract and the runners that
// evaluate strategies against the candle stream. Strategies are isolated:
// one misbehaving strategy cannot stall the loop or take down its peers.
package strategy

import (
	"context"

	"github.com/moznion/go-optional"

	"github.com/tidemark-lab/tidemark/internal/types"
)

// Strategy consumes candles and may emit a trade intent. Implementations
// keep their own per-symbol state and are called from a single goroutine,
// so they need no locking.
type Strategy interface {
	// Name returns the factory name the strategy was registered under.
	Name() string
	// OnCandle processes one closed candle. Returning None means no action.
	// The runner stamps StrategyID, EmittedAt and TraceID on the signal.
	OnCandle(candle types.Candle) (optional.Option[types.Signal], error)
}

// Result is the outcome of one strategy evaluation for one candle.
type Result struct {
	StrategyID string
	Signal     optional.Option[types.Signal]
	// Err carries a strategy fault: a panic, a timeout, or an error the
	// strategy returned. The candle loop logs it and moves on.
	Err error
}

// Runner evaluates every configured strategy against a candle. The two
// implementations, Pool and Inline, must produce identical Results in
// identical order for the same input stream.
type Runner interface {
	// Evaluate runs all strategies for the candle and returns one Result
	// per strategy in configuration order.
	Evaluate(ctx context.Context, candle types.Candle) []Result
	// MarkCooldown starts the configured cooldown for a strategy and
	// symbol. Called by the engine after a signal is acted on.
	MarkCooldown(strategyID string, symbol string)
	// Faults returns the number of strategy faults observed so far.
	Faults() int
	// Close releases runner resources.
	Close()
}
