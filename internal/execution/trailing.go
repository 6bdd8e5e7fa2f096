package execution

import (
	"fmt"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// TrailingState is the lifecycle of one trailing stop.
type TrailingState string

const (
	// TrailingArmed: position opened, stop not yet tracking.
	TrailingArmed TrailingState = "ARMED"
	// TrailingActive: the high watermark ratchets up on each new extreme.
	TrailingActive TrailingState = "TRAILING"
	// TrailingTriggered: price crossed the stop; the close order has been
	// issued.
	TrailingTriggered TrailingState = "TRIGGERED"
	// TrailingClosed: terminal. A closed stop never fires again.
	TrailingClosed TrailingState = "CLOSED"
)

// TrailingStop tracks one long position's exit level. The stop follows the
// best price seen since entry at a fixed percentage distance.
type TrailingStop struct {
	Symbol        string
	StrategyID    string
	Quantity      float64
	EntryPrice    float64
	Percent       float64
	Activation    float64
	HighWatermark float64
	StopLevel     float64
	State         TrailingState
}

// TrailingBook owns all live trailing stops. It is driven from the candle
// loop goroutine only.
type TrailingBook struct {
	stops  map[string]*TrailingStop
	logger *logger.Logger
}

func NewTrailingBook(log *logger.Logger) *TrailingBook {
	return &TrailingBook{
		stops:  make(map[string]*TrailingStop),
		logger: log,
	}
}

// Arm registers a trailing stop for a freshly opened position. A stop
// already tracking the symbol is replaced: the position it guarded was
// recut by the new entry.
func (b *TrailingBook) Arm(symbol, strategyID string, quantity, entryPrice, percent, activation float64) {
	b.stops[symbol] = &TrailingStop{
		Symbol:        symbol,
		StrategyID:    strategyID,
		Quantity:      quantity,
		EntryPrice:    entryPrice,
		Percent:       percent,
		Activation:    activation,
		HighWatermark: entryPrice,
		State:         TrailingArmed,
	}

	b.logger.Debug("trailing stop armed",
		zap.String("symbol", symbol),
		zap.Float64("entry", entryPrice),
		zap.Float64("percent", percent))
}

// Cancel drops the stop for a symbol, used when the position closes for
// another reason.
func (b *TrailingBook) Cancel(symbol string) {
	delete(b.stops, symbol)
}

// Get returns the stop tracking a symbol, if any.
func (b *TrailingBook) Get(symbol string) optional.Option[TrailingStop] {
	stop, ok := b.stops[symbol]
	if !ok {
		return optional.None[TrailingStop]()
	}

	return optional.Some(*stop)
}

// Observe advances the stop for the candle's symbol and returns a close
// order if it triggered. Evaluation uses the intra-candle high and low,
// so one candle can both start trailing and trigger the exit. A stop
// fires exactly once: the transition to TrailingTriggered and the order
// emission happen together, and the stop is then removed.
func (b *TrailingBook) Observe(candle types.Candle) optional.Option[types.ExecuteOrder] {
	stop, ok := b.stops[candle.Symbol]
	if !ok {
		return optional.None[types.ExecuteOrder]()
	}

	if stop.State == TrailingArmed && candle.High >= stop.EntryPrice*(1+stop.Activation) {
		stop.State = TrailingActive
	}

	if stop.State != TrailingActive {
		return optional.None[types.ExecuteOrder]()
	}

	if candle.High > stop.HighWatermark {
		stop.HighWatermark = candle.High
	}

	stop.StopLevel = stop.HighWatermark * (1 - stop.Percent)

	if candle.Low > stop.StopLevel {
		return optional.None[types.ExecuteOrder]()
	}

	stop.State = TrailingTriggered

	order := types.ExecuteOrder{
		ClientOrderID:  trailingOrderID(candle),
		Symbol:         stop.Symbol,
		Side:           types.OrderSideSell,
		OrderType:      types.OrderTypeTrailingStopClose,
		Quantity:       stop.Quantity,
		ReferencePrice: stop.StopLevel,
		StrategyID:     stop.StrategyID,
		Reason: types.Reason{
			Reason:  types.OrderReasonTrailingStop,
			Message: fmt.Sprintf("price retraced %.2f%% from watermark %.8f", stop.Percent*100, stop.HighWatermark),
		},
	}

	b.logger.Info("trailing stop triggered",
		zap.String("symbol", stop.Symbol),
		zap.Float64("watermark", stop.HighWatermark),
		zap.Float64("stop", stop.StopLevel))

	stop.State = TrailingClosed
	delete(b.stops, candle.Symbol)

	return optional.Some(order)
}

// trailingOrderID derives the close order's idempotency key from the
// triggering candle, so a replayed run re-issues the identical order.
func trailingOrderID(candle types.Candle) string {
	return fmt.Sprintf("ts-%s-%d", candle.Symbol, candle.OpenTime.UnixMilli())
}
