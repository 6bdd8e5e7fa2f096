package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
)

func trailingCandle(minute int, high, low float64) types.Candle {
	return types.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		OpenTime:  time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
		Open:      low,
		High:      high,
		Low:       low,
		Close:     low,
		Volume:    1,
	}
}

func TestTrailingStopTriggersExactlyOnce(t *testing.T) {
	book := NewTrailingBook(logger.NewNopLogger())

	// Long 1 BTC at 100 with a 5% trail, trailing from 1% gain.
	book.Arm("BTCUSDT", "s1", 1, 100, 0.05, 0.01)

	// Price climbs: armed -> trailing, watermark ratchets to 120.
	require.True(t, book.Observe(trailingCandle(0, 110, 105)).IsNone())
	require.True(t, book.Observe(trailingCandle(1, 120, 115)).IsNone())

	stop := book.Get("BTCUSDT")
	require.True(t, stop.IsSome())
	assert.Equal(t, TrailingActive, stop.Unwrap().State)
	assert.Equal(t, 120.0, stop.Unwrap().HighWatermark)

	// Low crosses 120 * 0.95 = 114: exactly one close order at the stop.
	order := book.Observe(trailingCandle(2, 118, 113))
	require.True(t, order.IsSome())
	assert.Equal(t, types.OrderSideSell, order.Unwrap().Side)
	assert.Equal(t, types.OrderTypeTrailingStopClose, order.Unwrap().OrderType)
	assert.InDelta(t, 114.0, order.Unwrap().ReferencePrice, 1e-9)
	assert.Equal(t, 1.0, order.Unwrap().Quantity)
	assert.Equal(t, types.OrderReasonTrailingStop, order.Unwrap().Reason.Reason)

	// The stop is gone: further drops never re-trigger.
	assert.True(t, book.Observe(trailingCandle(3, 100, 90)).IsNone())
	assert.True(t, book.Get("BTCUSDT").IsNone())
}

func TestTrailingStopArmsAndTriggersInOneCandle(t *testing.T) {
	book := NewTrailingBook(logger.NewNopLogger())
	book.Arm("BTCUSDT", "s1", 1, 100, 0.05, 0.01)

	// High 120 activates and sets the watermark; low 110 is already below
	// 120 * 0.95 = 114, so the same candle triggers the exit.
	order := book.Observe(trailingCandle(0, 120, 110))
	require.True(t, order.IsSome())
	assert.InDelta(t, 114.0, order.Unwrap().ReferencePrice, 1e-9)
}

func TestTrailingStopStaysArmedBelowActivation(t *testing.T) {
	book := NewTrailingBook(logger.NewNopLogger())
	book.Arm("BTCUSDT", "s1", 1, 100, 0.05, 0.05)

	// A drop before activation does not trigger: the stop is not yet
	// trailing.
	require.True(t, book.Observe(trailingCandle(0, 101, 80)).IsNone())

	stop := book.Get("BTCUSDT")
	require.True(t, stop.IsSome())
	assert.Equal(t, TrailingArmed, stop.Unwrap().State)
}

func TestTrailingStopCancel(t *testing.T) {
	book := NewTrailingBook(logger.NewNopLogger())
	book.Arm("BTCUSDT", "s1", 1, 100, 0.05, 0.01)
	book.Cancel("BTCUSDT")

	assert.True(t, book.Observe(trailingCandle(0, 120, 90)).IsNone())
}

func TestTrailingOrderIDIsDeterministic(t *testing.T) {
	candle := trailingCandle(7, 120, 90)
	assert.Equal(t, trailingOrderID(candle), trailingOrderID(candle))
}

func TestTrailingStopIgnoresOtherSymbols(t *testing.T) {
	book := NewTrailingBook(logger.NewNopLogger())
	book.Arm("BTCUSDT", "s1", 1, 100, 0.05, 0.01)

	other := trailingCandle(0, 120, 90)
	other.Symbol = "ETHUSDT"

	assert.True(t, book.Observe(other).IsNone())
	assert.True(t, book.Get("BTCUSDT").IsSome())
}
