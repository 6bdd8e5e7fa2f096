package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-lab/tidemark/internal/types"
)

func fillAt(execID string, side types.OrderSide, quantity, price, fee float64) types.Fill {
	return types.Fill{
		ExecID:        execID,
		ClientOrderID: "o-" + execID,
		Symbol:        "BTCUSDT",
		Side:          side,
		Quantity:      quantity,
		Price:         price,
		Fee:           fee,
		StrategyID:    "s1",
		ExecutedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func markCandle(close float64) types.Candle {
	return types.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		OpenTime:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    1,
	}
}

func TestApplyFillWeightedAverageEntry(t *testing.T) {
	a := NewAccountant(10000)

	trade, err := a.ApplyFill(fillAt("e1", types.OrderSideBuy, 1, 100, 1))
	require.NoError(t, err)
	assert.Zero(t, trade.RealizedPnL)
	assert.Equal(t, 1.0, trade.PositionAfter)

	// Entry includes the fee: (100*1 + 1) / 1.
	position := a.Position("BTCUSDT")
	assert.InDelta(t, 101, position.AvgEntryPrice, 1e-9)

	// Add at a higher price: (101*1 + 200*1 + 2) / 2.
	_, err = a.ApplyFill(fillAt("e2", types.OrderSideBuy, 1, 200, 2))
	require.NoError(t, err)

	position = a.Position("BTCUSDT")
	assert.InDelta(t, 151.5, position.AvgEntryPrice, 1e-9)
	assert.Equal(t, 2.0, position.Quantity)
}

func TestApplyFillRealizesPnLOnReduce(t *testing.T) {
	a := NewAccountant(10000)

	_, err := a.ApplyFill(fillAt("e1", types.OrderSideBuy, 2, 100, 0))
	require.NoError(t, err)

	trade, err := a.ApplyFill(fillAt("e2", types.OrderSideSell, 1, 110, 1))
	require.NoError(t, err)

	// (110 - 100) * 1 - 1 fee.
	assert.InDelta(t, 9, trade.RealizedPnL, 1e-9)
	assert.Equal(t, 1.0, trade.PositionAfter)

	// Closing the rest flattens the position and clears the entry.
	trade, err = a.ApplyFill(fillAt("e3", types.OrderSideSell, 1, 90, 0))
	require.NoError(t, err)
	assert.InDelta(t, -10, trade.RealizedPnL, 1e-9)

	position := a.Position("BTCUSDT")
	assert.True(t, position.IsFlat())
	assert.Zero(t, position.AvgEntryPrice)

	state := a.State()
	assert.InDelta(t, -1, state.RealizedPnL, 1e-9)
}

func TestApplyFillFlipOpensAtFillPrice(t *testing.T) {
	a := NewAccountant(10000)

	_, err := a.ApplyFill(fillAt("e1", types.OrderSideBuy, 1, 100, 0))
	require.NoError(t, err)

	// Selling 2 closes the long and opens a 1-unit short at 110.
	trade, err := a.ApplyFill(fillAt("e2", types.OrderSideSell, 2, 110, 0))
	require.NoError(t, err)
	assert.InDelta(t, 10, trade.RealizedPnL, 1e-9)
	assert.Equal(t, -1.0, trade.PositionAfter)

	position := a.Position("BTCUSDT")
	assert.InDelta(t, 110, position.AvgEntryPrice, 1e-9)
}

func TestEquityInvariantHoldsThroughTrades(t *testing.T) {
	a := NewAccountant(1000)

	fills := []types.Fill{
		fillAt("e1", types.OrderSideBuy, 1, 100, 1),
		fillAt("e2", types.OrderSideBuy, 0.5, 120, 0.5),
		fillAt("e3", types.OrderSideSell, 1, 130, 1),
		fillAt("e4", types.OrderSideSell, 0.5, 95, 0.25),
	}

	for _, fill := range fills {
		_, err := a.ApplyFill(fill)
		require.NoError(t, err)
		require.NoError(t, a.CheckEquityInvariant(), "after fill %s", fill.ExecID)
	}

	// Marking to new prices must not break the identity either.
	for _, price := range []float64{90, 150, 33.33} {
		a.Mark(markCandle(price))
		require.NoError(t, a.CheckEquityInvariant(), "at mark %f", price)
	}
}

func TestDrawdownTracksPeakToTrough(t *testing.T) {
	a := NewAccountant(1000)

	_, err := a.ApplyFill(fillAt("e1", types.OrderSideBuy, 10, 100, 0))
	require.NoError(t, err)

	a.Mark(markCandle(120)) // equity 1200, new peak
	a.Mark(markCandle(90))  // equity 900, drawdown 25%
	a.Mark(markCandle(130)) // recovery does not erase the max

	state := a.State()
	assert.InDelta(t, 0.25, state.MaxDrawdown, 1e-9)
	assert.InDelta(t, 1300, state.PeakEquity, 1e-9)
}

func TestOpenNotionalSumsPositions(t *testing.T) {
	a := NewAccountant(10000)

	_, err := a.ApplyFill(fillAt("e1", types.OrderSideBuy, 2, 100, 0))
	require.NoError(t, err)

	eth := fillAt("e2", types.OrderSideBuy, 1, 50, 0)
	eth.Symbol = "ETHUSDT"
	_, err = a.ApplyFill(eth)
	require.NoError(t, err)

	assert.InDelta(t, 250, a.OpenNotional(), 1e-9)
	assert.Len(t, a.OpenPositions(), 2)
}

func TestApplyFillRejectsInvalidFill(t *testing.T) {
	a := NewAccountant(1000)

	bad := fillAt("e1", types.OrderSideBuy, 0, 100, 0)
	_, err := a.ApplyFill(bad)
	require.Error(t, err)
}
