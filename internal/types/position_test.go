package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionUnrealizedPnL(t *testing.T) {
	long := Position{Symbol: "BTCUSDT", Quantity: 0.5, AvgEntryPrice: 40000}
	assert.InDelta(t, 1000.0, long.UnrealizedPnL(42000), 1e-9)
	assert.InDelta(t, -500.0, long.UnrealizedPnL(39000), 1e-9)

	short := Position{Symbol: "BTCUSDT", Quantity: -0.5, AvgEntryPrice: 40000}
	assert.InDelta(t, -1000.0, short.UnrealizedPnL(42000), 1e-9)
	assert.InDelta(t, 500.0, short.UnrealizedPnL(39000), 1e-9)

	flat := Position{Symbol: "BTCUSDT"}
	assert.Zero(t, flat.UnrealizedPnL(42000))
}

func TestPositionNotional(t *testing.T) {
	long := Position{Quantity: 0.002, AvgEntryPrice: 50000}
	assert.InDelta(t, 100.0, long.Notional(50000), 1e-9)

	short := Position{Quantity: -0.002}
	assert.InDelta(t, 100.0, short.Notional(50000), 1e-9)
}

func TestPositionFlags(t *testing.T) {
	assert.True(t, (&Position{}).IsFlat())
	assert.True(t, (&Position{Quantity: 1}).IsLong())
	assert.False(t, (&Position{Quantity: -1}).IsLong())
	assert.False(t, (&Position{Quantity: -1}).IsFlat())
}
