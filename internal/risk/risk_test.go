package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/types"
)

func buySignal(notional, confidence float64) types.Signal {
	return types.Signal{
		StrategyID:    "s1",
		Symbol:        "BTCUSDT",
		Side:          types.SignalSideBuy,
		OrderNotional: notional,
		Confidence:    confidence,
		Volatility:    types.VolatilityNormal,
	}
}

func flatAccount(equity float64) types.AccountState {
	return types.AccountState{Cash: equity, Equity: equity}
}

func TestEvaluateWorkedExample(t *testing.T) {
	engine := New(config.RiskConfig{
		MinConfidence: 0.5,
		MaxExposure:   0.2,
	}, []string{"BTCUSDT"})

	decision := engine.Evaluate(buySignal(100, 0.9), types.Position{}, flatAccount(1000), 0, 50000)

	require.True(t, decision.Approved, "rejected: %s", decision.RejectionReason)
	assert.InDelta(t, 0.002, decision.Quantity, 1e-12)
	assert.Equal(t, 50000.0, decision.ReferencePrice)
}

func TestEvaluateCheckOrder(t *testing.T) {
	limits := config.RiskConfig{
		MinConfidence: 0.5,
		MaxExposure:   0.1,
		MinQuantity:   0,
		MaxQuantity:   0.001,
		MinNotional:   10,
	}
	engine := New(limits, []string{"BTCUSDT"})
	account := flatAccount(1000)

	tests := []struct {
		name         string
		signal       types.Signal
		position     types.Position
		openNotional float64
		refPrice     float64
		wantReason   string
	}{
		{
			name:       "confidence floor fires before allow-list",
			signal:     func() types.Signal { s := buySignal(100, 0.1); s.Symbol = "DOGEUSDT"; return s }(),
			refPrice:   50000,
			wantReason: ReasonConfidenceFloor,
		},
		{
			name:       "allow-list fires before exposure",
			signal:     func() types.Signal { s := buySignal(1e6, 0.9); s.Symbol = "DOGEUSDT"; return s }(),
			refPrice:   50000,
			wantReason: ReasonSymbolNotAllowed,
		},
		{
			name:         "exposure counts already-open notional",
			signal:       buySignal(60, 0.9),
			openNotional: 50,
			refPrice:     50000,
			wantReason:   ReasonExposureExceeded,
		},
		{
			name:       "notional floor after quantity clamp",
			signal:     buySignal(5, 0.9),
			refPrice:   50000,
			wantReason: ReasonNotionalBounds,
		},
		{
			name:       "missing reference price",
			signal:     buySignal(100, 0.9),
			refPrice:   0,
			wantReason: ReasonNoReferencePrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := engine.Evaluate(tt.signal, tt.position, account, tt.openNotional, tt.refPrice)
			require.False(t, decision.Approved)
			assert.Contains(t, decision.RejectionReason, tt.wantReason)
		})
	}
}

func TestEvaluateClampsQuantity(t *testing.T) {
	engine := New(config.RiskConfig{
		MaxExposure: 1,
		MaxQuantity: 0.001,
	}, []string{"BTCUSDT"})

	decision := engine.Evaluate(buySignal(100, 0.9), types.Position{}, flatAccount(1000), 0, 50000)

	require.True(t, decision.Approved)
	assert.InDelta(t, 0.001, decision.Quantity, 1e-12)
}

func TestEvaluateSizesFromEquityWhenNotionalOmitted(t *testing.T) {
	engine := New(config.RiskConfig{
		MaxExposure:  1,
		RiskPerTrade: 0.02,
	}, []string{"BTCUSDT"})

	// equity 1000 * risk 0.02 * confidence 0.5 = notional 10 at price 100.
	decision := engine.Evaluate(buySignal(0, 0.5), types.Position{}, flatAccount(1000), 0, 100)

	require.True(t, decision.Approved)
	assert.InDelta(t, 0.1, decision.Quantity, 1e-12)

	// High volatility damps the size.
	signal := buySignal(0, 0.5)
	signal.Volatility = types.VolatilityHigh
	decision = engine.Evaluate(signal, types.Position{}, flatAccount(1000), 0, 100)

	require.True(t, decision.Approved)
	assert.InDelta(t, 0.06, decision.Quantity, 1e-12)
}

func TestEvaluateReduceOnly(t *testing.T) {
	engine := New(config.RiskConfig{
		MaxExposure: 1,
		ReduceOnly:  true,
	}, []string{"BTCUSDT"})
	account := flatAccount(1000)

	long := types.Position{Symbol: "BTCUSDT", Quantity: 0.01, AvgEntryPrice: 100}

	// Selling against a long reduces exposure and passes.
	sell := buySignal(100, 0.9)
	sell.Side = types.SignalSideSell
	decision := engine.Evaluate(sell, long, account, 1, 100)
	require.True(t, decision.Approved)

	// A reducing order is capped at the open position size.
	assert.InDelta(t, 0.01, decision.Quantity, 1e-12)

	// Buying more is rejected.
	decision = engine.Evaluate(buySignal(100, 0.9), long, account, 1, 100)
	require.False(t, decision.Approved)
	assert.Contains(t, decision.RejectionReason, ReasonReduceOnly)
}

func TestEvaluateFlatSignal(t *testing.T) {
	engine := New(config.RiskConfig{MaxExposure: 1}, []string{"BTCUSDT"})
	account := flatAccount(1000)

	flat := buySignal(0, 0.9)
	flat.Side = types.SignalSideFlat

	decision := engine.Evaluate(flat, types.Position{Symbol: "BTCUSDT", Quantity: 0.05}, account, 5, 100)
	require.True(t, decision.Approved)
	assert.InDelta(t, 0.05, decision.Quantity, 1e-12)

	decision = engine.Evaluate(flat, types.Position{}, account, 0, 100)
	require.False(t, decision.Approved)
	assert.Equal(t, ReasonPositionFlat, decision.RejectionReason)
}

func TestKillSwitchConsecutiveLosses(t *testing.T) {
	ks := NewKillSwitch(config.RiskConfig{MaxConsecutiveLosses: 3})

	ks.RecordTrade(-5)
	ks.RecordTrade(-5)
	ks.RecordTrade(10) // streak resets
	ks.RecordTrade(-5)
	ks.RecordTrade(-5)

	tripped, _ := ks.Tripped()
	require.False(t, tripped)

	ks.RecordTrade(-5)

	tripped, reason := ks.Tripped()
	require.True(t, tripped)
	assert.Contains(t, reason, "consecutive losing trades")
}

func TestKillSwitchDailyDrawdown(t *testing.T) {
	ks := NewKillSwitch(config.RiskConfig{MaxDailyDrawdown: 0.1})
	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	ks.ObserveEquity(day1, 1000)
	ks.ObserveEquity(day1.Add(time.Hour), 950)

	tripped, _ := ks.Tripped()
	require.False(t, tripped)

	// A new UTC day rebases the drawdown reference.
	day2 := day1.Add(24 * time.Hour)
	ks.ObserveEquity(day2, 950)
	ks.ObserveEquity(day2.Add(time.Hour), 900)

	tripped, _ = ks.Tripped()
	require.False(t, tripped)

	ks.ObserveEquity(day2.Add(2*time.Hour), 850)

	tripped, reason := ks.Tripped()
	require.True(t, tripped)
	assert.Contains(t, reason, "daily drawdown")
}
