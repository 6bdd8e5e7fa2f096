package synthetic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-lab/tidemark/internal/types"
)

func testConfig() Config {
	return Config{
		Symbols:    []string{"BTCUSDT"},
		Timeframe:  "1m",
		Seed:       42,
		Candles:    200,
		StartPrice: 50000,
		Volatility: 0.002,
	}
}

func drain(t *testing.T, s *Source) []types.Candle {
	t.Helper()

	var candles []types.Candle

	for candle, err := range s.Candles(context.Background()) {
		require.NoError(t, err)

		candles = append(candles, candle)
	}

	return candles
}

func TestSameSeedSameStream(t *testing.T) {
	first := drain(t, New(testConfig()))
	second := drain(t, New(testConfig()))

	require.Equal(t, len(first), len(second))
	assert.Equal(t, first, second)
}

func TestDifferentSeedDifferentStream(t *testing.T) {
	cfg := testConfig()
	first := drain(t, New(cfg))

	cfg.Seed = 43
	second := drain(t, New(cfg))

	assert.NotEqual(t, first, second)
}

func TestCandlesAreValidAndOrdered(t *testing.T) {
	candles := drain(t, New(testConfig()))
	require.Len(t, candles, 200)

	for i, c := range candles {
		require.NoError(t, c.Validate(), "candle %d", i)

		if i > 0 {
			assert.True(t, c.OpenTime.After(candles[i-1].OpenTime))
		}
	}

	// Consecutive bars chain: each open equals the previous close.
	for i := 1; i < len(candles); i++ {
		assert.Equal(t, candles[i-1].Close, candles[i].Open)
	}
}

func TestMultiSymbolInterleaving(t *testing.T) {
	cfg := testConfig()
	cfg.Symbols = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Candles = 10

	candles := drain(t, New(cfg))
	require.Len(t, candles, 20)

	for i := 0; i < len(candles); i += 2 {
		assert.Equal(t, "BTCUSDT", candles[i].Symbol)
		assert.Equal(t, "ETHUSDT", candles[i+1].Symbol)
		assert.Equal(t, candles[i].OpenTime, candles[i+1].OpenTime)
	}

	// Adding a symbol must not change the first symbol's path.
	solo := drain(t, New(testConfig()))

	var btcOnly []types.Candle

	for _, c := range candles {
		if c.Symbol == "BTCUSDT" {
			btcOnly = append(btcOnly, c)
		}
	}

	for i := range btcOnly {
		assert.Equal(t, solo[i].Close, btcOnly[i].Close)
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	count := 0

	for range New(testConfig()).Candles(ctx) {
		count++
		if count > 1 {
			break
		}
	}

	assert.LessOrEqual(t, count, 1)
}

func TestBadTimeframe(t *testing.T) {
	cfg := testConfig()
	cfg.Timeframe = "bogus"

	sawErr := false

	for _, err := range New(cfg).Candles(context.Background()) {
		assert.Error(t, err)

		sawErr = true

		break
	}

	assert.True(t, sawErr)
}
