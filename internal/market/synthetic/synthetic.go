// Package synthetic generates a deterministic candle stream from a seeded
// random walk. The same seed and parameters always produce the same
// candles, which makes it the source of choice for dry runs and tests.
package synthetic

import (
	"context"
	"iter"
	"math"
	"math/rand"
	"time"

	"github.com/tidemark-lab/tidemark/internal/market"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Config parameterizes the walk.
type Config struct {
	Symbols    []string
	Timeframe  string
	Seed       int64
	Candles    int
	StartPrice float64
	// Drift is the expected per-candle return, Volatility the per-candle
	// standard deviation, both as fractions of price.
	Drift      float64
	Volatility float64
	// Start anchors the first candle's open time. Zero means 2024-01-01 UTC.
	Start time.Time
}

// Source emits a seeded pseudo-random candle walk.
type Source struct {
	cfg Config
}

var _ market.Source = (*Source)(nil)

func New(cfg Config) *Source {
	if cfg.StartPrice == 0 {
		cfg.StartPrice = 100
	}

	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	return &Source{cfg: cfg}
}

// Candles yields the walk in open-time order, all symbols interleaved per
// step. Each symbol gets an independent deterministic path derived from the
// configured seed.
func (s *Source) Candles(ctx context.Context) iter.Seq2[types.Candle, error] {
	return func(yield func(types.Candle, error) bool) {
		step, err := types.ParseTimeframe(s.cfg.Timeframe)
		if err != nil {
			yield(types.Candle{}, err)

			return
		}

		if len(s.cfg.Symbols) == 0 {
			yield(types.Candle{}, errors.New(errors.ErrCodeInvalidParameter, "no symbols configured"))

			return
		}

		// One generator per symbol so adding a symbol does not change the
		// paths of the others.
		rngs := make([]*rand.Rand, len(s.cfg.Symbols))
		prices := make([]float64, len(s.cfg.Symbols))

		for i := range s.cfg.Symbols {
			rngs[i] = rand.New(rand.NewSource(s.cfg.Seed + int64(i)))
			prices[i] = s.cfg.StartPrice
		}

		for n := 0; n < s.cfg.Candles; n++ {
			openTime := s.cfg.Start.Add(time.Duration(n) * step)

			for i, symbol := range s.cfg.Symbols {
				if ctx.Err() != nil {
					return
				}

				rng := rngs[i]

				open := prices[i]
				ret := s.cfg.Drift + s.cfg.Volatility*rng.NormFloat64()
				closePrice := open * (1 + ret)

				if closePrice <= 0 {
					closePrice = open * 0.01
				}

				spread := math.Abs(open*s.cfg.Volatility) * rng.Float64()
				high := math.Max(open, closePrice) + spread
				low := math.Min(open, closePrice) - spread

				if low <= 0 {
					low = math.Min(open, closePrice) * 0.99
				}

				candle := types.Candle{
					Symbol:    symbol,
					Timeframe: s.cfg.Timeframe,
					OpenTime:  openTime,
					Open:      open,
					High:      high,
					Low:       low,
					Close:     closePrice,
					Volume:    1 + 100*rng.Float64(),
				}

				if !yield(candle, nil) {
					return
				}

				prices[i] = closePrice
			}
		}
	}
}
