package strategy

import (
	"strconv"

	"github.com/moznion/go-optional"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/indicator"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

func init() {
	Register("sma_cross", NewSMACross)
}

// SMACross goes long when the fast moving average crosses above the slow
// one and exits when it crosses back under. State is per symbol so one
// instance can track several markets.
type SMACross struct {
	fast     int
	slow     int
	notional float64

	state map[string]*smaState
}

type smaState struct {
	fast     *indicator.SMA
	slow     *indicator.SMA
	wasAbove bool
	primed   bool
}

var _ Strategy = (*SMACross)(nil)

func NewSMACross(cfg config.StrategyConfig) (Strategy, error) {
	fast, err := intParam(cfg.Params, "fast", 10)
	if err != nil {
		return nil, err
	}

	slow, err := intParam(cfg.Params, "slow", 30)
	if err != nil {
		return nil, err
	}

	if fast >= slow {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "fast period %d must be shorter than slow period %d", fast, slow)
	}

	notional, err := floatParam(cfg.Params, "notional", 0)
	if err != nil {
		return nil, err
	}

	return &SMACross{
		fast:     fast,
		slow:     slow,
		notional: notional,
		state:    make(map[string]*smaState),
	}, nil
}

func (s *SMACross) Name() string {
	return "sma_cross"
}

func (s *SMACross) OnCandle(candle types.Candle) (optional.Option[types.Signal], error) {
	st, ok := s.state[candle.Symbol]
	if !ok {
		st = &smaState{
			fast: indicator.NewSMA(s.fast),
			slow: indicator.NewSMA(s.slow),
		}
		s.state[candle.Symbol] = st
	}

	st.fast.Update(candle.Close)
	st.slow.Update(candle.Close)

	if !st.slow.Ready() {
		return optional.None[types.Signal](), nil
	}

	fastAvg := st.fast.Value()
	slowAvg := st.slow.Value()
	above := fastAvg > slowAvg

	// The first full window only establishes which side we are on.
	if !st.primed {
		st.primed = true
		st.wasAbove = above

		return optional.None[types.Signal](), nil
	}

	if above == st.wasAbove {
		return optional.None[types.Signal](), nil
	}

	st.wasAbove = above

	side := types.SignalSideSell
	if above {
		side = types.SignalSideBuy
	}

	spread := (fastAvg - slowAvg) / slowAvg
	if spread < 0 {
		spread = -spread
	}

	return optional.Some(types.Signal{
		Symbol:        candle.Symbol,
		Side:          side,
		OrderNotional: s.notional,
		Confidence:    clamp01(0.5 + spread*50),
		Horizon:       "swing",
		Volatility:    types.VolatilityNormal,
		Reason:        "fast SMA crossed the slow SMA",
	}), nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func intParam(params map[string]string, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "parameter %s must be an integer, got %q", key, raw)
	}

	if value <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "parameter %s must be positive, got %d", key, value)
	}

	return value, nil
}

func floatParam(params map[string]string, key string, fallback float64) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return fallback, nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "parameter %s must be a number, got %q", key, raw)
	}

	if value < 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "parameter %s must not be negative, got %f", key, value)
	}

	return value, nil
}
