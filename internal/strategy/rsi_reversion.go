package strategy

import (
	"github.com/moznion/go-optional"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/indicator"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

func init() {
	Register("rsi_reversion", NewRSIReversion)
}

// RSIReversion is a mean-reversion strategy on Wilder's RSI: buy when the
// market is oversold, sell when it is overbought.
type RSIReversion struct {
	period     int
	oversold   float64
	overbought float64
	notional   float64

	state map[string]*indicator.RSI
}

var _ Strategy = (*RSIReversion)(nil)

func NewRSIReversion(cfg config.StrategyConfig) (Strategy, error) {
	period, err := intParam(cfg.Params, "period", 14)
	if err != nil {
		return nil, err
	}

	oversold, err := floatParam(cfg.Params, "oversold", 30)
	if err != nil {
		return nil, err
	}

	overbought, err := floatParam(cfg.Params, "overbought", 70)
	if err != nil {
		return nil, err
	}

	if oversold >= overbought {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter,
			"oversold threshold %.1f must be below overbought threshold %.1f", oversold, overbought)
	}

	notional, err := floatParam(cfg.Params, "notional", 0)
	if err != nil {
		return nil, err
	}

	return &RSIReversion{
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		notional:   notional,
		state:      make(map[string]*indicator.RSI),
	}, nil
}

func (s *RSIReversion) Name() string {
	return "rsi_reversion"
}

func (s *RSIReversion) OnCandle(candle types.Candle) (optional.Option[types.Signal], error) {
	st, ok := s.state[candle.Symbol]
	if !ok {
		st = indicator.NewRSI(s.period)
		s.state[candle.Symbol] = st
	}

	st.Update(candle.Close)

	if !st.Ready() {
		return optional.None[types.Signal](), nil
	}

	rsi := st.Value()

	var side types.SignalSide

	var distance float64

	switch {
	case rsi <= s.oversold:
		side = types.SignalSideBuy
		distance = s.oversold - rsi
	case rsi >= s.overbought:
		side = types.SignalSideSell
		distance = rsi - s.overbought
	default:
		return optional.None[types.Signal](), nil
	}

	return optional.Some(types.Signal{
		Symbol:        candle.Symbol,
		Side:          side,
		OrderNotional: s.notional,
		Confidence:    clamp01(0.5 + distance/60),
		Horizon:       "intraday",
		Volatility:    types.VolatilityNormal,
		Reason:        "RSI left its neutral band",
	}), nil
}
