// Package commission models exchange fees for simulated fills.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/tidemark-lab/tidemark/internal/config"
)

// Model computes the fee for a fill, in quote currency.
type Model interface {
	Fee(quantity, price float64) float64
}

// New maps the configured model to an implementation. An unset model
// defaults to zero fees, which keeps backtests comparable with older runs.
func New(cfg config.CommissionConfig) Model {
	switch cfg.Model {
	case config.CommissionTakerBps:
		return TakerBps{Bps: cfg.TakerBps}
	default:
		return Zero{}
	}
}

// Zero charges nothing.
type Zero struct{}

func (Zero) Fee(quantity, price float64) float64 { return 0 }

// TakerBps charges a flat taker fee in basis points of the fill notional.
// The multiply runs through decimal so fee accounting does not accumulate
// float drift over long runs.
type TakerBps struct {
	Bps float64
}

func (m TakerBps) Fee(quantity, price float64) float64 {
	notional := decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price))
	fee := notional.Mul(decimal.NewFromFloat(m.Bps)).Div(decimal.NewFromInt(10000))

	value, _ := fee.Float64()

	return value
}
