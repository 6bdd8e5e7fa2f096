package types

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// SignalSide is the direction a strategy wants to move its position in.
type SignalSide string

const (
	SignalSideBuy  SignalSide = "buy"
	SignalSideSell SignalSide = "sell"
	// SignalSideFlat requests closing any open position in the symbol.
	SignalSideFlat SignalSide = "flat"
)

// VolatilityRegime is the strategy's coarse read of current volatility,
// used by position sizing.
type VolatilityRegime string

const (
	VolatilityLow    VolatilityRegime = "low"
	VolatilityNormal VolatilityRegime = "normal"
	VolatilityHigh   VolatilityRegime = "high"
)

// Signal is an immutable trade intent emitted by a strategy. It carries a
// desired notional rather than a quantity; the risk engine decides the
// quantity. A zero OrderNotional asks the risk engine to size the order
// from equity and confidence.
type Signal struct {
	StrategyID    string           `yaml:"strategy_id" json:"strategy_id" validate:"required"`
	Symbol        string           `yaml:"symbol" json:"symbol" validate:"required"`
	Side          SignalSide       `yaml:"side" json:"side" validate:"required,oneof=buy sell flat"`
	OrderNotional float64          `yaml:"order_notional" json:"order_notional" validate:"gte=0"`
	Confidence    float64          `yaml:"confidence" json:"confidence" validate:"gte=0,lte=1"`
	Horizon       string           `yaml:"horizon" json:"horizon"`
	Volatility    VolatilityRegime `yaml:"volatility" json:"volatility"`
	Reason        string           `yaml:"reason" json:"reason"`
	EmittedAt     time.Time        `yaml:"emitted_at" json:"emitted_at" validate:"required"`
	TraceID       string           `yaml:"trace_id" json:"trace_id" validate:"required"`
}

// Validate validates the Signal struct.
func (s *Signal) Validate() error {
	validate := validator.New()
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidSignal, "invalid signal", err)
	}

	return nil
}

// RiskDecision is the risk engine's verdict on a signal. Approved is true
// iff Quantity > 0; a rejected decision carries the check that failed.
type RiskDecision struct {
	Signal          Signal  `yaml:"signal" json:"signal"`
	Approved        bool    `yaml:"approved" json:"approved"`
	Quantity        float64 `yaml:"quantity" json:"quantity"`
	ReferencePrice  float64 `yaml:"reference_price" json:"reference_price"`
	RejectionReason string  `yaml:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
}
