// Package risk adjudicates signals. Evaluate is a pure function of the
// signal and the account state it is handed, so identical inputs always
// produce identical decisions regardless of run mode.
package risk

import (
	"fmt"
	"math"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// Rejection reasons, one per check. They end up in trade logs, so they are
// stable strings rather than free-form messages.
const (
	ReasonConfidenceFloor   = "confidence below floor"
	ReasonSymbolNotAllowed  = "symbol not allow-listed"
	ReasonExposureExceeded  = "exposure limit exceeded"
	ReasonReduceOnly        = "order would increase exposure under reduce-only"
	ReasonQuantityBounds    = "quantity outside configured bounds"
	ReasonNotionalBounds    = "notional outside configured bounds"
	ReasonNoReferencePrice  = "no reference price available"
	ReasonPositionFlat      = "no position to close"
	ReasonZeroSizedOrder    = "sized order is zero"
)

// Engine applies the configured limits to signals. It holds no mutable
// state; the kill switch lives separately in KillSwitch.
type Engine struct {
	limits  config.RiskConfig
	allowed map[string]struct{}
}

// New builds a risk engine. configuredSymbols is the engine-wide symbol
// universe; an explicit allow-list in the limits narrows it further.
func New(limits config.RiskConfig, configuredSymbols []string) *Engine {
	allowed := make(map[string]struct{})

	symbols := limits.AllowedSymbols
	if len(symbols) == 0 {
		symbols = configuredSymbols
	}

	for _, symbol := range symbols {
		allowed[symbol] = struct{}{}
	}

	return &Engine{limits: limits, allowed: allowed}
}

// Evaluate turns a signal into a decision. Checks run in a fixed order and
// short-circuit on the first failure: confidence floor, symbol allow-list,
// exposure limit, reduce-only compatibility, then quantity and notional
// bounds on the clamped size. Approval is all-or-nothing: the decision
// carries one final quantity, never a range.
func (e *Engine) Evaluate(
	signal types.Signal,
	position types.Position,
	account types.AccountState,
	openNotional float64,
	referencePrice float64,
) types.RiskDecision {
	reject := func(reason string) types.RiskDecision {
		return types.RiskDecision{Signal: signal, Approved: false, ReferencePrice: referencePrice, RejectionReason: reason}
	}

	if referencePrice <= 0 {
		return reject(ReasonNoReferencePrice)
	}

	if signal.Confidence < e.limits.MinConfidence {
		return reject(ReasonConfidenceFloor)
	}

	if _, ok := e.allowed[signal.Symbol]; !ok {
		return reject(ReasonSymbolNotAllowed)
	}

	// A flat signal closes whatever is open. It only ever reduces
	// exposure, so the sizing checks below do not apply.
	if signal.Side == types.SignalSideFlat {
		if position.IsFlat() {
			return reject(ReasonPositionFlat)
		}

		return types.RiskDecision{
			Signal:         signal,
			Approved:       true,
			Quantity:       math.Abs(position.Quantity),
			ReferencePrice: referencePrice,
		}
	}

	notional := e.sizeNotional(signal, account)
	if notional <= 0 {
		return reject(ReasonZeroSizedOrder)
	}

	reducing := isReducing(signal.Side, position)

	if !reducing {
		if e.limits.MaxExposure > 0 && openNotional+notional > e.limits.MaxExposure*account.Equity {
			return reject(fmt.Sprintf("%s: open %.2f + new %.2f > limit %.2f",
				ReasonExposureExceeded, openNotional, notional, e.limits.MaxExposure*account.Equity))
		}

		if e.limits.ReduceOnly {
			return reject(ReasonReduceOnly)
		}
	}

	quantity := clamp(notional/referencePrice, e.limits.MinQuantity, e.limits.MaxQuantity)
	if quantity <= 0 {
		return reject(ReasonQuantityBounds)
	}

	finalNotional := quantity * referencePrice
	if finalNotional < e.limits.MinNotional {
		return reject(ReasonNotionalBounds)
	}

	if e.limits.MaxNotional > 0 && finalNotional > e.limits.MaxNotional {
		return reject(ReasonNotionalBounds)
	}

	// A reducing order never exceeds the open position; the remainder
	// would flip direction, which is the strategy's call to make with a
	// fresh signal, not a side effect of an exit.
	if reducing {
		quantity = math.Min(quantity, math.Abs(position.Quantity))
	}

	return types.RiskDecision{
		Signal:         signal,
		Approved:       true,
		Quantity:       quantity,
		ReferencePrice: referencePrice,
	}
}

// sizeNotional resolves the order's quote-currency size. An explicit
// notional on the signal wins; otherwise the order is sized from equity,
// scaled by confidence and damped in high-volatility regimes.
func (e *Engine) sizeNotional(signal types.Signal, account types.AccountState) float64 {
	if signal.OrderNotional > 0 {
		return signal.OrderNotional
	}

	if e.limits.RiskPerTrade <= 0 {
		return 0
	}

	return account.Equity * e.limits.RiskPerTrade * signal.Confidence * volatilityFactor(signal.Volatility)
}

func volatilityFactor(regime types.VolatilityRegime) float64 {
	switch regime {
	case types.VolatilityLow:
		return 1.2
	case types.VolatilityHigh:
		return 0.6
	default:
		return 1.0
	}
}

// isReducing reports whether an order on the given side shrinks the
// position instead of growing or opening one.
func isReducing(side types.SignalSide, position types.Position) bool {
	if position.IsFlat() {
		return false
	}

	if position.Quantity > 0 {
		return side == types.SignalSideSell
	}

	return side == types.SignalSideBuy
}

func clamp(value, min, max float64) float64 {
	if min > 0 && value < min {
		value = min
	}

	if max > 0 && value > max {
		value = max
	}

	return value
}
