// Package ledger is the engine's single source of truth for positions,
// cash and equity. All fills for a run are applied sequentially by one
// writer; nothing else mutates position state.
package ledger

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Accountant applies fills to positions and tracks the equity curve. It is
// not safe for concurrent use: the owning Ledger serializes access.
type Accountant struct {
	cash        decimal.Decimal
	realizedPnL decimal.Decimal
	totalFees   decimal.Decimal

	positions map[string]*types.Position
	// marks holds the last seen close per symbol for mark-to-market.
	marks map[string]float64

	initialEquity float64
	peakEquity    float64
	maxDrawdown   float64
}

func NewAccountant(initialEquity float64) *Accountant {
	return &Accountant{
		cash:          decimal.NewFromFloat(initialEquity),
		positions:     make(map[string]*types.Position),
		marks:         make(map[string]float64),
		initialEquity: initialEquity,
		peakEquity:    initialEquity,
	}
}

// ApplyFill mutates the position for the fill's symbol and returns the
// immutable trade record. Entry fees roll into the average entry price;
// exit fees reduce realized PnL. The arithmetic runs through decimal so a
// long backtest does not accumulate float drift.
func (a *Accountant) ApplyFill(fill types.Fill) (types.Trade, error) {
	if err := fill.Validate(); err != nil {
		return types.Trade{}, err
	}

	position, ok := a.positions[fill.Symbol]
	if !ok {
		position = &types.Position{Symbol: fill.Symbol}
		a.positions[fill.Symbol] = position
	}

	qty := decimal.NewFromFloat(fill.Quantity)
	if fill.Side == types.OrderSideSell {
		qty = qty.Neg()
	}

	price := decimal.NewFromFloat(fill.Price)
	fee := decimal.NewFromFloat(fill.Fee)
	current := decimal.NewFromFloat(position.Quantity)
	entry := decimal.NewFromFloat(position.AvgEntryPrice)

	// Cash moves by the full fill value plus the fee, regardless of
	// whether the fill opens or closes exposure.
	a.cash = a.cash.Sub(qty.Mul(price)).Sub(fee)
	a.totalFees = a.totalFees.Add(fee)
	position.TotalFees, _ = decimal.NewFromFloat(position.TotalFees).Add(fee).Float64()

	realized := decimal.Zero

	sameDirection := current.IsZero() || current.Sign() == qty.Sign()
	if sameDirection {
		// Growing the position: fold the fill and its fee into the
		// weighted-average entry.
		newQty := current.Add(qty)
		cost := current.Abs().Mul(entry).Add(qty.Abs().Mul(price)).Add(fee)
		newEntry := cost.Div(newQty.Abs())

		if current.IsZero() {
			position.OpenedAt = fill.ExecutedAt
			position.StrategyID = fill.StrategyID
		}

		position.Quantity, _ = newQty.Float64()
		position.AvgEntryPrice, _ = newEntry.Float64()
	} else {
		// Reducing (or flipping) the position realizes PnL on the closed
		// quantity.
		closed := decimal.Min(qty.Abs(), current.Abs())
		direction := decimal.NewFromInt(int64(current.Sign()))
		realized = price.Sub(entry).Mul(closed).Mul(direction).Sub(fee)

		a.realizedPnL = a.realizedPnL.Add(realized)
		position.RealizedPnL, _ = decimal.NewFromFloat(position.RealizedPnL).Add(realized).Float64()

		remainder := current.Add(qty)
		position.Quantity, _ = remainder.Float64()

		if remainder.IsZero() {
			position.AvgEntryPrice = 0
		} else if remainder.Sign() != current.Sign() {
			// The fill flipped direction: the excess opens a new position
			// at the fill price.
			position.AvgEntryPrice, _ = price.Float64()
			position.OpenedAt = fill.ExecutedAt
			position.StrategyID = fill.StrategyID
		}
	}

	a.marks[fill.Symbol] = fill.Price
	a.updateDrawdown()

	realizedValue, _ := realized.Float64()

	return types.Trade{
		Fill:          fill,
		RealizedPnL:   realizedValue,
		PositionAfter: position.Quantity,
	}, nil
}

// Mark updates the symbol's mark price from a closed candle and refreshes
// the drawdown tracking.
func (a *Accountant) Mark(candle types.Candle) {
	a.marks[candle.Symbol] = candle.Close
	a.updateDrawdown()
}

// Position returns a copy of the symbol's position, zero-valued when flat.
func (a *Accountant) Position(symbol string) types.Position {
	if position, ok := a.positions[symbol]; ok {
		return *position
	}

	return types.Position{Symbol: symbol}
}

// OpenNotional sums the absolute marked value of all open positions.
func (a *Accountant) OpenNotional() float64 {
	total := 0.0
	for symbol, position := range a.positions {
		total += position.Notional(a.marks[symbol])
	}

	return total
}

// State assembles the current account view. The equity identity
// equity = cash + Σ quantity × mark holds by construction.
func (a *Accountant) State() types.AccountState {
	unrealized := 0.0
	marked := decimal.Zero

	for symbol, position := range a.positions {
		mark := a.marks[symbol]
		unrealized += position.UnrealizedPnL(mark)
		marked = marked.Add(decimal.NewFromFloat(position.Quantity).Mul(decimal.NewFromFloat(mark)))
	}

	cash, _ := a.cash.Float64()
	equity, _ := a.cash.Add(marked).Float64()
	realized, _ := a.realizedPnL.Float64()
	fees, _ := a.totalFees.Float64()

	return types.AccountState{
		Cash:          cash,
		Equity:        equity,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TotalFees:     fees,
		PeakEquity:    a.peakEquity,
		MaxDrawdown:   a.maxDrawdown,
	}
}

// Snapshot captures one point of the equity curve.
func (a *Accountant) Snapshot(at time.Time) types.EquitySnapshot {
	state := a.State()

	return types.EquitySnapshot{
		Time:          at,
		Equity:        state.Equity,
		Cash:          state.Cash,
		UnrealizedPnL: state.UnrealizedPnL,
	}
}

// Mark price for a symbol, zero if never seen.
func (a *Accountant) MarkPrice(symbol string) float64 {
	return a.marks[symbol]
}

// OpenPositions lists all non-flat positions.
func (a *Accountant) OpenPositions() []types.Position {
	open := make([]types.Position, 0, len(a.positions))

	for _, position := range a.positions {
		if !position.IsFlat() {
			open = append(open, *position)
		}
	}

	return open
}

// CheckEquityInvariant verifies equity = initial + realized + unrealized.
// Entry fees live inside the average entry price and exit fees inside
// realized PnL, so no separate fee term appears. A violation means
// position state diverged from the trade log.
func (a *Accountant) CheckEquityInvariant() error {
	state := a.State()
	expected := a.initialEquity + state.RealizedPnL + state.UnrealizedPnL

	if math.Abs(state.Equity-expected) > 1e-6 {
		return errors.Newf(errors.ErrCodeLedgerWriteFailed,
			"equity %.8f diverged from expected %.8f", state.Equity, expected)
	}

	return nil
}

func (a *Accountant) updateDrawdown() {
	state := a.State()

	if state.Equity > a.peakEquity {
		a.peakEquity = state.Equity
	}

	if a.peakEquity > 0 {
		drawdown := (a.peakEquity - state.Equity) / a.peakEquity
		if drawdown > a.maxDrawdown {
			a.maxDrawdown = drawdown
		}
	}
}
