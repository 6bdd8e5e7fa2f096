package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the current net holding of a symbol. Quantity is positive for
// long, negative for short, zero when flat. AvgEntryPrice includes entry
// fees, so unrealized PnL already accounts for the cost of getting in.
type Position struct {
	Symbol        string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Quantity      float64   `yaml:"quantity" json:"quantity" csv:"quantity"`
	AvgEntryPrice float64   `yaml:"avg_entry_price" json:"avg_entry_price" csv:"avg_entry_price"`
	RealizedPnL   float64   `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
	TotalFees     float64   `yaml:"total_fees" json:"total_fees" csv:"total_fees"`
	OpenedAt      time.Time `yaml:"opened_at" json:"opened_at" csv:"opened_at"`
	StrategyID    string    `yaml:"strategy_id" json:"strategy_id" csv:"strategy_id"`
}

// IsFlat reports whether there is no open exposure.
func (p *Position) IsFlat() bool {
	return p.Quantity == 0
}

// IsLong reports whether the position is net long.
func (p *Position) IsLong() bool {
	return p.Quantity > 0
}

// Notional returns the absolute market value of the position at price.
func (p *Position) Notional(price float64) float64 {
	qty := decimal.NewFromFloat(p.Quantity).Abs()
	result, _ := qty.Mul(decimal.NewFromFloat(price)).Float64()

	return result
}

// UnrealizedPnL returns the mark-to-market gain of the open quantity at
// price. Zero when flat. Short positions gain when price falls.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Quantity == 0 {
		return 0
	}

	qtyDec := decimal.NewFromFloat(p.Quantity)
	priceDec := decimal.NewFromFloat(price)
	entryDec := decimal.NewFromFloat(p.AvgEntryPrice)

	result, _ := priceDec.Sub(entryDec).Mul(qtyDec).Float64()

	return result
}

// Trade is the immutable record of one fill applied to the ledger.
// RealizedPnL is the pnl this fill alone realized: zero for fills that only
// increase exposure, the closed quantity times the entry/exit spread for
// fills that reduce it.
type Trade struct {
	Fill        Fill    `yaml:"fill" json:"fill" csv:"fill"`
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
	// PositionAfter is the net quantity after this fill was applied.
	PositionAfter float64 `yaml:"position_after" json:"position_after" csv:"position_after"`
}
