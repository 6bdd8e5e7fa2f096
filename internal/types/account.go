package types

import "time"

// AccountState is the ledger's view of the account at a point in time.
// Equity = Cash + sum of position notionals marked at last seen prices.
type AccountState struct {
	Cash          float64 `yaml:"cash" json:"cash" csv:"cash"`
	Equity        float64 `yaml:"equity" json:"equity" csv:"equity"`
	RealizedPnL   float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl" csv:"unrealized_pnl"`
	TotalFees     float64 `yaml:"total_fees" json:"total_fees" csv:"total_fees"`
	PeakEquity    float64 `yaml:"peak_equity" json:"peak_equity" csv:"peak_equity"`
	// MaxDrawdown is the largest peak-to-trough equity decline seen so far,
	// as a fraction of the peak.
	MaxDrawdown float64 `yaml:"max_drawdown" json:"max_drawdown" csv:"max_drawdown"`
}

// EquitySnapshot is one point on the equity curve.
type EquitySnapshot struct {
	Time          time.Time `yaml:"time" json:"time" csv:"time"`
	Equity        float64   `yaml:"equity" json:"equity" csv:"equity"`
	Cash          float64   `yaml:"cash" json:"cash" csv:"cash"`
	UnrealizedPnL float64   `yaml:"unrealized_pnl" json:"unrealized_pnl" csv:"unrealized_pnl"`
}
