package types

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// RunMode selects the data source and executor pair for a run. Everything
// between them behaves identically across modes.
type RunMode string

const (
	RunModeBacktest RunMode = "backtest"
	RunModeForward  RunMode = "forward"
	RunModeLive     RunMode = "live"
)

// RunSummary is the final accounting of one engine run. Appended once per
// run, never updated.
type RunSummary struct {
	RunID          string    `yaml:"run_id" json:"run_id"`
	Mode           RunMode   `yaml:"mode" json:"mode"`
	StartedAt      time.Time `yaml:"started_at" json:"started_at"`
	FinishedAt     time.Time `yaml:"finished_at" json:"finished_at"`
	InitialEquity  float64   `yaml:"initial_equity" json:"initial_equity"`
	FinalEquity    float64   `yaml:"final_equity" json:"final_equity"`
	RealizedPnL    float64   `yaml:"realized_pnl" json:"realized_pnl"`
	TotalFees      float64   `yaml:"total_fees" json:"total_fees"`
	TradeCount     int       `yaml:"trade_count" json:"trade_count"`
	WinningTrades  int       `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades   int       `yaml:"losing_trades" json:"losing_trades"`
	WinRate        float64   `yaml:"win_rate" json:"win_rate"`
	MaxDrawdown    float64   `yaml:"max_drawdown" json:"max_drawdown"`
	CandlesSeen    int       `yaml:"candles_seen" json:"candles_seen"`
	StrategyFaults int       `yaml:"strategy_faults" json:"strategy_faults"`
}

// Write writes the summary as YAML to the given path.
func (s *RunSummary) Write(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSummaryWriteFailed, "failed to marshal run summary", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeSummaryWriteFailed, "failed to write run summary", err)
	}

	return nil
}

// Recommendation is a strategy suggestion persisted for external consumers.
// Keyed by (symbol, generated_at); the store mirrors the current set to a
// YAML file so consumers outside the engine can read it without a driver.
type Recommendation struct {
	Symbol      string    `yaml:"symbol" json:"symbol"`
	StrategyID  string    `yaml:"strategy_id" json:"strategy_id"`
	Side        string    `yaml:"side" json:"side"`
	Confidence  float64   `yaml:"confidence" json:"confidence"`
	Horizon     string    `yaml:"horizon" json:"horizon"`
	Rationale   string    `yaml:"rationale" json:"rationale"`
	GeneratedAt time.Time `yaml:"generated_at" json:"generated_at"`
}
