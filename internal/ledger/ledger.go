package ledger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Ledger is the single writer for one run: every fill, order and snapshot
// flows through it sequentially from the candle loop. It pairs the
// in-memory accountant with the durable store so the two can never
// disagree about what happened.
type Ledger struct {
	runID      string
	mode       types.RunMode
	accountant *Accountant
	store      *Store
	logger     *logger.Logger

	startedAt  time.Time
	resultsDir string

	tradeCount    int
	winningTrades int
	losingTrades  int
	candlesSeen   int

	snapshotInterval int
	sinceSnapshot    int
}

func New(cfg config.LedgerConfig, mode types.RunMode, initialEquity float64, log *logger.Logger) (*Ledger, error) {
	// Fail before the loop starts, not when the summary is written.
	if err := os.MkdirAll(cfg.ResultsDir, 0o755); err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "results directory %s is not writable", cfg.ResultsDir)
	}

	store, err := NewStore(cfg.DatabasePath, cfg.RecommendationsPath, log)
	if err != nil {
		return nil, err
	}

	interval := cfg.SnapshotInterval
	if interval <= 0 {
		interval = 1
	}

	return &Ledger{
		runID:            uuid.NewString(),
		mode:             mode,
		accountant:       NewAccountant(initialEquity),
		store:            store,
		logger:           log,
		startedAt:        time.Now().UTC(),
		resultsDir:       cfg.ResultsDir,
		snapshotInterval: interval,
	}, nil
}

func (l *Ledger) RunID() string {
	return l.runID
}

// RecordOrder persists a submitted order.
func (l *Ledger) RecordOrder(order types.Order) error {
	return l.store.AppendOrder(l.runID, order)
}

// ApplyFill is the only way position state changes. It updates the
// accountant, appends the immutable trade record, and keeps the win/loss
// tally for the run summary.
func (l *Ledger) ApplyFill(fill types.Fill) (types.Trade, error) {
	trade, err := l.accountant.ApplyFill(fill)
	if err != nil {
		return types.Trade{}, err
	}

	if err := l.store.AppendTrade(l.runID, trade); err != nil {
		return types.Trade{}, err
	}

	l.tradeCount++

	switch {
	case trade.RealizedPnL > 0:
		l.winningTrades++
	case trade.RealizedPnL < 0:
		l.losingTrades++
	}

	l.logger.Debug("fill applied",
		zap.String("exec_id", fill.ExecID),
		zap.String("symbol", fill.Symbol),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.Float64("realized_pnl", trade.RealizedPnL))

	return trade, nil
}

// OnCandle marks positions to the candle close and appends equity and
// position snapshots every configured number of candles.
func (l *Ledger) OnCandle(candle types.Candle) error {
	l.accountant.Mark(candle)
	l.candlesSeen++
	l.sinceSnapshot++

	if l.sinceSnapshot < l.snapshotInterval {
		return nil
	}

	l.sinceSnapshot = 0

	at := candle.CloseTime()
	if err := l.store.AppendSnapshot(l.runID, l.accountant.Snapshot(at)); err != nil {
		return err
	}

	return l.store.AppendPositionSnapshots(l.runID, at, l.accountant.OpenPositions(), l.accountant.MarkPrice)
}

func (l *Ledger) Position(symbol string) types.Position {
	return l.accountant.Position(symbol)
}

func (l *Ledger) State() types.AccountState {
	return l.accountant.State()
}

func (l *Ledger) OpenNotional() float64 {
	return l.accountant.OpenNotional()
}

func (l *Ledger) MarkPrice(symbol string) float64 {
	return l.accountant.MarkPrice(symbol)
}

func (l *Ledger) OpenPositions() []types.Position {
	return l.accountant.OpenPositions()
}

func (l *Ledger) CheckEquityInvariant() error {
	return l.accountant.CheckEquityInvariant()
}

// RecordRecommendation persists a recommendation and refreshes the plain
// file mirror.
func (l *Ledger) RecordRecommendation(rec types.Recommendation) error {
	return l.store.InsertRecommendation(rec)
}

// Finalize writes the run's summary: one append-only row in the store and
// one YAML file under the results directory, plus parquet exports of the
// trade log and equity curve.
func (l *Ledger) Finalize(finishedAt time.Time, strategyFaults int) (types.RunSummary, error) {
	state := l.accountant.State()

	winRate := 0.0
	if decided := l.winningTrades + l.losingTrades; decided > 0 {
		winRate = float64(l.winningTrades) / float64(decided)
	}

	summary := types.RunSummary{
		RunID:          l.runID,
		Mode:           l.mode,
		StartedAt:      l.startedAt,
		FinishedAt:     finishedAt.UTC(),
		InitialEquity:  l.accountant.initialEquity,
		FinalEquity:    state.Equity,
		RealizedPnL:    state.RealizedPnL,
		TotalFees:      state.TotalFees,
		TradeCount:     l.tradeCount,
		WinningTrades:  l.winningTrades,
		LosingTrades:   l.losingTrades,
		WinRate:        winRate,
		MaxDrawdown:    state.MaxDrawdown,
		CandlesSeen:    l.candlesSeen,
		StrategyFaults: strategyFaults,
	}

	if err := l.store.AppendRunSummary(summary); err != nil {
		return summary, err
	}

	if err := summary.Write(filepath.Join(l.resultsDir, l.runID+".yaml")); err != nil {
		return summary, err
	}

	if err := l.store.ExportParquet(l.runID, l.resultsDir); err != nil {
		return summary, err
	}

	return summary, nil
}

func (l *Ledger) Close() error {
	return l.store.Close()
}
