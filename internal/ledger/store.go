package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Store persists orders, trades, the equity curve and run summaries in an
// embedded DuckDB database. Every table is append-only; a summary row is
// written once at run end and never touched again.
type Store struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger

	// recommendationsPath, when set, mirrors the recommendations table to
	// a YAML file after every insert so external consumers can read it
	// without a database driver.
	recommendationsPath string
}

func NewStore(path, recommendationsPath string, log *logger.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeLedgerWriteFailed, err, "failed to open ledger store at %s", path)
	}

	store := &Store{
		db:                  db,
		sq:                  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger:              log,
		recommendationsPath: recommendationsPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			run_id TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			exchange_id TEXT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			quantity DOUBLE NOT NULL,
			price DOUBLE NOT NULL,
			status TEXT NOT NULL,
			strategy_id TEXT,
			reason TEXT,
			reason_message TEXT,
			submitted_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS trades (
			run_id TEXT NOT NULL,
			exec_id TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity DOUBLE NOT NULL,
			price DOUBLE NOT NULL,
			fee DOUBLE NOT NULL,
			strategy_id TEXT,
			realized_pnl DOUBLE NOT NULL,
			position_after DOUBLE NOT NULL,
			executed_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS equity_snapshots (
			run_id TEXT NOT NULL,
			snapshot_time TIMESTAMP NOT NULL,
			equity DOUBLE NOT NULL,
			cash DOUBLE NOT NULL,
			unrealized_pnl DOUBLE NOT NULL
		);
		CREATE TABLE IF NOT EXISTS position_snapshots (
			run_id TEXT NOT NULL,
			snapshot_time TIMESTAMP NOT NULL,
			symbol TEXT NOT NULL,
			quantity DOUBLE NOT NULL,
			avg_entry_price DOUBLE NOT NULL,
			mark_price DOUBLE NOT NULL,
			strategy_id TEXT
		);
		CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			initial_equity DOUBLE NOT NULL,
			final_equity DOUBLE NOT NULL,
			realized_pnl DOUBLE NOT NULL,
			total_fees DOUBLE NOT NULL,
			trade_count INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades INTEGER NOT NULL,
			win_rate DOUBLE NOT NULL,
			max_drawdown DOUBLE NOT NULL,
			candles_seen INTEGER NOT NULL,
			strategy_faults INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS recommendations (
			symbol TEXT NOT NULL,
			strategy_id TEXT NOT NULL,
			side TEXT NOT NULL,
			confidence DOUBLE NOT NULL,
			horizon TEXT,
			rationale TEXT,
			generated_at TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to create ledger tables", err)
	}

	return nil
}

func (s *Store) AppendOrder(runID string, order types.Order) error {
	query, args, err := s.sq.
		Insert("orders").
		Columns("run_id", "client_order_id", "exchange_id", "symbol", "side", "order_type",
			"quantity", "price", "status", "strategy_id", "reason", "reason_message", "submitted_at").
		Values(runID, order.ClientOrderID, order.ExchangeID, order.Symbol, string(order.Side), string(order.OrderType),
			order.Quantity, order.Price, string(order.Status), order.StrategyID,
			order.Reason.Reason, order.Reason.Message, order.SubmittedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to build order insert", err)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to append order", err)
	}

	return nil
}

func (s *Store) AppendTrade(runID string, trade types.Trade) error {
	query, args, err := s.sq.
		Insert("trades").
		Columns("run_id", "exec_id", "client_order_id", "symbol", "side",
			"quantity", "price", "fee", "strategy_id", "realized_pnl", "position_after", "executed_at").
		Values(runID, trade.Fill.ExecID, trade.Fill.ClientOrderID, trade.Fill.Symbol, string(trade.Fill.Side),
			trade.Fill.Quantity, trade.Fill.Price, trade.Fill.Fee, trade.Fill.StrategyID,
			trade.RealizedPnL, trade.PositionAfter, trade.Fill.ExecutedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to build trade insert", err)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to append trade", err)
	}

	return nil
}

func (s *Store) AppendSnapshot(runID string, snapshot types.EquitySnapshot) error {
	query, args, err := s.sq.
		Insert("equity_snapshots").
		Columns("run_id", "snapshot_time", "equity", "cash", "unrealized_pnl").
		Values(runID, snapshot.Time, snapshot.Equity, snapshot.Cash, snapshot.UnrealizedPnL).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to build snapshot insert", err)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to append equity snapshot", err)
	}

	return nil
}

// AppendPositionSnapshots records every open position at a point in time,
// so position state can be replayed directly instead of reconstructed from
// the trade log.
func (s *Store) AppendPositionSnapshots(runID string, at time.Time, positions []types.Position, markPrice func(symbol string) float64) error {
	for _, p := range positions {
		query, args, err := s.sq.
			Insert("position_snapshots").
			Columns("run_id", "snapshot_time", "symbol", "quantity", "avg_entry_price", "mark_price", "strategy_id").
			Values(runID, at, p.Symbol, p.Quantity, p.AvgEntryPrice, markPrice(p.Symbol), p.StrategyID).
			ToSql()
		if err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to build position snapshot insert", err)
		}

		if _, err := s.db.Exec(query, args...); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to append position snapshot", err)
		}
	}

	return nil
}

// AppendRunSummary writes the run's one summary row. The insert is a
// single statement, so the summary appears atomically or not at all.
func (s *Store) AppendRunSummary(summary types.RunSummary) error {
	query, args, err := s.sq.
		Insert("backtest_runs").
		Columns("run_id", "mode", "started_at", "finished_at", "initial_equity", "final_equity",
			"realized_pnl", "total_fees", "trade_count", "winning_trades", "losing_trades",
			"win_rate", "max_drawdown", "candles_seen", "strategy_faults").
		Values(summary.RunID, string(summary.Mode), summary.StartedAt, summary.FinishedAt,
			summary.InitialEquity, summary.FinalEquity, summary.RealizedPnL, summary.TotalFees,
			summary.TradeCount, summary.WinningTrades, summary.LosingTrades,
			summary.WinRate, summary.MaxDrawdown, summary.CandlesSeen, summary.StrategyFaults).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeSummaryWriteFailed, "failed to build summary insert", err)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeSummaryWriteFailed, "failed to append run summary", err)
	}

	s.logger.Info("run summary persisted",
		zap.String("run_id", summary.RunID),
		zap.Float64("final_equity", summary.FinalEquity),
		zap.Int("trades", summary.TradeCount))

	return nil
}

// ListRunSummaries returns all persisted run summaries, newest first.
func (s *Store) ListRunSummaries() ([]types.RunSummary, error) {
	query, args, err := s.sq.
		Select("run_id", "mode", "started_at", "finished_at", "initial_equity", "final_equity",
			"realized_pnl", "total_fees", "trade_count", "winning_trades", "losing_trades",
			"win_rate", "max_drawdown", "candles_seen", "strategy_faults").
		From("backtest_runs").
		OrderBy("started_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build summary query", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to list run summaries", err)
	}
	defer rows.Close()

	var summaries []types.RunSummary

	for rows.Next() {
		var summary types.RunSummary

		var mode string

		if err := rows.Scan(&summary.RunID, &mode, &summary.StartedAt, &summary.FinishedAt,
			&summary.InitialEquity, &summary.FinalEquity, &summary.RealizedPnL, &summary.TotalFees,
			&summary.TradeCount, &summary.WinningTrades, &summary.LosingTrades,
			&summary.WinRate, &summary.MaxDrawdown, &summary.CandlesSeen, &summary.StrategyFaults); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan run summary", err)
		}

		summary.Mode = types.RunMode(mode)
		summary.StartedAt = summary.StartedAt.UTC()
		summary.FinishedAt = summary.FinishedAt.UTC()
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "run summary scan failed", err)
	}

	return summaries, nil
}

// InsertRecommendation appends a recommendation and refreshes the YAML
// mirror.
func (s *Store) InsertRecommendation(rec types.Recommendation) error {
	query, args, err := s.sq.
		Insert("recommendations").
		Columns("symbol", "strategy_id", "side", "confidence", "horizon", "rationale", "generated_at").
		Values(rec.Symbol, rec.StrategyID, rec.Side, rec.Confidence, rec.Horizon, rec.Rationale, rec.GeneratedAt).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to build recommendation insert", err)
	}

	if _, err := s.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to insert recommendation", err)
	}

	return s.mirrorRecommendations()
}

// ListRecommendations returns all recommendations, newest first.
func (s *Store) ListRecommendations() ([]types.Recommendation, error) {
	query, args, err := s.sq.
		Select("symbol", "strategy_id", "side", "confidence", "horizon", "rationale", "generated_at").
		From("recommendations").
		OrderBy("generated_at DESC", "symbol").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build recommendations query", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to list recommendations", err)
	}
	defer rows.Close()

	var recs []types.Recommendation

	for rows.Next() {
		var rec types.Recommendation
		if err := rows.Scan(&rec.Symbol, &rec.StrategyID, &rec.Side, &rec.Confidence,
			&rec.Horizon, &rec.Rationale, &rec.GeneratedAt); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan recommendation", err)
		}

		rec.GeneratedAt = rec.GeneratedAt.UTC()
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "recommendation scan failed", err)
	}

	return recs, nil
}

// mirrorRecommendations rewrites the plain-file mirror from the table.
// Written to a temp file first so readers never see a torn file.
func (s *Store) mirrorRecommendations() error {
	if s.recommendationsPath == "" {
		return nil
	}

	recs, err := s.ListRecommendations()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(recs)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to marshal recommendations", err)
	}

	tmp := s.recommendationsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to write recommendations mirror", err)
	}

	if err := os.Rename(tmp, s.recommendationsPath); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to replace recommendations mirror", err)
	}

	return nil
}

// ExportParquet writes the trades, equity curve and position snapshots of
// a run to parquet files under dir.
func (s *Store) ExportParquet(runID, dir string) error {
	exports := map[string]string{
		"trades":             filepath.Join(dir, "trades.parquet"),
		"equity_snapshots":   filepath.Join(dir, "equity.parquet"),
		"position_snapshots": filepath.Join(dir, "positions.parquet"),
	}

	for table, path := range exports {
		// COPY targets cannot be bound as parameters, so the literals are
		// escaped instead.
		_, err := s.db.Exec(fmt.Sprintf(
			`COPY (SELECT * FROM %s WHERE run_id = '%s') TO '%s' (FORMAT PARQUET)`,
			table, quoteLiteral(runID), quoteLiteral(path)))
		if err != nil {
			return errors.Wrapf(errors.ErrCodeLedgerWriteFailed, err, "failed to export %s to parquet", table)
		}
	}

	return nil
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func (s *Store) Close() error {
	return s.db.Close()
}
