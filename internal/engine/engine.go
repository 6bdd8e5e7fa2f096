// Package engine runs the candle loop: pull the next closed candle, let
// trailing stops react, fan the candle out to the strategies, adjudicate
// each signal, execute approved orders, and account every fill. The loop
// is mode-invariant: backtest, forward and live runs differ only in the
// Source and Executor plugged into it.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/execution"
	"github.com/tidemark-lab/tidemark/internal/ledger"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/market"
	"github.com/tidemark-lab/tidemark/internal/risk"
	"github.com/tidemark-lab/tidemark/internal/strategy"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Deps are the engine's collaborators, assembled by Build or directly by
// tests. Source and Executor vary by mode; everything else is shared.
type Deps struct {
	Source     market.Source
	Runner     strategy.Runner
	Risk       *risk.Engine
	KillSwitch *risk.KillSwitch
	Executor   execution.Executor
	Trailing   *execution.TrailingBook
	Ledger     *ledger.Ledger
	// HandshakePrice supplies a reference price for the startup
	// connectivity handshake. Nil when no handshake runs.
	HandshakePrice func(ctx context.Context) (float64, error)
	Logger         *logger.Logger
}

// Engine drives one run. All state mutation happens on the Run goroutine;
// the ledger is its single writer.
type Engine struct {
	cfg  *config.Config
	deps Deps

	lastCloseTime time.Time
	halted        bool
	haltReason    string
}

func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{cfg: cfg, deps: deps}
}

// Run executes the candle loop until the source drains, the context is
// cancelled, or the kill switch halts trading. It always finalizes the
// ledger before returning, so a cancelled run still leaves a consistent
// trade log and a persisted summary.
func (e *Engine) Run(ctx context.Context) (types.RunSummary, error) {
	if err := e.handshake(ctx); err != nil {
		return types.RunSummary{}, err
	}

	e.deps.Logger.Info("run started",
		zap.String("run_id", e.deps.Ledger.RunID()),
		zap.String("mode", string(e.cfg.Mode)),
		zap.Strings("symbols", e.cfg.Symbols))

	var runErr error

	for candle, err := range e.deps.Source.Candles(ctx) {
		if err != nil {
			if errors.CategoryOf(err) == errors.CategoryDataIntegrity {
				e.deps.Logger.Warn("skipping bad market data", zap.Error(err))

				continue
			}

			runErr = err

			break
		}

		if err := e.step(ctx, candle); err != nil {
			runErr = err

			break
		}

		if e.halted {
			break
		}
	}

	summary, finErr := e.finish(ctx)
	if runErr != nil {
		return summary, runErr
	}

	return summary, finErr
}

func (e *Engine) handshake(ctx context.Context) error {
	if !e.cfg.Execution.Handshake.Enabled {
		return nil
	}

	if e.deps.HandshakePrice == nil {
		return errors.New(errors.ErrCodeHandshakeFailed, "handshake enabled but no price source configured")
	}

	price, err := e.deps.HandshakePrice(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeHandshakeFailed, "failed to price the handshake order", err)
	}

	return execution.Handshake(ctx, e.deps.Executor, e.cfg.Execution.Handshake, price, e.deps.Logger)
}

// step processes one closed candle through the whole pipeline.
func (e *Engine) step(ctx context.Context, candle types.Candle) error {
	e.deps.Executor.OnCandle(candle)

	if err := e.deps.Ledger.OnCandle(candle); err != nil {
		return err
	}

	e.lastCloseTime = candle.CloseTime()

	// Exits run before entries so a trailing stop cannot be starved by a
	// strategy re-entering on the same candle.
	if order := e.deps.Trailing.Observe(candle); order.IsSome() {
		e.submit(ctx, order.Unwrap())
	}

	e.deps.KillSwitch.ObserveEquity(candle.CloseTime(), e.deps.Ledger.State().Equity)

	if tripped, reason := e.deps.KillSwitch.Tripped(); tripped {
		e.halt(ctx, reason)

		return nil
	}

	for _, result := range e.deps.Runner.Evaluate(ctx, candle) {
		if result.Err != nil || result.Signal.IsNone() {
			continue
		}

		e.handleSignal(ctx, result.Signal.Unwrap(), candle)
	}

	if err := e.drainFills(ctx); err != nil {
		return err
	}

	return e.deps.Ledger.CheckEquityInvariant()
}

// handleSignal runs one signal through risk and, when approved, execution.
func (e *Engine) handleSignal(ctx context.Context, signal types.Signal, candle types.Candle) {
	position := e.deps.Ledger.Position(signal.Symbol)

	decision := e.deps.Risk.Evaluate(
		signal,
		position,
		e.deps.Ledger.State(),
		e.deps.Ledger.OpenNotional(),
		candle.Close,
	)
	if !decision.Approved {
		e.deps.Logger.Debug("signal rejected",
			zap.String("strategy", signal.StrategyID),
			zap.String("symbol", signal.Symbol),
			zap.String("reason", decision.RejectionReason))

		return
	}

	side := types.OrderSideBuy

	switch signal.Side {
	case types.SignalSideSell:
		side = types.OrderSideSell
	case types.SignalSideFlat:
		// Closing means trading against the open direction.
		if position.IsLong() {
			side = types.OrderSideSell
		}
	}

	trailing := optional.None[float64]()
	if side == types.OrderSideBuy && e.cfg.Execution.TrailingPercent > 0 {
		trailing = optional.Some(e.cfg.Execution.TrailingPercent)
	}

	order := types.ExecuteOrder{
		// Derived from the trace ID, so replays reuse the same key and
		// the executor's idempotency guard absorbs accidental repeats.
		ClientOrderID:   "sig-" + signal.TraceID,
		Symbol:          signal.Symbol,
		Side:            side,
		OrderType:       types.OrderTypeMarket,
		Quantity:        decision.Quantity,
		ReferencePrice:  decision.ReferencePrice,
		StrategyID:      signal.StrategyID,
		Reason:          types.Reason{Reason: types.OrderReasonStrategy, Message: signal.Reason},
		TrailingPercent: trailing,
	}

	if !e.submit(ctx, order) {
		return
	}

	e.deps.Runner.MarkCooldown(signal.StrategyID, signal.Symbol)

	if err := e.deps.Ledger.RecordRecommendation(types.Recommendation{
		Symbol:      signal.Symbol,
		StrategyID:  signal.StrategyID,
		Side:        string(signal.Side),
		Confidence:  signal.Confidence,
		Horizon:     signal.Horizon,
		Rationale:   signal.Reason,
		GeneratedAt: signal.EmittedAt,
	}); err != nil {
		e.deps.Logger.Warn("failed to record recommendation", zap.Error(err))
	}
}

// submit routes an order to the executor and accounts the outcome. A
// transient failure is retried once under the same idempotency key; a
// definitive failure is logged and the position stays unchanged.
func (e *Engine) submit(ctx context.Context, order types.ExecuteOrder) bool {
	report, err := e.deps.Executor.Submit(ctx, order)
	if err != nil && errors.IsRetryable(err) {
		e.deps.Logger.Warn("retrying order after transient failure",
			zap.String("client_order_id", order.ClientOrderID),
			zap.Error(err))

		report, err = e.deps.Executor.Submit(ctx, order)
	}

	if err != nil {
		e.deps.Logger.Error("order failed",
			zap.String("client_order_id", order.ClientOrderID),
			zap.String("symbol", order.Symbol),
			zap.Error(err))

		return false
	}

	if err := e.deps.Ledger.RecordOrder(report.Order); err != nil {
		e.deps.Logger.Error("failed to record order", zap.Error(err))
	}

	for _, fill := range report.Fills {
		e.applyFill(fill)
	}

	e.updateTrailing(order)

	return true
}

// updateTrailing arms or cancels the symbol's trailing stop based on the
// position left behind by the order's fills.
func (e *Engine) updateTrailing(order types.ExecuteOrder) {
	position := e.deps.Ledger.Position(order.Symbol)

	if position.IsLong() && order.TrailingPercent.IsSome() {
		e.deps.Trailing.Arm(
			order.Symbol,
			order.StrategyID,
			position.Quantity,
			position.AvgEntryPrice,
			order.TrailingPercent.Unwrap(),
			e.cfg.Execution.TrailingActivation,
		)

		return
	}

	if position.IsFlat() {
		e.deps.Trailing.Cancel(order.Symbol)
	}
}

func (e *Engine) applyFill(fill types.Fill) {
	trade, err := e.deps.Ledger.ApplyFill(fill)
	if err != nil {
		e.deps.Logger.Error("failed to apply fill",
			zap.String("exec_id", fill.ExecID),
			zap.Error(err))

		return
	}

	if trade.RealizedPnL != 0 {
		e.deps.KillSwitch.RecordTrade(trade.RealizedPnL)
	}
}

// drainFills applies fills that arrived asynchronously since the last
// candle.
func (e *Engine) drainFills(ctx context.Context) error {
	fills, err := e.deps.Executor.PendingFills(ctx)
	if err != nil {
		// Polling failures are transient; the fills remain pending and
		// the next candle retries.
		e.deps.Logger.Warn("failed to poll pending fills", zap.Error(err))

		return nil
	}

	for _, fill := range fills {
		e.applyFill(fill)
	}

	return nil
}

// halt liquidates everything and stops trading for the rest of the run.
func (e *Engine) halt(ctx context.Context, reason string) {
	e.deps.Logger.Error("kill switch tripped, halting trading", zap.String("reason", reason))
	e.liquidate(ctx, types.OrderReasonKillSwitch, reason)
	e.halted = true
	e.haltReason = reason
}

// liquidate closes every open position with a market order.
func (e *Engine) liquidate(ctx context.Context, reason, message string) {
	positions := e.deps.Ledger.OpenPositions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	for _, position := range positions {
		side := types.OrderSideSell
		quantity := position.Quantity

		if !position.IsLong() {
			side = types.OrderSideBuy
			quantity = -quantity
		}

		order := types.ExecuteOrder{
			ClientOrderID:  fmt.Sprintf("%s-%s-%d", reason, position.Symbol, e.lastCloseTime.UnixMilli()),
			Symbol:         position.Symbol,
			Side:           side,
			OrderType:      types.OrderTypeMarket,
			Quantity:       quantity,
			ReferencePrice: e.deps.Ledger.MarkPrice(position.Symbol),
			StrategyID:     position.StrategyID,
			Reason:         types.Reason{Reason: reason, Message: message},
		}

		e.deps.Trailing.Cancel(position.Symbol)
		e.submit(ctx, order)
	}
}

// finish drains outstanding fills, flattens the book in simulation, and
// persists the run summary. Called exactly once per run.
func (e *Engine) finish(ctx context.Context) (types.RunSummary, error) {
	if err := e.drainFills(ctx); err != nil {
		e.deps.Logger.Warn("failed to drain fills at shutdown", zap.Error(err))
	}

	// Backtests end flat so the summary reflects realized results only.
	// Forward and live runs leave positions open for the next session.
	if e.cfg.Mode == types.RunModeBacktest && !e.halted {
		e.liquidate(ctx, types.OrderReasonLiquidation, "end of run")
	}

	if e.halted {
		e.deps.Logger.Warn("run ended by kill switch", zap.String("reason", e.haltReason))
	}

	e.deps.Runner.Close()

	if err := e.deps.Ledger.CheckEquityInvariant(); err != nil {
		return types.RunSummary{}, err
	}

	summary, err := e.deps.Ledger.Finalize(time.Now(), e.deps.Runner.Faults())
	if err != nil {
		return summary, err
	}

	e.deps.Logger.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.Float64("final_equity", summary.FinalEquity),
		zap.Int("trades", summary.TradeCount),
		zap.Float64("win_rate", summary.WinRate),
		zap.Float64("max_drawdown", summary.MaxDrawdown))

	return summary, nil
}
