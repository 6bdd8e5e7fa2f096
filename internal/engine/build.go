package engine

import (
	"context"
	"os"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/execution"
	"github.com/tidemark-lab/tidemark/internal/ledger"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/market"
	"github.com/tidemark-lab/tidemark/internal/market/history"
	"github.com/tidemark-lab/tidemark/internal/market/provider"
	"github.com/tidemark-lab/tidemark/internal/market/stream"
	"github.com/tidemark-lab/tidemark/internal/market/synthetic"
	"github.com/tidemark-lab/tidemark/internal/risk"
	"github.com/tidemark-lab/tidemark/internal/strategy"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Options adjust a run beyond what the config file says.
type Options struct {
	// DryRun forces the synthetic source and the simulated executor, no
	// matter what the config requests. Nothing can reach a real venue.
	DryRun bool
	// Strategies narrows the run to the named strategy IDs. Empty runs
	// every configured strategy.
	Strategies []string
}

// Build assembles an engine from configuration: picks the candle source
// and executor for the mode, backfills history when asked, and wires the
// shared risk, trailing and ledger components. The returned closer
// releases everything Build opened.
func Build(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger) (*Engine, func(), error) {
	strategies, err := selectStrategies(cfg.Strategies, opts.Strategies)
	if err != nil {
		return nil, nil, err
	}

	runner, err := buildRunner(cfg.Mode, strategies, log)
	if err != nil {
		return nil, nil, err
	}

	var closers []func()

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	source, err := buildSource(ctx, cfg, opts, log, &closers)
	if err != nil {
		runner.Close()
		closeAll()

		return nil, nil, err
	}

	executor, handshakePrice, err := buildExecutor(cfg, opts, log)
	if err != nil {
		runner.Close()
		closeAll()

		return nil, nil, err
	}

	closers = append(closers, func() { executor.Close() })

	book, err := ledger.New(cfg.Ledger, cfg.Mode, cfg.InitialEquity, log)
	if err != nil {
		runner.Close()
		closeAll()

		return nil, nil, err
	}

	closers = append(closers, func() { book.Close() })

	deps := Deps{
		Source:         source,
		Runner:         runner,
		Risk:           risk.New(cfg.Risk, cfg.Symbols),
		KillSwitch:     risk.NewKillSwitch(cfg.Risk),
		Executor:       executor,
		Trailing:       execution.NewTrailingBook(log),
		Ledger:         book,
		HandshakePrice: handshakePrice,
		Logger:         log,
	}

	return New(cfg, deps), closeAll, nil
}

// selectStrategies keeps the configured order while narrowing to the
// requested IDs.
func selectStrategies(configured []config.StrategyConfig, requested []string) ([]config.StrategyConfig, error) {
	if len(requested) == 0 {
		return configured, nil
	}

	wanted := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		wanted[id] = struct{}{}
	}

	selected := make([]config.StrategyConfig, 0, len(requested))

	for _, cfg := range configured {
		if _, ok := wanted[cfg.ID]; ok {
			selected = append(selected, cfg)
			delete(wanted, cfg.ID)
		}
	}

	for id := range wanted {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy %q is not configured", id)
	}

	return selected, nil
}

// buildRunner picks the in-process runner for historical simulation and
// the supervised pool everywhere else. Both produce identical results;
// the pool adds fault isolation, the inline variant speed and easier
// debugging.
func buildRunner(mode types.RunMode, strategies []config.StrategyConfig, log *logger.Logger) (strategy.Runner, error) {
	if mode == types.RunModeBacktest {
		return strategy.NewInline(strategy.Default(), strategies, log)
	}

	return strategy.NewPool(strategy.Default(), strategies, log)
}

func buildSource(ctx context.Context, cfg *config.Config, opts Options, log *logger.Logger, closers *[]func()) (market.Source, error) {
	kind := cfg.Data.Source
	if opts.DryRun {
		kind = config.DataSourceSynthetic
	}

	switch kind {
	case config.DataSourceSynthetic:
		return synthetic.New(synthetic.Config{
			Symbols:    cfg.Symbols,
			Timeframe:  cfg.Timeframe,
			Seed:       cfg.Data.Synthetic.Seed,
			Candles:    cfg.Data.Synthetic.Candles,
			StartPrice: cfg.Data.Synthetic.StartPrice,
			Drift:      cfg.Data.Synthetic.Drift,
			Volatility: cfg.Data.Synthetic.Volatility,
		}), nil

	case config.DataSourceLive:
		p, err := buildProvider(cfg.Data)
		if err != nil {
			return nil, err
		}

		return stream.New(p, stream.Config{
			Symbols:              cfg.Symbols,
			Timeframe:            cfg.Timeframe,
			HeartbeatTimeout:     cfg.Stream.HeartbeatTimeout,
			QueueSize:            cfg.Stream.QueueSize,
			EnqueueTimeout:       cfg.Stream.EnqueueTimeout,
			MaxReconnectInterval: cfg.Stream.MaxReconnectInterval,
		}, log), nil

	case config.DataSourceHistory:
		return buildHistorySource(ctx, cfg, log, closers)

	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unsupported data source %q", kind)
	}
}

func buildHistorySource(ctx context.Context, cfg *config.Config, log *logger.Logger, closers *[]func()) (market.Source, error) {
	store, err := history.NewStore(cfg.Data.DatabasePath, log)
	if err != nil {
		return nil, err
	}

	*closers = append(*closers, func() { store.Close() })

	keys := seriesKeys(cfg)
	failed := make(map[types.SeriesKey]bool)

	if cfg.Data.BackfillDays > 0 {
		p, err := buildProvider(cfg.Data)
		if err != nil {
			return nil, err
		}

		end := time.Now().UTC().Truncate(time.Minute)
		start := end.AddDate(0, 0, -cfg.Data.BackfillDays)
		backfiller := history.NewBackfiller(store, p, history.NewCheckpointFile(cfg.Data.CheckpointPath), log)

		// A series whose backfill fails is excluded; the others still run.
		for _, key := range keys {
			if err := backfiller.Backfill(ctx, []types.SeriesKey{key}, start, end, nil); err != nil {
				if ctx.Err() != nil {
					return nil, err
				}

				log.Warn("backfill failed, excluding series",
					zap.String("series", key.String()),
					zap.Error(err))

				failed[key] = true
			}
		}
	}

	// Backfill already refetched every detected gap. A series still
	// discontinuous is dropped so no strategy sees it.
	var healthy []types.SeriesKey

	for _, key := range keys {
		if failed[key] {
			continue
		}

		gaps, err := store.Gaps(key)
		if err != nil {
			return nil, err
		}

		if len(gaps) > 0 {
			log.Warn("excluding series with unrepaired gaps",
				zap.String("series", key.String()),
				zap.Int("gaps", len(gaps)))

			continue
		}

		healthy = append(healthy, key)
	}

	if len(healthy) == 0 {
		return nil, errors.New(errors.ErrCodeDataGap, "no continuous series left to run")
	}

	return store.NewReader(healthy, optionalTime(cfg.Data.Start), optionalTime(cfg.Data.End)), nil
}

func buildProvider(data config.DataConfig) (provider.Provider, error) {
	kind := provider.Kind(data.Provider)
	if kind == "" {
		kind = provider.KindBinance
	}

	apiKey := ""
	if data.PolygonAPIKeyEnv != "" {
		apiKey = os.Getenv(data.PolygonAPIKeyEnv)
	}

	return provider.New(kind, apiKey)
}

// buildExecutor returns the executor for the run plus, for real venues, a
// function that prices the startup handshake from the latest closed
// candle.
func buildExecutor(cfg *config.Config, opts Options, log *logger.Logger) (execution.Executor, func(ctx context.Context) (float64, error), error) {
	if opts.DryRun || cfg.Mode == types.RunModeBacktest {
		return execution.NewSimulated(cfg.Execution, log), nil, nil
	}

	executor, err := execution.NewBinance(cfg.Execution.Binance, log)
	if err != nil {
		return nil, nil, err
	}

	handshakePrice := func(ctx context.Context) (float64, error) {
		return latestClosePrice(ctx, cfg.Execution.Handshake.Symbol, cfg.Timeframe)
	}

	return executor, handshakePrice, nil
}

// latestClosePrice downloads the most recent closed candles for a symbol
// and returns the last close. Market data always comes from the
// production feed, including for testnet trading.
func latestClosePrice(ctx context.Context, symbol, timeframe string) (float64, error) {
	p, err := provider.New(provider.KindBinance, "")
	if err != nil {
		return 0, err
	}

	step, err := types.ParseTimeframe(timeframe)
	if err != nil {
		return 0, err
	}

	end := time.Now().UTC()
	start := end.Add(-3 * step)

	var last float64

	err = p.Download(ctx, symbol, timeframe, start, end, func(candles []types.Candle) error {
		if len(candles) > 0 {
			last = candles[len(candles)-1].Close
		}

		return nil
	}, nil)
	if err != nil {
		return 0, err
	}

	if last <= 0 {
		return 0, errors.Newf(errors.ErrCodeExchangeUnreachable, "no recent candles for %s", symbol)
	}

	return last, nil
}

func seriesKeys(cfg *config.Config) []types.SeriesKey {
	keys := make([]types.SeriesKey, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		keys = append(keys, types.SeriesKey{Symbol: symbol, Timeframe: cfg.Timeframe})
	}

	return keys
}

func optionalTime(t time.Time) optional.Option[time.Time] {
	if t.IsZero() {
		return optional.None[time.Time]()
	}

	return optional.Some(t)
}
