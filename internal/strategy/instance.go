package strategy

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// instance pairs a strategy implementation with its config and runtime
// state. Cooldown state lives here so Pool and Inline behave identically.
type instance struct {
	cfg  config.StrategyConfig
	impl Strategy

	// cooldowns is remaining suppression candles per symbol. MarkCooldown
	// is called from the engine goroutine while pool workers evaluate, so
	// access is guarded.
	mu        sync.Mutex
	cooldowns map[string]int
}

func newInstance(cfg config.StrategyConfig, impl Strategy) *instance {
	return &instance{
		cfg:       cfg,
		impl:      impl,
		cooldowns: make(map[string]int),
	}
}

// buildInstances resolves the configured strategies against the registry,
// in configuration order.
func buildInstances(registry *Registry, cfgs []config.StrategyConfig) ([]*instance, error) {
	instances := make([]*instance, 0, len(cfgs))

	for _, cfg := range cfgs {
		impl, err := registry.Create(cfg)
		if err != nil {
			return nil, err
		}

		instances = append(instances, newInstance(cfg, impl))
	}

	return instances, nil
}

// evaluate runs one candle through the strategy with panic recovery and
// stamps the runner-owned signal fields. Cooldown suppression happens here:
// during a cooldown window only flat signals pass.
func (i *instance) evaluate(candle types.Candle) Result {
	suppressed := i.tickCooldown(candle.Symbol)

	sig, err := i.safeCall(candle)
	if err != nil {
		return Result{StrategyID: i.cfg.ID, Signal: optional.None[types.Signal](), Err: err}
	}

	if sig.IsNone() {
		return Result{StrategyID: i.cfg.ID, Signal: sig, Err: nil}
	}

	signal := sig.Unwrap()

	if suppressed && signal.Side != types.SignalSideFlat {
		return Result{StrategyID: i.cfg.ID, Signal: optional.None[types.Signal](), Err: nil}
	}

	signal.StrategyID = i.cfg.ID
	signal.EmittedAt = candle.CloseTime()
	signal.TraceID = traceID(i.cfg.ID, candle)

	if verr := signal.Validate(); verr != nil {
		return Result{
			StrategyID: i.cfg.ID,
			Signal:     optional.None[types.Signal](),
			Err:        errors.Wrapf(errors.ErrCodeStrategyFault, verr, "strategy %s emitted an invalid signal", i.cfg.ID),
		}
	}

	return Result{StrategyID: i.cfg.ID, Signal: optional.Some(signal), Err: nil}
}

func (i *instance) safeCall(candle types.Candle) (sig optional.Option[types.Signal], err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = optional.None[types.Signal]()
			err = errors.Newf(errors.ErrCodeStrategyPanic, "strategy %s panicked: %v", i.cfg.ID, r)
		}
	}()

	sig, err = i.impl.OnCandle(candle)
	if err != nil {
		return optional.None[types.Signal](), errors.Wrapf(errors.ErrCodeStrategyFault, err, "strategy %s failed", i.cfg.ID)
	}

	return sig, nil
}

// tickCooldown consumes one cooldown candle for the symbol and reports
// whether signals are still suppressed for this candle.
func (i *instance) tickCooldown(symbol string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	remaining, active := i.cooldowns[symbol]
	if !active || remaining <= 0 {
		return false
	}

	i.cooldowns[symbol] = remaining - 1

	return true
}

func (i *instance) markCooldown(symbol string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cfg.CooldownCandles > 0 {
		i.cooldowns[symbol] = i.cfg.CooldownCandles
	}
}

// traceID derives a stable ID from the strategy and the candle, so the
// same input stream produces the same trace IDs on every run.
func traceID(strategyID string, candle types.Candle) string {
	seed := fmt.Sprintf("%s|%s|%s|%d", strategyID, candle.Symbol, candle.Timeframe, candle.OpenTime.UnixMilli())

	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
