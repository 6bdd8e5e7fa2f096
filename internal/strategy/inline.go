package strategy

import (
	"context"

	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// Inline evaluates strategies sequentially on the caller's goroutine. It
// exists for --dry-run style debugging: no worker scheduling, stack traces
// point straight at the strategy, and the results match Pool exactly.
type Inline struct {
	instances []*instance
	faults    int
	logger    *logger.Logger
}

var _ Runner = (*Inline)(nil)

func NewInline(registry *Registry, cfgs []config.StrategyConfig, log *logger.Logger) (*Inline, error) {
	instances, err := buildInstances(registry, cfgs)
	if err != nil {
		return nil, err
	}

	return &Inline{instances: instances, logger: log}, nil
}

func (r *Inline) Evaluate(ctx context.Context, candle types.Candle) []Result {
	results := make([]Result, 0, len(r.instances))

	for _, inst := range r.instances {
		if ctx.Err() != nil {
			break
		}

		res := inst.evaluate(candle)
		if res.Err != nil {
			r.faults++
			r.logger.Warn("strategy fault", zap.String("strategy", inst.cfg.ID), zap.Error(res.Err))
		}

		results = append(results, res)
	}

	return results
}

func (r *Inline) MarkCooldown(strategyID string, symbol string) {
	for _, inst := range r.instances {
		if inst.cfg.ID == strategyID {
			inst.markCooldown(symbol)

			return
		}
	}
}

func (r *Inline) Faults() int {
	return r.faults
}

func (r *Inline) Close() {}
