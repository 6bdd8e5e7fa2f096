package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// task is one candle handed to a worker. reply is buffered so a worker
// whose result arrives after the deadline can still complete the send and
// move on to the next candle.
type task struct {
	candle types.Candle
	reply  chan Result
}

// worker owns exactly one strategy instance. All OnCandle calls for that
// instance happen on the worker goroutine, so strategies stay free of
// locking.
type worker struct {
	inst    *instance
	mailbox chan task
	done    chan struct{}
}

func (w *worker) run() {
	defer close(w.done)

	for t := range w.mailbox {
		t.reply <- w.inst.evaluate(t.candle)
	}
}

// Pool evaluates strategies concurrently while keeping the fault blast
// radius to the offending strategy: a panic, an error, or an overrun tick
// becomes a Result for that strategy and the rest proceed untouched.
type Pool struct {
	workers []*worker
	faults  atomic.Int64
	logger  *logger.Logger

	closeOnce sync.Once
}

var _ Runner = (*Pool)(nil)

// NewPool builds one worker per configured strategy, in configuration
// order. The order is load-bearing: Evaluate returns results in the same
// order, which keeps backtests reproducible.
func NewPool(registry *Registry, cfgs []config.StrategyConfig, log *logger.Logger) (*Pool, error) {
	instances, err := buildInstances(registry, cfgs)
	if err != nil {
		return nil, err
	}

	pool := &Pool{
		workers: make([]*worker, 0, len(instances)),
		logger:  log,
	}

	for _, inst := range instances {
		w := &worker{
			inst:    inst,
			mailbox: make(chan task, 1),
			done:    make(chan struct{}),
		}
		pool.workers = append(pool.workers, w)

		go w.run()
	}

	return pool, nil
}

// Evaluate fans the candle out to every worker and collects one Result per
// strategy, in configuration order. A strategy that is still busy with a
// previous candle, or that exceeds its tick timeout, yields a
// StrategyTimeout result instead of stalling the loop.
func (p *Pool) Evaluate(ctx context.Context, candle types.Candle) []Result {
	replies := make([]chan Result, len(p.workers))

	for idx, w := range p.workers {
		reply := make(chan Result, 1)
		replies[idx] = reply

		select {
		case w.mailbox <- task{candle: candle, reply: reply}:
		default:
			// The worker is still chewing on an earlier candle.
			reply <- p.fault(w.inst.cfg.ID, errors.Newf(errors.ErrCodeStrategyTimeout,
				"strategy %s is still evaluating a previous candle", w.inst.cfg.ID))
		}
	}

	results := make([]Result, len(p.workers))

	for idx, w := range p.workers {
		timer := time.NewTimer(w.inst.cfg.TickTimeout)

		select {
		case res := <-replies[idx]:
			if res.Err != nil {
				p.recordFault(w.inst.cfg.ID, res.Err)
			}

			results[idx] = res
		case <-timer.C:
			err := errors.Newf(errors.ErrCodeStrategyTimeout,
				"strategy %s exceeded its tick timeout of %s", w.inst.cfg.ID, w.inst.cfg.TickTimeout)
			p.recordFault(w.inst.cfg.ID, err)
			results[idx] = p.fault(w.inst.cfg.ID, err)
		case <-ctx.Done():
			results[idx] = p.fault(w.inst.cfg.ID, errors.Wrap(errors.ErrCodeStrategyFault, "evaluation cancelled", ctx.Err()))
		}

		timer.Stop()
	}

	return results
}

func (p *Pool) MarkCooldown(strategyID string, symbol string) {
	for _, w := range p.workers {
		if w.inst.cfg.ID == strategyID {
			w.inst.markCooldown(symbol)

			return
		}
	}
}

func (p *Pool) Faults() int {
	return int(p.faults.Load())
}

// Close stops the workers and waits for in-flight evaluations to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for _, w := range p.workers {
			close(w.mailbox)
		}

		for _, w := range p.workers {
			<-w.done
		}
	})
}

func (p *Pool) fault(strategyID string, err error) Result {
	return Result{StrategyID: strategyID, Signal: optional.None[types.Signal](), Err: err}
}

func (p *Pool) recordFault(strategyID string, err error) {
	p.faults.Add(1)
	p.logger.Warn("strategy fault", zap.String("strategy", strategyID), zap.Error(err))
}
