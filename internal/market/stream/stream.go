// Package stream adapts a provider's WebSocket candle stream into a
// market.Source that survives disconnects. It reconnects with bounded
// exponential backoff, enforces a heartbeat, and suppresses the duplicate
// candles a reconnect can replay.
package stream

import (
	"context"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/market"
	"github.com/tidemark-lab/tidemark/internal/market/provider"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Config tunes the live source.
type Config struct {
	Symbols   []string
	Timeframe string
	// HeartbeatTimeout is how long the connection may stay silent before it
	// is declared dead and replaced.
	HeartbeatTimeout time.Duration
	// QueueSize bounds the delivery queue to the consumer.
	QueueSize int
	// EnqueueTimeout is how long a delivery may block on a full queue. When
	// it expires the stream is unhealthy: the connection is dropped and
	// rebuilt rather than buffering without bound.
	EnqueueTimeout time.Duration
	// MaxReconnectInterval caps the reconnect backoff.
	MaxReconnectInterval time.Duration
}

// Streamer is a live market.Source.
type Streamer struct {
	provider provider.Provider
	cfg      Config
	logger   *logger.Logger
}

var _ market.Source = (*Streamer)(nil)

func New(p provider.Provider, cfg Config, log *logger.Logger) *Streamer {
	return &Streamer{
		provider: p,
		cfg:      cfg,
		logger:   log,
	}
}

type item struct {
	candle types.Candle
	err    error
}

// Candles yields closed candles until the context is cancelled. Connection
// loss is handled internally; only per-candle data errors reach the
// consumer.
func (s *Streamer) Candles(ctx context.Context) iter.Seq2[types.Candle, error] {
	return func(yield func(types.Candle, error) bool) {
		queue := make(chan item, s.cfg.QueueSize)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		go s.run(runCtx, queue)

		for {
			select {
			case <-ctx.Done():
				return
			case it, ok := <-queue:
				if !ok {
					return
				}

				if !yield(it.candle, it.err) {
					return
				}
			}
		}
	}
}

// run owns the connection lifecycle: connect, pump, reconnect with backoff.
// Closes the queue when the context ends.
func (s *Streamer) run(ctx context.Context, queue chan<- item) {
	defer close(queue)

	// Last delivered open time per symbol. A reconnect can replay the last
	// closed candle; anything at or before this mark is dropped.
	lastOpen := make(map[string]time.Time, len(s.cfg.Symbols))

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = s.cfg.MaxReconnectInterval
	policy.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		s.pump(ctx, queue, lastOpen, policy)

		if ctx.Err() != nil {
			return
		}

		wait := policy.NextBackOff()
		s.logger.Warn("stream connection lost, reconnecting",
			zap.Duration("backoff", wait))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// pump consumes one connection until it dies. A candle delivered resets
// both the heartbeat and the backoff.
func (s *Streamer) pump(ctx context.Context, queue chan<- item, lastOpen map[string]time.Time, policy *backoff.ExponentialBackOff) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The watchdog kills the connection when nothing arrives for the
	// heartbeat window; the reconnect loop then takes over.
	watchdog := time.AfterFunc(s.cfg.HeartbeatTimeout, func() {
		s.logger.Warn("stream heartbeat timeout",
			zap.Duration("timeout", s.cfg.HeartbeatTimeout))
		cancel()
	})
	defer watchdog.Stop()

	for candle, err := range s.provider.Stream(connCtx, s.cfg.Symbols, s.cfg.Timeframe) {
		watchdog.Reset(s.cfg.HeartbeatTimeout)

		if err != nil {
			if errors.IsRetryable(err) {
				s.logger.Warn("stream error, will reconnect", zap.Error(err))

				return
			}

			// Data errors are the consumer's problem, not the connection's.
			if !s.deliver(connCtx, queue, item{err: err}) {
				return
			}

			continue
		}

		if last, seen := lastOpen[candle.Symbol]; seen && !candle.OpenTime.After(last) {
			s.logger.Debug("dropping duplicate candle",
				zap.String("symbol", candle.Symbol),
				zap.Time("open_time", candle.OpenTime))

			continue
		}

		if !s.deliver(connCtx, queue, item{candle: candle}) {
			return
		}

		lastOpen[candle.Symbol] = candle.OpenTime
		policy.Reset()
	}
}

// deliver enqueues with the configured timeout. On timeout the stream is
// unhealthy: report it and fail the connection so the caller reconnects
// instead of buffering unboundedly.
func (s *Streamer) deliver(ctx context.Context, queue chan<- item, it item) bool {
	timer := time.NewTimer(s.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case queue <- it:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		s.logger.Error("delivery queue full, dropping connection",
			zap.Duration("enqueue_timeout", s.cfg.EnqueueTimeout))

		return false
	}
}
