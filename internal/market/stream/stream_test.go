package stream

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/market/provider"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// scriptedProvider plays back one script per connection attempt, then keeps
// the connection silent until the context ends.
type scriptedProvider struct {
	mu          sync.Mutex
	connections [][]item
	calls       int
}

var _ provider.Provider = (*scriptedProvider)(nil)

func (p *scriptedProvider) Download(ctx context.Context, symbol, timeframe string, start, end time.Time, onPage provider.OnPage, onProgress provider.OnDownloadProgress) error {
	return nil
}

func (p *scriptedProvider) Stream(ctx context.Context, symbols []string, timeframe string) iter.Seq2[types.Candle, error] {
	p.mu.Lock()
	idx := p.calls
	p.calls++

	var script []item
	if idx < len(p.connections) {
		script = p.connections[idx]
	}
	p.mu.Unlock()

	return func(yield func(types.Candle, error) bool) {
		for _, it := range script {
			if ctx.Err() != nil {
				return
			}

			if !yield(it.candle, it.err) {
				return
			}
		}

		// Stay connected but silent until cancelled.
		<-ctx.Done()
	}
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

func candleAt(minute int) types.Candle {
	return types.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		OpenTime:  time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC),
		Open:      100,
		High:      101,
		Low:       99,
		Close:     100.5,
		Volume:    1,
	}
}

type StreamTestSuite struct {
	suite.Suite
}

func TestStreamSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}

func testConfig() Config {
	return Config{
		Symbols:              []string{"BTCUSDT"},
		Timeframe:            "1m",
		HeartbeatTimeout:     2 * time.Second,
		QueueSize:            16,
		EnqueueTimeout:       200 * time.Millisecond,
		MaxReconnectInterval: 50 * time.Millisecond,
	}
}

func collect(ctx context.Context, s *Streamer, want int) ([]types.Candle, []error) {
	var candles []types.Candle

	var errs []error

	for candle, err := range s.Candles(ctx) {
		if err != nil {
			errs = append(errs, err)

			continue
		}

		candles = append(candles, candle)
		if len(candles) == want {
			break
		}
	}

	return candles, errs
}

func (suite *StreamTestSuite) TestReconnectWithoutDuplicates() {
	p := &scriptedProvider{
		connections: [][]item{
			{
				{candle: candleAt(0)},
				{candle: candleAt(1)},
				{err: errors.New(errors.ErrCodeStreamDisconnected, "connection reset")},
			},
			{
				// Reconnect replays the last closed candle.
				{candle: candleAt(1)},
				{candle: candleAt(2)},
			},
		},
	}

	s := New(p, testConfig(), logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	candles, errs := collect(ctx, s, 3)

	suite.Empty(errs)
	suite.Require().Len(candles, 3)
	suite.Equal(candleAt(0).OpenTime, candles[0].OpenTime)
	suite.Equal(candleAt(1).OpenTime, candles[1].OpenTime)
	suite.Equal(candleAt(2).OpenTime, candles[2].OpenTime)
	suite.GreaterOrEqual(p.callCount(), 2)
}

func (suite *StreamTestSuite) TestHeartbeatTimeoutForcesReconnect() {
	p := &scriptedProvider{
		connections: [][]item{
			{}, // first connection stays silent
			{{candle: candleAt(0)}},
		},
	}

	cfg := testConfig()
	cfg.HeartbeatTimeout = 100 * time.Millisecond

	s := New(p, cfg, logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	candles, _ := collect(ctx, s, 1)

	suite.Require().Len(candles, 1)
	suite.GreaterOrEqual(p.callCount(), 2)
}

func (suite *StreamTestSuite) TestDataErrorsReachConsumer() {
	p := &scriptedProvider{
		connections: [][]item{
			{
				{err: errors.New(errors.ErrCodeInvalidCandle, "malformed close price")},
				{candle: candleAt(0)},
			},
		},
	}

	s := New(p, testConfig(), logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	candles, errs := collect(ctx, s, 1)

	suite.Require().Len(errs, 1)
	suite.Equal(errors.ErrCodeInvalidCandle, errors.GetCode(errs[0]))
	suite.Require().Len(candles, 1)
}

func (suite *StreamTestSuite) TestContextCancellationStopsStream() {
	p := &scriptedProvider{connections: [][]item{{}}}

	s := New(p, testConfig(), logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)

		for range s.Candles(ctx) {
		}
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		suite.Fail("stream did not stop after cancellation")
	}
}
