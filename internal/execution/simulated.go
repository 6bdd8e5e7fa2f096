package execution

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/execution/commission"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Simulated fills orders against the candle it last saw for the symbol.
// The fill price is the candle's mid (average of high and low) shifted by
// the configured slippage against the order, so backtests do not assume a
// free fill at the close.
type Simulated struct {
	slippageBps float64
	commission  commission.Model
	logger      *logger.Logger

	mu      sync.Mutex
	candles map[string]types.Candle
	// reports caches outcomes by ClientOrderID. A duplicate submission
	// replays the cached report instead of filling again.
	reports map[string]types.ExecutionReport
}

var _ Executor = (*Simulated)(nil)

func NewSimulated(cfg config.ExecutionConfig, log *logger.Logger) *Simulated {
	return &Simulated{
		slippageBps: cfg.SlippageBps,
		commission:  commission.New(cfg.Commission),
		logger:      log,
		candles:     make(map[string]types.Candle),
		reports:     make(map[string]types.ExecutionReport),
	}
}

func (s *Simulated) OnCandle(candle types.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candles[candle.Symbol] = candle
}

func (s *Simulated) Submit(_ context.Context, order types.ExecuteOrder) (types.ExecutionReport, error) {
	if err := order.Validate(); err != nil {
		return types.ExecutionReport{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if report, seen := s.reports[order.ClientOrderID]; seen {
		s.logger.Debug("duplicate submission replayed",
			zap.String("client_order_id", order.ClientOrderID))

		return report, nil
	}

	candle, ok := s.candles[order.Symbol]
	if !ok {
		return types.ExecutionReport{}, errors.Newf(errors.ErrCodeOrderFailed,
			"no market data for %s yet", order.Symbol)
	}

	price := s.fillPrice(candle, order.Side)
	fill := types.Fill{
		ExecID:        order.ClientOrderID + "-1",
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         price,
		Fee:           s.commission.Fee(order.Quantity, price),
		StrategyID:    order.StrategyID,
		ExecutedAt:    candle.CloseTime(),
	}

	report := types.ExecutionReport{
		Order: types.Order{
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			OrderType:     order.OrderType,
			Quantity:      order.Quantity,
			Price:         price,
			Status:        types.OrderStatusFilled,
			StrategyID:    order.StrategyID,
			Reason:        order.Reason,
			SubmittedAt:   candle.CloseTime(),
		},
		Fills: []types.Fill{fill},
	}

	s.reports[order.ClientOrderID] = report

	return report, nil
}

// PendingFills is always empty: simulated orders fill synchronously.
func (s *Simulated) PendingFills(context.Context) ([]types.Fill, error) {
	return nil, nil
}

func (s *Simulated) Close() error { return nil }

func (s *Simulated) fillPrice(candle types.Candle, side types.OrderSide) float64 {
	mid := (candle.High + candle.Low) / 2
	shift := mid * s.slippageBps / 10000

	if side == types.OrderSideBuy {
		return mid + shift
	}

	return mid - shift
}
