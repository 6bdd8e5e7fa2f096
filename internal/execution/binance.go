package execution

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// quantityPrecision is the decimal precision used when formatting order
// quantities. 8 decimals covers satoshi-level sizes; symbol-specific
// LOT_SIZE filters would tighten this further.
const quantityPrecision = 8

// Service interfaces wrapping the Binance trading API, so tests can
// script order outcomes without a network.

type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrigClientOrderID(id string) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

type ListTradesService interface {
	Symbol(symbol string) ListTradesService
	OrderID(orderID int64) ListTradesService
	Do(ctx context.Context) ([]*binance.TradeV3, error)
}

// TradingClient abstracts the Binance client for testing.
type TradingClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetOrderService() GetOrderService
	NewListTradesService() ListTradesService
}

type realTradingClient struct {
	client *binance.Client
	// opts carries the replay-protection window on every signed request.
	opts []binance.RequestOption
}

func newRealTradingClient(client *binance.Client, recvWindowMillis int64) *realTradingClient {
	c := &realTradingClient{client: client}
	if recvWindowMillis > 0 {
		c.opts = append(c.opts, binance.WithRecvWindow(recvWindowMillis))
	}

	return c
}

func (r *realTradingClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService(), opts: r.opts}
}

func (r *realTradingClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService(), opts: r.opts}
}

func (r *realTradingClient) NewListTradesService() ListTradesService {
	return &realListTradesService{service: r.client.NewListTradesService(), opts: r.opts}
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
	opts    []binance.RequestOption
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx, s.opts...)
}

type realGetOrderService struct {
	service *binance.GetOrderService
	opts    []binance.RequestOption
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrigClientOrderID(id string) GetOrderService {
	s.service = s.service.OrigClientOrderID(id)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx, s.opts...)
}

type realListTradesService struct {
	service *binance.ListTradesService
	opts    []binance.RequestOption
}

func (s *realListTradesService) Symbol(symbol string) ListTradesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListTradesService) OrderID(orderID int64) ListTradesService {
	s.service = s.service.OrderId(orderID)

	return s
}

func (s *realListTradesService) Do(ctx context.Context) ([]*binance.TradeV3, error) {
	return s.service.Do(ctx, s.opts...)
}

// pendingOrder is an accepted order whose fills have not fully arrived.
type pendingOrder struct {
	order      types.ExecuteOrder
	exchangeID int64
	filledQty  float64
}

// Binance routes orders to Binance spot, testnet or production depending
// on configuration. The same code path serves both; only the endpoint
// differs, so forward mode exercises exactly what live mode runs.
type Binance struct {
	client  TradingClient
	testnet bool
	logger  *logger.Logger

	mu sync.Mutex
	// submitted caches reports by ClientOrderID for idempotent replay.
	submitted map[string]types.ExecutionReport
	pending   map[string]*pendingOrder
	// seenExecIDs dedupes fills across the synchronous response and the
	// polling path.
	seenExecIDs map[string]struct{}
}

var _ Executor = (*Binance)(nil)

// NewBinance builds the executor. Credentials come resolved from the
// environment; they are never logged.
func NewBinance(cfg config.BinanceConfig, log *logger.Logger) (*Binance, error) {
	apiKey, apiSecret, err := cfg.ResolveCredentials()
	if err != nil {
		return nil, err
	}

	if cfg.Testnet {
		binance.UseTestnet = true
	}

	return newBinanceWithClient(newRealTradingClient(binance.NewClient(apiKey, apiSecret), cfg.RecvWindowMillis), cfg.Testnet, log), nil
}

func newBinanceWithClient(client TradingClient, testnet bool, log *logger.Logger) *Binance {
	return &Binance{
		client:      client,
		testnet:     testnet,
		logger:      log,
		submitted:   make(map[string]types.ExecutionReport),
		pending:     make(map[string]*pendingOrder),
		seenExecIDs: make(map[string]struct{}),
	}
}

func (b *Binance) OnCandle(types.Candle) {}

// Submit places a market order under the caller's idempotency key. If the
// request fails in a way that leaves the outcome unknown, Submit checks
// whether the exchange accepted the order before reporting failure, so a
// retry under the same key never doubles the position.
func (b *Binance) Submit(ctx context.Context, order types.ExecuteOrder) (types.ExecutionReport, error) {
	if err := order.Validate(); err != nil {
		return types.ExecutionReport{}, err
	}

	b.mu.Lock()
	if report, seen := b.submitted[order.ClientOrderID]; seen {
		b.mu.Unlock()
		b.logger.Debug("duplicate submission replayed",
			zap.String("client_order_id", order.ClientOrderID))

		return report, nil
	}
	b.mu.Unlock()

	side := binance.SideTypeBuy
	if order.Side == types.OrderSideSell {
		side = binance.SideTypeSell
	}

	response, err := b.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(order.Quantity, 'f', quantityPrecision, 64)).
		NewClientOrderID(order.ClientOrderID).
		Do(ctx)
	if err != nil {
		return b.reconcileSubmitFailure(ctx, order, err)
	}

	return b.recordResponse(order, response), nil
}

// reconcileSubmitFailure resolves an ambiguous submission: the request
// errored, but the exchange may still have accepted it. Querying by the
// client order ID settles which happened.
func (b *Binance) reconcileSubmitFailure(ctx context.Context, order types.ExecuteOrder, submitErr error) (types.ExecutionReport, error) {
	existing, err := b.client.NewGetOrderService().
		Symbol(order.Symbol).
		OrigClientOrderID(order.ClientOrderID).
		Do(ctx)
	if err != nil || existing == nil {
		return types.ExecutionReport{}, errors.Wrapf(errors.ErrCodeOrderFailed, submitErr,
			"order %s failed and was not found on the exchange", order.ClientOrderID)
	}

	b.logger.Warn("submission errored but the exchange accepted the order",
		zap.String("client_order_id", order.ClientOrderID),
		zap.Error(submitErr))

	filled, _ := strconv.ParseFloat(existing.ExecutedQuantity, 64)

	b.mu.Lock()
	defer b.mu.Unlock()

	report := types.ExecutionReport{
		Order: types.Order{
			ClientOrderID: order.ClientOrderID,
			ExchangeID:    strconv.FormatInt(existing.OrderID, 10),
			Symbol:        order.Symbol,
			Side:          order.Side,
			OrderType:     order.OrderType,
			Quantity:      order.Quantity,
			Status:        types.OrderStatusSubmitted,
			StrategyID:    order.StrategyID,
			Reason:        order.Reason,
		},
	}
	b.submitted[order.ClientOrderID] = report
	b.pending[order.ClientOrderID] = &pendingOrder{order: order, exchangeID: existing.OrderID, filledQty: filled}

	return report, nil
}

func (b *Binance) recordResponse(order types.ExecuteOrder, response *binance.CreateOrderResponse) types.ExecutionReport {
	b.mu.Lock()
	defer b.mu.Unlock()

	fills := make([]types.Fill, 0, len(response.Fills))
	filledQty := 0.0

	for idx, raw := range response.Fills {
		fill := convertResponseFill(order, response, idx, raw)
		if _, dup := b.seenExecIDs[fill.ExecID]; dup {
			continue
		}

		b.seenExecIDs[fill.ExecID] = struct{}{}
		fills = append(fills, fill)
		filledQty += fill.Quantity
	}

	status := types.OrderStatusSubmitted

	switch response.Status {
	case binance.OrderStatusTypeFilled:
		status = types.OrderStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		status = types.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeRejected:
		status = types.OrderStatusRejected
	}

	report := types.ExecutionReport{
		Order: types.Order{
			ClientOrderID: order.ClientOrderID,
			ExchangeID:    strconv.FormatInt(response.OrderID, 10),
			Symbol:        order.Symbol,
			Side:          order.Side,
			OrderType:     order.OrderType,
			Quantity:      order.Quantity,
			Status:        status,
			StrategyID:    order.StrategyID,
			Reason:        order.Reason,
		},
		Fills: fills,
	}

	b.submitted[order.ClientOrderID] = report

	if status != types.OrderStatusFilled && status != types.OrderStatusRejected {
		b.pending[order.ClientOrderID] = &pendingOrder{order: order, exchangeID: response.OrderID, filledQty: filledQty}
	}

	return report
}

// PendingFills polls trades for orders the private stream has not fully
// confirmed, deduplicating against fills already reported.
func (b *Binance) PendingFills(ctx context.Context) ([]types.Fill, error) {
	b.mu.Lock()
	snapshot := make([]*pendingOrder, 0, len(b.pending))

	for _, p := range b.pending {
		snapshot = append(snapshot, p)
	}
	b.mu.Unlock()

	var fills []types.Fill

	for _, p := range snapshot {
		trades, err := b.client.NewListTradesService().
			Symbol(p.order.Symbol).
			OrderID(p.exchangeID).
			Do(ctx)
		if err != nil {
			return fills, errors.Wrapf(errors.ErrCodeExchangeUnreachable, err,
				"polling trades for order %s", p.order.ClientOrderID)
		}

		b.mu.Lock()

		for _, trade := range trades {
			fill := convertTrade(p.order, trade)
			if _, dup := b.seenExecIDs[fill.ExecID]; dup {
				continue
			}

			b.seenExecIDs[fill.ExecID] = struct{}{}
			p.filledQty += fill.Quantity
			fills = append(fills, fill)
		}

		if p.filledQty >= p.order.Quantity {
			delete(b.pending, p.order.ClientOrderID)
		}
		b.mu.Unlock()
	}

	return fills, nil
}

func (b *Binance) Close() error { return nil }

func convertResponseFill(order types.ExecuteOrder, response *binance.CreateOrderResponse, idx int, raw *binance.Fill) types.Fill {
	price, _ := strconv.ParseFloat(raw.Price, 64)
	quantity, _ := strconv.ParseFloat(raw.Quantity, 64)
	fee, _ := strconv.ParseFloat(raw.Commission, 64)

	execID := strconv.FormatInt(raw.TradeID, 10)
	if raw.TradeID == 0 {
		execID = strconv.FormatInt(response.OrderID, 10) + "-r" + strconv.Itoa(idx)
	}

	return types.Fill{
		ExecID:        execID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      quantity,
		Price:         price,
		Fee:           fee,
		StrategyID:    order.StrategyID,
		ExecutedAt:    time.UnixMilli(response.TransactTime),
	}
}

func convertTrade(order types.ExecuteOrder, trade *binance.TradeV3) types.Fill {
	price, _ := strconv.ParseFloat(trade.Price, 64)
	quantity, _ := strconv.ParseFloat(trade.Quantity, 64)
	fee, _ := strconv.ParseFloat(trade.Commission, 64)

	return types.Fill{
		ExecID:        strconv.FormatInt(trade.ID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      quantity,
		Price:         price,
		Fee:           fee,
		StrategyID:    order.StrategyID,
		ExecutedAt:    time.UnixMilli(trade.Time),
	}
}
