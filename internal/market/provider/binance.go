package provider

import (
	"context"
	"iter"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"

	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// binancePageSize is the kline page size the REST API serves per request.
const binancePageSize = 500

var binanceIntervals = map[string]bool{
	"1s": true, "1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// BinanceWsKline mirrors the kline payload of a Binance WebSocket event.
// Prices arrive as strings on the wire.
type BinanceWsKline struct {
	StartTime int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	// IsFinal is true once the candle has closed. Only final candles are
	// forwarded downstream.
	IsFinal bool
}

// BinanceWsKlineEvent is one kline event from the WebSocket stream.
type BinanceWsKlineEvent struct {
	Symbol string
	Kline  BinanceWsKline
}

type WsKlineHandler func(event *BinanceWsKlineEvent)

type WsErrorHandler func(err error)

// BinanceWebSocketService abstracts the WebSocket kline subscription so
// tests can inject scripted events.
type BinanceWebSocketService interface {
	WsKlineServe(symbol string, interval string, handler WsKlineHandler, errHandler WsErrorHandler) (doneC chan struct{}, stopC chan struct{}, err error)
}

// BinanceKlinesService abstracts the REST kline endpoint.
type BinanceKlinesService interface {
	Klines(ctx context.Context, symbol string, interval string, startTime int64, endTime int64, limit int) ([]*binance.Kline, error)
}

type realBinanceKlinesService struct {
	client *binance.Client
}

func (s *realBinanceKlinesService) Klines(ctx context.Context, symbol string, interval string, startTime int64, endTime int64, limit int) ([]*binance.Kline, error) {
	return s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startTime).
		EndTime(endTime).
		Limit(limit).
		Do(ctx)
}

type realBinanceWebSocketService struct{}

var (
	_ BinanceKlinesService    = (*realBinanceKlinesService)(nil)
	_ BinanceWebSocketService = (*realBinanceWebSocketService)(nil)
)

func (s *realBinanceWebSocketService) WsKlineServe(symbol string, interval string, handler WsKlineHandler, errHandler WsErrorHandler) (chan struct{}, chan struct{}, error) {
	return binance.WsKlineServe(symbol, interval, func(event *binance.WsKlineEvent) {
		handler(&BinanceWsKlineEvent{
			Symbol: event.Symbol,
			Kline: BinanceWsKline{
				StartTime: event.Kline.StartTime,
				Open:      event.Kline.Open,
				High:      event.Kline.High,
				Low:       event.Kline.Low,
				Close:     event.Kline.Close,
				Volume:    event.Kline.Volume,
				IsFinal:   event.Kline.IsFinal,
			},
		})
	}, func(err error) { errHandler(err) })
}

// BinanceProvider serves historical and streaming candles from Binance.
// Market data endpoints are public, so no credentials are needed.
type BinanceProvider struct {
	klines BinanceKlinesService
	ws     BinanceWebSocketService
}

var _ Provider = (*BinanceProvider)(nil)

func NewBinanceProvider() *BinanceProvider {
	return &BinanceProvider{
		klines: &realBinanceKlinesService{client: binance.NewClient("", "")},
		ws:     &realBinanceWebSocketService{},
	}
}

// NewBinanceProviderWithServices creates a provider with injected services.
// Used by tests to script REST and WebSocket behavior.
func NewBinanceProviderWithServices(klines BinanceKlinesService, ws BinanceWebSocketService) *BinanceProvider {
	return &BinanceProvider{klines: klines, ws: ws}
}

// Download fetches historical klines page by page, oldest first. Pagination
// follows the close time of the last kline of each page to avoid duplicates.
func (p *BinanceProvider) Download(ctx context.Context, symbol string, timeframe string, start time.Time, end time.Time, onPage OnPage, onProgress OnDownloadProgress) error {
	if !binanceIntervals[timeframe] {
		return errors.Newf(errors.ErrCodeInvalidParameter, "unsupported binance interval %q", timeframe)
	}

	startMillis := start.UnixMilli()
	endMillis := end.UnixMilli()
	currentStart := startMillis

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(errors.ErrCodeBackfillFailed, "download cancelled", err)
		}

		klines, err := p.klines.Klines(ctx, symbol, timeframe, currentStart, endMillis, binancePageSize)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeExchangeUnreachable, err, "failed to fetch klines for %s", symbol)
		}

		if onProgress != nil {
			onProgress(float64(currentStart-startMillis), float64(endMillis-startMillis), "downloading "+symbol)
		}

		if len(klines) > 0 {
			if err := onPage(convertKlines(symbol, timeframe, klines)); err != nil {
				return err
			}
		}

		// Last page: nothing more to fetch.
		if len(klines) < binancePageSize {
			return nil
		}

		lastKline := klines[len(klines)-1]
		currentStart = lastKline.CloseTime + 1

		if currentStart >= endMillis {
			return nil
		}
	}
}

// Stream subscribes to kline WebSocket streams for each symbol and yields
// only finalized candles. The iterator ends when the context is cancelled,
// when the server closes every subscription, or when the consumer stops.
func (p *BinanceProvider) Stream(ctx context.Context, symbols []string, timeframe string) iter.Seq2[types.Candle, error] {
	return func(yield func(types.Candle, error) bool) {
		if len(symbols) == 0 {
			yield(types.Candle{}, errors.New(errors.ErrCodeInvalidParameter, "no symbols to stream"))

			return
		}

		if !binanceIntervals[timeframe] {
			yield(types.Candle{}, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported binance interval %q", timeframe))

			return
		}

		type item struct {
			candle types.Candle
			err    error
		}

		events := make(chan item, 2*binancePageSize)

		handler := func(event *BinanceWsKlineEvent) {
			if !event.Kline.IsFinal {
				return
			}

			candle, err := convertWsKline(event, timeframe)

			select {
			case events <- item{candle: candle, err: err}:
			case <-ctx.Done():
			}
		}

		errHandler := func(err error) {
			select {
			case events <- item{err: errors.Wrap(errors.ErrCodeStreamDisconnected, "websocket error", err)}:
			case <-ctx.Done():
			}
		}

		stops := make([]chan struct{}, 0, len(symbols))
		dones := make([]chan struct{}, 0, len(symbols))

		for _, symbol := range symbols {
			doneC, stopC, err := p.ws.WsKlineServe(symbol, timeframe, handler, errHandler)
			if err != nil {
				yield(types.Candle{}, errors.Wrapf(errors.ErrCodeStreamDisconnected, err, "failed to subscribe %s", symbol))

				closeAll(stops)

				return
			}

			stops = append(stops, stopC)
			dones = append(dones, doneC)
		}

		defer closeAll(stops)

		// Signal once every subscription has been closed by the server.
		allDone := make(chan struct{})

		go func() {
			for _, doneC := range dones {
				<-doneC
			}

			close(allDone)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-allDone:
				// Drain anything already queued before reporting the close.
				for {
					select {
					case it := <-events:
						if !yield(it.candle, it.err) {
							return
						}
					default:
						yield(types.Candle{}, errors.New(errors.ErrCodeStreamDisconnected, "all subscriptions closed"))

						return
					}
				}
			case it := <-events:
				if !yield(it.candle, it.err) {
					return
				}
			}
		}
	}
}

func convertKlines(symbol string, timeframe string, klines []*binance.Kline) []types.Candle {
	candles := make([]types.Candle, 0, len(klines))

	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles = append(candles, types.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePrice,
			Volume:    volume,
		})
	}

	return candles
}

func convertWsKline(event *BinanceWsKlineEvent, timeframe string) (types.Candle, error) {
	open, err := strconv.ParseFloat(event.Kline.Open, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeInvalidCandle, err, "malformed open price for %s", event.Symbol)
	}

	high, err := strconv.ParseFloat(event.Kline.High, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeInvalidCandle, err, "malformed high price for %s", event.Symbol)
	}

	low, err := strconv.ParseFloat(event.Kline.Low, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeInvalidCandle, err, "malformed low price for %s", event.Symbol)
	}

	closePrice, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeInvalidCandle, err, "malformed close price for %s", event.Symbol)
	}

	volume, err := strconv.ParseFloat(event.Kline.Volume, 64)
	if err != nil {
		return types.Candle{}, errors.Wrapf(errors.ErrCodeInvalidCandle, err, "malformed volume for %s", event.Symbol)
	}

	return types.Candle{
		Symbol:    event.Symbol,
		Timeframe: timeframe,
		OpenTime:  time.UnixMilli(event.Kline.StartTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

func closeAll(stops []chan struct{}) {
	for _, stopC := range stops {
		close(stopC)
	}
}
