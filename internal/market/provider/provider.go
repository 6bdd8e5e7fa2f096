// Package provider implements exchange-facing candle providers used for
// historical download and live streaming.
package provider

import (
	"context"
	"iter"
	"time"

	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Kind identifies a market data provider.
type Kind string

const (
	KindBinance Kind = "binance"
	KindPolygon Kind = "polygon"
)

// OnDownloadProgress reports download progress to the caller.
type OnDownloadProgress = func(current float64, total float64, message string)

// OnPage receives one page of downloaded candles in open-time order.
// Returning an error aborts the download.
type OnPage = func(candles []types.Candle) error

type Provider interface {
	// Download fetches historical candles for the symbol and date range,
	// delivering them page by page through onPage. Pages arrive oldest
	// first and each page is internally ordered.
	Download(ctx context.Context, symbol string, timeframe string, start time.Time, end time.Time, onPage OnPage, onProgress OnDownloadProgress) error
	// Stream returns an iterator that yields closed candles via WebSocket.
	// Forming candles are never yielded. Cancel the context to stop.
	Stream(ctx context.Context, symbols []string, timeframe string) iter.Seq2[types.Candle, error]
}

// New creates a provider by kind. Polygon needs an API key; Binance market
// data endpoints are public.
func New(kind Kind, polygonAPIKey string) (Provider, error) {
	switch kind {
	case KindBinance:
		return NewBinanceProvider(), nil
	case KindPolygon:
		return NewPolygonProvider(polygonAPIKey)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported market data provider %q", kind)
	}
}
