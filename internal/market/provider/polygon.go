package provider

import (
	"context"
	"iter"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// polygonPageSize batches aggregates before handing them to onPage.
const polygonPageSize = 1000

// PolygonProvider downloads historical aggregates from Polygon.io.
// Polygon has no candle WebSocket compatible with our closed-candle
// contract, so Stream is not supported.
type PolygonProvider struct {
	client *polygon.Client
}

var _ Provider = (*PolygonProvider)(nil)

func NewPolygonProvider(apiKey string) (*PolygonProvider, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeMissingCredentials, "polygon api key is required")
	}

	return &PolygonProvider{client: polygon.New(apiKey)}, nil
}

func (p *PolygonProvider) Download(ctx context.Context, symbol string, timeframe string, start time.Time, end time.Time, onPage OnPage, onProgress OnDownloadProgress) error {
	multiplier, timespan, err := polygonTimespan(timeframe)
	if err != nil {
		return err
	}

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithLimit(50000)

	aggs := p.client.ListAggs(ctx, params)

	total := float64(end.Sub(start))
	page := make([]types.Candle, 0, polygonPageSize)

	for aggs.Next() {
		agg := aggs.Item()

		page = append(page, types.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  time.Time(agg.Timestamp).UTC(),
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    agg.Volume,
		})

		if len(page) == polygonPageSize {
			if err := onPage(page); err != nil {
				return err
			}

			if onProgress != nil {
				onProgress(float64(time.Time(agg.Timestamp).Sub(start)), total, "downloading "+symbol)
			}

			page = make([]types.Candle, 0, polygonPageSize)
		}
	}

	if aggs.Err() != nil {
		return errors.Wrapf(errors.ErrCodeExchangeUnreachable, aggs.Err(), "failed to list aggregates for %s", symbol)
	}

	if len(page) > 0 {
		if err := onPage(page); err != nil {
			return err
		}
	}

	return nil
}

// Stream is not supported for Polygon.
func (p *PolygonProvider) Stream(ctx context.Context, symbols []string, timeframe string) iter.Seq2[types.Candle, error] {
	return func(yield func(types.Candle, error) bool) {
		yield(types.Candle{}, errors.New(errors.ErrCodeInvalidParameter, "polygon provider does not support streaming"))
	}
}

func polygonTimespan(timeframe string) (int, models.Timespan, error) {
	d, err := types.ParseTimeframe(timeframe)
	if err != nil {
		return 0, "", err
	}

	switch {
	case d < time.Minute:
		return int(d / time.Second), models.Second, nil
	case d < time.Hour:
		return int(d / time.Minute), models.Minute, nil
	case d < 24*time.Hour:
		return int(d / time.Hour), models.Hour, nil
	default:
		return int(d / (24 * time.Hour)), models.Day, nil
	}
}
