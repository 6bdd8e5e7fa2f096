// Package market defines the candle source abstraction shared by all run
// modes. The engine consumes candles through Source and never learns where
// they came from.
package market

import (
	"context"
	"iter"

	"github.com/tidemark-lab/tidemark/internal/types"
)

// Source yields an ordered stream of candles. Historical sources terminate
// when the data runs out; live sources terminate when the context is
// cancelled or the stream becomes unrecoverable.
type Source interface {
	// Candles returns an iterator over candles in open-time order.
	// The iterator yields candle and error pairs; a non-nil error for a
	// series does not necessarily end the stream.
	Candles(ctx context.Context) iter.Seq2[types.Candle, error]
}
