package execution

import (
	"context"

	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/config"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Handshake verifies end-to-end order routing with a minimal buy-then-sell
// round trip before any trading order is placed. It runs once at startup
// against real and demo executors only; a failure is fatal and the candle
// loop never starts.
func Handshake(ctx context.Context, executor Executor, cfg config.HandshakeConfig, referencePrice float64, log *logger.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	if referencePrice <= 0 {
		return errors.Newf(errors.ErrCodeHandshakeFailed,
			"no reference price for handshake symbol %s", cfg.Symbol)
	}

	quantity := cfg.Notional / referencePrice

	log.Info("running connectivity handshake",
		zap.String("symbol", cfg.Symbol),
		zap.Float64("notional", cfg.Notional))

	buy := types.ExecuteOrder{
		ClientOrderID:  "hs-buy-" + NewClientOrderID(),
		Symbol:         cfg.Symbol,
		Side:           types.OrderSideBuy,
		OrderType:      types.OrderTypeMarket,
		Quantity:       quantity,
		ReferencePrice: referencePrice,
		StrategyID:     "handshake",
		Reason:         types.Reason{Reason: types.OrderReasonHandshake, Message: "connectivity check buy leg"},
	}

	buyReport, err := executor.Submit(ctx, buy)
	if err != nil {
		return errors.Wrap(errors.ErrCodeHandshakeFailed, "handshake buy leg failed", err)
	}

	// Sell back exactly what the buy leg acquired. If the fills have not
	// arrived yet, fall back to the requested quantity.
	sellQty := 0.0
	for _, fill := range buyReport.Fills {
		sellQty += fill.Quantity
	}

	if sellQty == 0 {
		sellQty = quantity
	}

	sell := types.ExecuteOrder{
		ClientOrderID:  "hs-sell-" + NewClientOrderID(),
		Symbol:         cfg.Symbol,
		Side:           types.OrderSideSell,
		OrderType:      types.OrderTypeMarket,
		Quantity:       sellQty,
		ReferencePrice: referencePrice,
		StrategyID:     "handshake",
		Reason:         types.Reason{Reason: types.OrderReasonHandshake, Message: "connectivity check sell leg"},
	}

	if _, err := executor.Submit(ctx, sell); err != nil {
		return errors.Wrap(errors.ErrCodeHandshakeFailed, "handshake sell leg failed", err)
	}

	log.Info("connectivity handshake passed", zap.String("symbol", cfg.Symbol))

	return nil
}
