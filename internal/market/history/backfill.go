package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/market/provider"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Backfiller extends the store to cover a requested window by downloading
// only what is missing. Backfill is idempotent: the merge skips bars the
// store already has, and a checkpoint lets an interrupted run resume.
type Backfiller struct {
	store       *Store
	provider    provider.Provider
	checkpoints *CheckpointFile
	logger      *logger.Logger
}

func NewBackfiller(store *Store, p provider.Provider, checkpoints *CheckpointFile, log *logger.Logger) *Backfiller {
	return &Backfiller{
		store:       store,
		provider:    p,
		checkpoints: checkpoints,
		logger:      log,
	}
}

type timeRange struct {
	start time.Time
	end   time.Time
}

// Backfill fills [start, end) for every series. Each page is merged and
// checkpointed as it arrives, so progress survives interruption.
func (b *Backfiller) Backfill(ctx context.Context, keys []types.SeriesKey, start, end time.Time, onProgress provider.OnDownloadProgress) error {
	for _, key := range keys {
		if err := b.backfillSeries(ctx, key, start, end, onProgress); err != nil {
			return err
		}
	}

	return nil
}

func (b *Backfiller) backfillSeries(ctx context.Context, key types.SeriesKey, start, end time.Time, onProgress provider.OnDownloadProgress) error {
	step, err := types.ParseTimeframe(key.Timeframe)
	if err != nil {
		return err
	}

	ranges, err := b.missingRanges(key, start, end, step)
	if err != nil {
		return err
	}

	if len(ranges) == 0 {
		b.logger.Debug("series already covers window", zap.String("series", key.String()))

		return nil
	}

	for _, r := range thinRanges(ranges, step) {
		if err := b.fetchRange(ctx, key, r, step, onProgress); err != nil {
			return err
		}
	}

	b.logger.Info("backfill complete",
		zap.String("series", key.String()),
		zap.Time("start", start),
		zap.Time("end", end))

	return b.checkpoints.Save(key, Checkpoint{
		Symbol:    key.Symbol,
		Timeframe: key.Timeframe,
		NextSince: end,
		Done:      true,
	})
}

// missingRanges computes the sub-windows of [start, end) the store does not
// cover: the head before the first stored bar, every interior gap, and the
// tail after the last.
func (b *Backfiller) missingRanges(key types.SeriesKey, start, end time.Time, step time.Duration) ([]timeRange, error) {
	first, last, err := b.store.Extent(key)
	if err != nil {
		return nil, err
	}

	if first.IsNone() {
		return []timeRange{{start: start, end: end}}, nil
	}

	var ranges []timeRange

	if head := first.Unwrap(); start.Before(head) {
		ranges = append(ranges, timeRange{start: start, end: head})
	}

	gaps, err := b.store.Gaps(key)
	if err != nil {
		return nil, err
	}

	for _, g := range gaps {
		ranges = append(ranges, timeRange{start: g.After.Add(step), end: g.Before})
	}

	if tail := last.Unwrap().Add(step); tail.Before(end) {
		ranges = append(ranges, timeRange{start: tail, end: end})
	}

	return ranges, nil
}

// thinRanges drops ranges too small to contain a full bar.
func thinRanges(ranges []timeRange, step time.Duration) []timeRange {
	kept := ranges[:0]

	for _, r := range ranges {
		if r.end.Sub(r.start) >= step {
			kept = append(kept, r)
		}
	}

	return kept
}

func (b *Backfiller) fetchRange(ctx context.Context, key types.SeriesKey, r timeRange, step time.Duration, onProgress provider.OnDownloadProgress) error {
	// Resume from the checkpoint when it falls inside this range.
	cp, err := b.checkpoints.Load(key)
	if err != nil {
		return err
	}

	fetchStart := r.start
	if !cp.Done && cp.NextSince.After(r.start) && cp.NextSince.Before(r.end) {
		fetchStart = cp.NextSince

		b.logger.Info("resuming backfill from checkpoint",
			zap.String("series", key.String()),
			zap.Time("next_since", cp.NextSince))
	}

	onPage := func(candles []types.Candle) error {
		// The exchange returns every bar whose open falls inside the
		// window, including the still-forming one. Merge never rewrites
		// stored bars, so only bars fully closed by the window end are kept.
		closed := candles[:0]

		for _, c := range candles {
			if !c.OpenTime.Add(step).After(r.end) {
				closed = append(closed, c)
			}
		}

		if len(closed) == 0 {
			return nil
		}

		inserted, err := b.store.Merge(closed)
		if err != nil {
			return err
		}

		b.logger.Debug("backfill page merged",
			zap.String("series", key.String()),
			zap.Int("candles", len(closed)),
			zap.Int("inserted", inserted))

		next := closed[len(closed)-1].OpenTime.Add(step)

		return b.checkpoints.Save(key, Checkpoint{
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			NextSince: next,
			Done:      false,
		})
	}

	if err := b.provider.Download(ctx, key.Symbol, key.Timeframe, fetchStart, r.end, onPage, onProgress); err != nil {
		return errors.Wrapf(errors.ErrCodeBackfillFailed, err, "backfill failed for %s", key)
	}

	return nil
}
