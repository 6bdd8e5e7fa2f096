package history

import (
	"context"
	"iter"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/market/provider"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// fakeProvider serves synthetic 1m candles for whatever range is requested
// and records the ranges it was asked for.
type fakeProvider struct {
	requested []timeRange
	failAfter int // pages to serve before failing; 0 means never fail
}

var _ provider.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) Download(ctx context.Context, symbol, timeframe string, start, end time.Time, onPage provider.OnPage, onProgress provider.OnDownloadProgress) error {
	p.requested = append(p.requested, timeRange{start: start, end: end})

	const pageSize = 100

	var page []types.Candle

	pages := 0

	for t := start.Truncate(time.Minute); t.Before(end); t = t.Add(time.Minute) {
		page = append(page, types.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  t,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    1,
		})

		if len(page) == pageSize {
			if err := onPage(page); err != nil {
				return err
			}

			page = nil
			pages++

			if p.failAfter > 0 && pages >= p.failAfter {
				return context.DeadlineExceeded
			}
		}
	}

	if len(page) > 0 {
		return onPage(page)
	}

	return nil
}

func (p *fakeProvider) Stream(ctx context.Context, symbols []string, timeframe string) iter.Seq2[types.Candle, error] {
	return func(yield func(types.Candle, error) bool) {}
}

type BackfillTestSuite struct {
	suite.Suite
	store *Store
	key   types.SeriesKey
}

func TestBackfillSuite(t *testing.T) {
	suite.Run(t, new(BackfillTestSuite))
}

func (suite *BackfillTestSuite) SetupTest() {
	store, err := NewStore("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store
	suite.key = types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1m"}
}

func (suite *BackfillTestSuite) TearDownTest() {
	suite.store.Close()
}

func (suite *BackfillTestSuite) newBackfiller(p provider.Provider) *Backfiller {
	cpPath := filepath.Join(suite.T().TempDir(), "checkpoint.json")

	return NewBackfiller(suite.store, p, NewCheckpointFile(cpPath), logger.NewNopLogger())
}

func (suite *BackfillTestSuite) TestBackfillEmptyStore() {
	p := &fakeProvider{}
	b := suite.newBackfiller(p)

	end := testStart.Add(4 * time.Hour)

	err := b.Backfill(context.Background(), []types.SeriesKey{suite.key}, testStart, end, nil)
	suite.Require().NoError(err)

	count, err := suite.store.Count(suite.key)
	suite.Require().NoError(err)
	suite.Equal(240, count)

	suite.NoError(suite.store.ValidateContinuity([]types.SeriesKey{suite.key}))
}

func (suite *BackfillTestSuite) TestBackfillFetchesOnlyMissingTail() {
	// Store already has the first hour.
	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart, 60))
	suite.Require().NoError(err)

	p := &fakeProvider{}
	b := suite.newBackfiller(p)

	end := testStart.Add(2 * time.Hour)

	err = b.Backfill(context.Background(), []types.SeriesKey{suite.key}, testStart, end, nil)
	suite.Require().NoError(err)

	// Only the tail after the stored extent was requested.
	suite.Require().Len(p.requested, 1)
	suite.Equal(testStart.Add(60*time.Minute), p.requested[0].start)
	suite.Equal(end, p.requested[0].end)

	count, err := suite.store.Count(suite.key)
	suite.Require().NoError(err)
	suite.Equal(120, count)
}

func (suite *BackfillTestSuite) TestBackfillFetchesMissingHead() {
	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart.Add(time.Hour), 60))
	suite.Require().NoError(err)

	p := &fakeProvider{}
	b := suite.newBackfiller(p)

	err = b.Backfill(context.Background(), []types.SeriesKey{suite.key}, testStart, testStart.Add(2*time.Hour), nil)
	suite.Require().NoError(err)

	suite.Require().Len(p.requested, 1)
	suite.Equal(testStart, p.requested[0].start)
	suite.Equal(testStart.Add(time.Hour), p.requested[0].end)
}

func (suite *BackfillTestSuite) TestBackfillRerunIsNoop() {
	p := &fakeProvider{}
	b := suite.newBackfiller(p)

	end := testStart.Add(time.Hour)

	suite.Require().NoError(b.Backfill(context.Background(), []types.SeriesKey{suite.key}, testStart, end, nil))
	firstCalls := len(p.requested)

	suite.Require().NoError(b.Backfill(context.Background(), []types.SeriesKey{suite.key}, testStart, end, nil))
	suite.Equal(firstCalls, len(p.requested), "second run should not fetch anything")

	count, err := suite.store.Count(suite.key)
	suite.Require().NoError(err)
	suite.Equal(60, count)
}

func (suite *BackfillTestSuite) TestBackfillResumesAfterFailure() {
	cpPath := filepath.Join(suite.T().TempDir(), "checkpoint.json")
	checkpoints := NewCheckpointFile(cpPath)

	failing := &fakeProvider{failAfter: 1}
	b := NewBackfiller(suite.store, failing, checkpoints, logger.NewNopLogger())

	end := testStart.Add(4 * time.Hour)

	err := b.Backfill(context.Background(), []types.SeriesKey{suite.key}, testStart, end, nil)
	suite.Require().Error(err)

	// The first page made it in before the failure.
	count, err := suite.store.Count(suite.key)
	suite.Require().NoError(err)
	suite.Equal(100, count)

	cp, err := checkpoints.Load(suite.key)
	suite.Require().NoError(err)
	suite.False(cp.Done)
	suite.Equal(testStart.Add(100*time.Minute), cp.NextSince)

	// Rerun with a healthy provider finishes the window with no duplicates.
	healthy := &fakeProvider{}
	b = NewBackfiller(suite.store, healthy, checkpoints, logger.NewNopLogger())

	suite.Require().NoError(b.Backfill(context.Background(), []types.SeriesKey{suite.key}, testStart, end, nil))

	count, err = suite.store.Count(suite.key)
	suite.Require().NoError(err)
	suite.Equal(240, count)
	suite.NoError(suite.store.ValidateContinuity([]types.SeriesKey{suite.key}))
}

// hourlyProvider mimics the exchange's inclusive end-time semantics: it
// serves every 1h bar whose open falls inside [start, end], including the
// still-forming one, which carries placeholder values until it closes.
type hourlyProvider struct {
	now time.Time
}

var _ provider.Provider = (*hourlyProvider)(nil)

func (p *hourlyProvider) Download(ctx context.Context, symbol, timeframe string, start, end time.Time, onPage provider.OnPage, onProgress provider.OnDownloadProgress) error {
	var page []types.Candle

	for t := start.Truncate(time.Hour); !t.After(end); t = t.Add(time.Hour) {
		c := types.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  t,
			Open:      100,
			High:      110,
			Low:       90,
			Close:     105,
			Volume:    1000,
		}

		if t.Add(time.Hour).After(p.now) {
			// Bar still open: partial values.
			c.Close = 92
			c.Volume = 3
		}

		page = append(page, c)
	}

	if len(page) > 0 {
		return onPage(page)
	}

	return nil
}

func (p *hourlyProvider) Stream(ctx context.Context, symbols []string, timeframe string) iter.Seq2[types.Candle, error] {
	return func(yield func(types.Candle, error) bool) {}
}

func (suite *BackfillTestSuite) TestBackfillSkipsStillOpenBar() {
	key := types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1h"}
	now := testStart.Add(2*time.Hour + 30*time.Minute)

	b := suite.newBackfiller(&hourlyProvider{now: now})

	// The window end falls mid-bar: the 02:00 bar is still forming.
	suite.Require().NoError(b.Backfill(context.Background(), []types.SeriesKey{key}, testStart, now, nil))

	count, err := suite.store.Count(key)
	suite.Require().NoError(err)
	suite.Equal(2, count, "the still-open bar must not be stored")

	// Once the bar has closed, a rerun stores its final values.
	later := testStart.Add(3 * time.Hour)
	b = suite.newBackfiller(&hourlyProvider{now: later})

	suite.Require().NoError(b.Backfill(context.Background(), []types.SeriesKey{key}, testStart, later, nil))

	count, err = suite.store.Count(key)
	suite.Require().NoError(err)
	suite.Equal(3, count)

	var stored []types.Candle
	for c, err := range suite.store.NewReader([]types.SeriesKey{key}, optional.None[time.Time](), optional.None[time.Time]()).Candles(context.Background()) {
		suite.Require().NoError(err)
		stored = append(stored, c)
	}

	suite.Require().Len(stored, 3)
	suite.Equal(105.0, stored[2].Close, "the closed bar carries its final values, not the partial ones")
}

func (suite *BackfillTestSuite) TestBackfillFillsInteriorGap() {
	// First and third hours stored, second hour missing.
	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart, 60))
	suite.Require().NoError(err)
	_, err = suite.store.Merge(makeCandles("BTCUSDT", testStart.Add(2*time.Hour), 60))
	suite.Require().NoError(err)

	p := &fakeProvider{}
	b := suite.newBackfiller(p)

	err = b.Backfill(context.Background(), []types.SeriesKey{suite.key}, testStart, testStart.Add(3*time.Hour), nil)
	suite.Require().NoError(err)

	suite.Require().Len(p.requested, 1)
	suite.Equal(testStart.Add(time.Hour), p.requested[0].start)
	suite.Equal(testStart.Add(2*time.Hour), p.requested[0].end)

	count, err := suite.store.Count(suite.key)
	suite.Require().NoError(err)
	suite.Equal(180, count)
	suite.NoError(suite.store.ValidateContinuity([]types.SeriesKey{suite.key}))
}
