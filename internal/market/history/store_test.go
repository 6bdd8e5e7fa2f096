package history

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

type StoreTestSuite struct {
	suite.Suite
	store *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	store, err := NewStore("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *StoreTestSuite) TearDownTest() {
	suite.store.Close()
}

func makeCandles(symbol string, start time.Time, count int) []types.Candle {
	candles := make([]types.Candle, 0, count)

	for i := 0; i < count; i++ {
		price := 100.0 + float64(i)
		candles = append(candles, types.Candle{
			Symbol:    symbol,
			Timeframe: "1m",
			OpenTime:  start.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    10,
		})
	}

	return candles
}

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func (suite *StoreTestSuite) TestMergeIsIdempotent() {
	candles := makeCandles("BTCUSDT", testStart, 10)

	inserted, err := suite.store.Merge(candles)
	suite.Require().NoError(err)
	suite.Equal(10, inserted)

	// Second merge of the same bars inserts nothing.
	inserted, err = suite.store.Merge(candles)
	suite.Require().NoError(err)
	suite.Zero(inserted)

	count, err := suite.store.Count(types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1m"})
	suite.Require().NoError(err)
	suite.Equal(10, count)
}

func (suite *StoreTestSuite) TestMergeOverlappingWindow() {
	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart, 10))
	suite.Require().NoError(err)

	// Overlaps bars 5-9, adds 10-14.
	inserted, err := suite.store.Merge(makeCandles("BTCUSDT", testStart.Add(5*time.Minute), 10))
	suite.Require().NoError(err)
	suite.Equal(5, inserted)
}

func (suite *StoreTestSuite) TestMergeRejectsInvalidCandle() {
	bad := makeCandles("BTCUSDT", testStart, 1)
	bad[0].High = bad[0].Low - 1

	_, err := suite.store.Merge(bad)
	suite.Error(err)
	suite.Equal(errors.ErrCodeInvalidCandle, errors.GetCode(err))
}

func (suite *StoreTestSuite) TestExtent() {
	key := types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1m"}

	first, last, err := suite.store.Extent(key)
	suite.Require().NoError(err)
	suite.True(first.IsNone())
	suite.True(last.IsNone())

	_, err = suite.store.Merge(makeCandles("BTCUSDT", testStart, 5))
	suite.Require().NoError(err)

	first, last, err = suite.store.Extent(key)
	suite.Require().NoError(err)
	suite.Equal(testStart, first.Unwrap())
	suite.Equal(testStart.Add(4*time.Minute), last.Unwrap())
}

func (suite *StoreTestSuite) TestGapsDetection() {
	key := types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1m"}

	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart, 5))
	suite.Require().NoError(err)

	// Leave a 3-bar hole before the next block.
	_, err = suite.store.Merge(makeCandles("BTCUSDT", testStart.Add(8*time.Minute), 5))
	suite.Require().NoError(err)

	gaps, err := suite.store.Gaps(key)
	suite.Require().NoError(err)
	suite.Require().Len(gaps, 1)
	suite.Equal(testStart.Add(4*time.Minute), gaps[0].After)
	suite.Equal(testStart.Add(8*time.Minute), gaps[0].Before)

	err = suite.store.ValidateContinuity([]types.SeriesKey{key})
	suite.Error(err)
	suite.Equal(errors.ErrCodeDataGap, errors.GetCode(err))
}

func (suite *StoreTestSuite) TestContinuousSeriesPassesValidation() {
	key := types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1m"}

	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart, 20))
	suite.Require().NoError(err)

	suite.NoError(suite.store.ValidateContinuity([]types.SeriesKey{key}))
}

func (suite *StoreTestSuite) TestReaderOrdersAndBounds() {
	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart, 10))
	suite.Require().NoError(err)
	_, err = suite.store.Merge(makeCandles("ETHUSDT", testStart, 10))
	suite.Require().NoError(err)

	keys := []types.SeriesKey{
		{Symbol: "BTCUSDT", Timeframe: "1m"},
		{Symbol: "ETHUSDT", Timeframe: "1m"},
	}

	reader := suite.store.NewReader(keys,
		optional.Some(testStart.Add(2*time.Minute)),
		optional.Some(testStart.Add(5*time.Minute)))

	var got []types.Candle

	for candle, err := range reader.Candles(context.Background()) {
		suite.Require().NoError(err)

		got = append(got, candle)
	}

	// 4 bars per symbol within the bounds, interleaved by open time.
	suite.Require().Len(got, 8)

	for i := 1; i < len(got); i++ {
		suite.False(got[i].OpenTime.Before(got[i-1].OpenTime))
	}

	suite.Equal("BTCUSDT", got[0].Symbol)
	suite.Equal("ETHUSDT", got[1].Symbol)
	suite.Equal(got[0].OpenTime, got[1].OpenTime)
}

func (suite *StoreTestSuite) TestParquetRoundTrip() {
	dir := suite.T().TempDir()
	path := dir + "/candles.parquet"

	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart, 10))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.store.ExportParquet(path))

	other, err := NewStore("", logger.NewNopLogger())
	suite.Require().NoError(err)

	defer other.Close()

	suite.Require().NoError(other.ImportParquet(path))

	count, err := other.Count(types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1m"})
	suite.Require().NoError(err)
	suite.Equal(10, count)

	// Import is idempotent like Merge.
	suite.Require().NoError(other.ImportParquet(path))

	count, err = other.Count(types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1m"})
	suite.Require().NoError(err)
	suite.Equal(10, count)
}

func (suite *StoreTestSuite) TestParquetPathWithQuote() {
	path := suite.T().TempDir() + "/trader's candles.parquet"

	_, err := suite.store.Merge(makeCandles("BTCUSDT", testStart, 3))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.store.ExportParquet(path))

	other, err := NewStore("", logger.NewNopLogger())
	suite.Require().NoError(err)

	defer other.Close()

	suite.Require().NoError(other.ImportParquet(path))

	count, err := other.Count(types.SeriesKey{Symbol: "BTCUSDT", Timeframe: "1m"})
	suite.Require().NoError(err)
	suite.Equal(3, count)
}
