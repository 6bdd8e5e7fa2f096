package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Candle is one OHLCV bar for a symbol at a timeframe. OpenTime identifies
// the bar; two candles with the same (symbol, timeframe, open time) are the
// same bar.
type Candle struct {
	Symbol    string    `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Timeframe string    `yaml:"timeframe" json:"timeframe" csv:"timeframe" validate:"required"`
	OpenTime  time.Time `yaml:"open_time" json:"open_time" csv:"open_time" validate:"required"`
	Open      float64   `yaml:"open" json:"open" csv:"open" validate:"gt=0"`
	High      float64   `yaml:"high" json:"high" csv:"high" validate:"gt=0"`
	Low       float64   `yaml:"low" json:"low" csv:"low" validate:"gt=0"`
	Close     float64   `yaml:"close" json:"close" csv:"close" validate:"gt=0"`
	Volume    float64   `yaml:"volume" json:"volume" csv:"volume" validate:"gte=0"`
}

// Validate checks field presence and OHLC consistency.
func (c *Candle) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidCandle, "invalid candle", err)
	}

	if c.High < c.Low {
		return errors.Newf(errors.ErrCodeInvalidCandle, "high %f below low %f for %s at %s", c.High, c.Low, c.Symbol, c.OpenTime)
	}

	if c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return errors.Newf(errors.ErrCodeInvalidCandle, "open/close outside high-low range for %s at %s", c.Symbol, c.OpenTime)
	}

	if _, err := ParseTimeframe(c.Timeframe); err != nil {
		return err
	}

	return nil
}

// CloseTime returns the exclusive end of the bar.
func (c *Candle) CloseTime() time.Time {
	d, err := ParseTimeframe(c.Timeframe)
	if err != nil {
		return c.OpenTime
	}

	return c.OpenTime.Add(d)
}

// ParseTimeframe converts an exchange-style interval string (1m, 5m, 1h, 4h, 1d)
// into a duration.
func ParseTimeframe(timeframe string) (time.Duration, error) {
	if len(timeframe) < 2 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "invalid timeframe %q", timeframe)
	}

	unit := timeframe[len(timeframe)-1:]

	multiplier, err := strconv.Atoi(strings.TrimSuffix(timeframe, unit))
	if err != nil || multiplier <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "invalid timeframe %q", timeframe)
	}

	switch unit {
	case "s":
		return time.Duration(multiplier) * time.Second, nil
	case "m":
		return time.Duration(multiplier) * time.Minute, nil
	case "h":
		return time.Duration(multiplier) * time.Hour, nil
	case "d":
		return time.Duration(multiplier) * 24 * time.Hour, nil
	case "w":
		return time.Duration(multiplier) * 7 * 24 * time.Hour, nil
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "invalid timeframe unit %q", unit)
	}
}

// SeriesKey identifies a candle series.
type SeriesKey struct {
	Symbol    string
	Timeframe string
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s@%s", k.Symbol, k.Timeframe)
}
