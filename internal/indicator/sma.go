// Package indicator provides streaming technical indicators. Each one
// updates from closed candles, one value at a time, and reports Ready
// once it has seen a full warmup window. Calculators keep no symbol
// state; callers hold one instance per series.
package indicator

// SMA is a simple moving average over a fixed window.
type SMA struct {
	period int
	window []float64
	sum    float64
}

func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		window: make([]float64, 0, period),
	}
}

// Update pushes the next value into the window.
func (s *SMA) Update(value float64) {
	s.window = append(s.window, value)
	s.sum += value

	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
}

// Ready reports whether a full window has been seen.
func (s *SMA) Ready() bool {
	return len(s.window) == s.period
}

// Value returns the current average. Only meaningful once Ready.
func (s *SMA) Value() float64 {
	if len(s.window) == 0 {
		return 0
	}

	return s.sum / float64(len(s.window))
}
