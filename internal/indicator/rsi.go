package indicator

// RSI is Wilder's relative strength index: a simple average of gains and
// losses over the first period, exponential smoothing with alpha
// 1/period after that.
type RSI struct {
	period  int
	prev    float64
	avgGain float64
	avgLoss float64
	samples int
	seeded  bool
	warmed  bool
}

func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Update pushes the next close price.
func (r *RSI) Update(closePrice float64) {
	if !r.seeded {
		r.seeded = true
		r.prev = closePrice

		return
	}

	change := closePrice - r.prev
	r.prev = closePrice

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if r.samples < r.period {
		r.avgGain += gain / float64(r.period)
		r.avgLoss += loss / float64(r.period)
		r.samples++

		return
	}

	alpha := 1.0 / float64(r.period)
	r.avgGain = r.avgGain*(1-alpha) + gain*alpha
	r.avgLoss = r.avgLoss*(1-alpha) + loss*alpha
	r.warmed = true
}

// Ready reports whether the warmup window has passed and smoothing has
// begun.
func (r *RSI) Ready() bool {
	return r.warmed
}

// Value returns the RSI in [0, 100]. Only meaningful once Ready. A
// series without losses reads 100.
func (r *RSI) Value() float64 {
	if r.avgLoss == 0 {
		return 100
	}

	rs := r.avgGain / r.avgLoss

	return 100 - 100/(1+rs)
}
