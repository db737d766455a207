package indicators

// RSI is Wilder's relative strength index. The first reading is defined once
// period price changes have been observed.
type RSI struct {
	period  int
	prev    float64
	hasPrev bool
	n       int
	avgGain float64
	avgLoss float64
	value   Value
}

// NewRSI builds an RSI over period changes.
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

// Update feeds one close and returns the current reading.
func (r *RSI) Update(close float64) Value {
	if !r.hasPrev {
		r.prev, r.hasPrev = close, true
		return r.value
	}
	change := close - r.prev
	r.prev = close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	p := float64(r.period)
	r.n++
	switch {
	case r.n < r.period:
		r.avgGain += gain
		r.avgLoss += loss
		return r.value
	case r.n == r.period:
		r.avgGain = (r.avgGain + gain) / p
		r.avgLoss = (r.avgLoss + loss) / p
	default:
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}

	r.value = Defined(rsiFromAverages(r.avgGain, r.avgLoss))
	return r.value
}

// Value returns the current reading.
func (r *RSI) Value() Value { return r.value }

func rsiFromAverages(gain, loss float64) float64 {
	var v float64
	switch {
	case gain == 0 && loss == 0:
		v = 50
	case loss == 0:
		v = 100
	default:
		v = 100 - 100/(1+gain/loss)
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
