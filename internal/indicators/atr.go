package indicators

import "math"

// ATR is Wilder's average true range, seeded with the mean of the first
// period true ranges.
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool
	n         int
	sum       float64
	value     Value
}

// NewATR builds an ATR over period candles.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// Update feeds one candle and returns the current reading.
func (a *ATR) Update(high, low, close float64) Value {
	tr := high - low
	if a.hasPrev {
		tr = TrueRange(high, low, a.prevClose)
	}
	a.prevClose, a.hasPrev = close, true

	p := float64(a.period)
	a.n++
	switch {
	case a.n < a.period:
		a.sum += tr
	case a.n == a.period:
		a.value = Defined((a.sum + tr) / p)
	default:
		a.value.V = (a.value.V*(p-1) + tr) / p
	}
	return a.value
}

// Value returns the current reading.
func (a *ATR) Value() Value { return a.value }
