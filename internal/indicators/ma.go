package indicators

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) Value {
	if period <= 0 || len(values) < period {
		return Value{}
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return Defined(sum / float64(period))
}

// EMA is an exponential moving average seeded with the SMA of its first
// period samples.
type EMA struct {
	period int
	alpha  float64
	seed   []float64
	value  Value
}

// NewEMA builds an EMA over period samples.
func NewEMA(period int) *EMA {
	return &EMA{period: period, alpha: 2.0 / float64(period+1), seed: make([]float64, 0, period)}
}

// Update feeds one sample and returns the current reading.
func (e *EMA) Update(x float64) Value {
	if !e.value.Valid {
		e.seed = append(e.seed, x)
		if len(e.seed) == e.period {
			e.value = SMA(e.seed, e.period)
			e.seed = nil
		}
		return e.value
	}
	e.value.V = e.alpha*x + (1-e.alpha)*e.value.V
	return e.value
}

// Value returns the current reading.
func (e *EMA) Value() Value { return e.value }
