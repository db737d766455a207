package strategy

import "synth-core/internal/market"

// Levels are support/resistance as local extrema over the lookback window.
type Levels struct {
	Support    float64
	Resistance float64
	Candles    int
}

// Defined reports whether any candle contributed.
func (l Levels) Defined() bool { return l.Candles > 0 }

// LevelTracker keeps the last lookback candles' highs and lows.
type LevelTracker struct {
	lookback int
	highs    []float64
	lows     []float64
	next     int
	filled   int
}

// NewLevelTracker builds a tracker over lookback candles.
func NewLevelTracker(lookback int) *LevelTracker {
	if lookback < 1 {
		lookback = 1
	}
	return &LevelTracker{
		lookback: lookback,
		highs:    make([]float64, lookback),
		lows:     make([]float64, lookback),
	}
}

// Update adds a closed candle and returns the refreshed levels.
func (t *LevelTracker) Update(c market.Candle) Levels {
	t.highs[t.next] = c.High
	t.lows[t.next] = c.Low
	t.next = (t.next + 1) % t.lookback
	if t.filled < t.lookback {
		t.filled++
	}
	return t.Levels()
}

// Levels returns the current extrema.
func (t *LevelTracker) Levels() Levels {
	if t.filled == 0 {
		return Levels{}
	}
	l := Levels{Support: t.lows[0], Resistance: t.highs[0], Candles: t.filled}
	for i := 1; i < t.filled; i++ {
		if t.lows[i] < l.Support {
			l.Support = t.lows[i]
		}
		if t.highs[i] > l.Resistance {
			l.Resistance = t.highs[i]
		}
	}
	return l
}
