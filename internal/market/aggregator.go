package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfOrder marks a tick that belongs to an already closed window.
	ErrOutOfOrder = errors.New("market: out-of-order input")
	// ErrDuplicateInterval marks a closed candle for an interval already emitted.
	ErrDuplicateInterval = errors.New("market: duplicate interval")
	// ErrWrongSymbol marks input for another symbol.
	ErrWrongSymbol = errors.New("market: wrong symbol")
)

// Aggregator buckets one symbol's ticks into fixed windows. Closed candles
// come out strictly in interval order; windows without ticks are emitted as
// flat synthetic candles carrying the prior close.
// Not safe for concurrent use; the pipeline goroutine owns it.
type Aggregator struct {
	symbol   string
	interval time.Duration

	cur       *Candle
	lastEnd   time.Time
	lastClose float64
	hasLast   bool
}

// NewAggregator builds an aggregator for symbol with the given window length.
func NewAggregator(symbol string, interval time.Duration) *Aggregator {
	return &Aggregator{symbol: symbol, interval: interval}
}

// Add applies a tick and returns every candle closed by it, oldest first.
func (a *Aggregator) Add(t Tick) ([]Candle, error) {
	if t.Symbol != a.symbol {
		return nil, fmt.Errorf("%w: %s", ErrWrongSymbol, t.Symbol)
	}
	start := t.Time.Truncate(a.interval)

	var closed []Candle
	if a.cur != nil {
		switch {
		case start.Before(a.cur.Start):
			return nil, fmt.Errorf("%w: tick %s before window %s", ErrOutOfOrder, t.Time.Format(time.RFC3339), a.cur.Start.Format(time.RFC3339))
		case start.Equal(a.cur.Start):
			a.cur.apply(t.Price)
			return nil, nil
		}
		closed = append(closed, a.closeCurrent())
	} else if a.hasLast && start.Before(a.lastEnd) {
		return nil, fmt.Errorf("%w: tick %s before %s", ErrOutOfOrder, t.Time.Format(time.RFC3339), a.lastEnd.Format(time.RFC3339))
	}

	closed = append(closed, a.fill(start)...)
	a.cur = &Candle{
		Symbol: a.symbol,
		Open:   t.Price,
		High:   t.Price,
		Low:    t.Price,
		Close:  t.Price,
		Start:  start,
		End:    start.Add(a.interval),
		Ticks:  1,
	}
	return closed, nil
}

// Seed accepts an already closed candle (history warm-up). Gaps before it
// are filled like live gaps.
func (a *Aggregator) Seed(c Candle) ([]Candle, error) {
	if c.Symbol != a.symbol {
		return nil, fmt.Errorf("%w: %s", ErrWrongSymbol, c.Symbol)
	}
	if a.cur != nil || (a.hasLast && c.Start.Before(a.lastEnd)) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInterval, c.Start.Format(time.RFC3339))
	}
	c.Start = c.Start.Truncate(a.interval)
	c.End = c.Start.Add(a.interval)
	c.Closed = true

	out := a.fill(c.Start)
	a.emit(c)
	return append(out, c), nil
}

// Current returns the open candle, if any.
func (a *Aggregator) Current() (Candle, bool) {
	if a.cur == nil {
		return Candle{}, false
	}
	return *a.cur, true
}

func (a *Aggregator) closeCurrent() Candle {
	c := *a.cur
	c.Closed = true
	a.cur = nil
	a.emit(c)
	return c
}

// fill emits synthetic candles for every empty window in [lastEnd, upTo).
func (a *Aggregator) fill(upTo time.Time) []Candle {
	if !a.hasLast {
		return nil
	}
	var out []Candle
	for s := a.lastEnd; s.Before(upTo); s = s.Add(a.interval) {
		c := Candle{
			Symbol:    a.symbol,
			Open:      a.lastClose,
			High:      a.lastClose,
			Low:       a.lastClose,
			Close:     a.lastClose,
			Start:     s,
			End:       s.Add(a.interval),
			Closed:    true,
			Synthetic: true,
		}
		a.emit(c)
		out = append(out, c)
	}
	return out
}

func (a *Aggregator) emit(c Candle) {
	a.lastEnd = c.End
	a.lastClose = c.Close
	a.hasLast = true
}
