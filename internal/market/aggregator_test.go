package market

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func tick(sec int, price float64) Tick {
	return Tick{Symbol: "R_75", Price: price, Time: t0.Add(time.Duration(sec) * time.Second)}
}

func feed(t *testing.T, a *Aggregator, ticks ...Tick) []Candle {
	t.Helper()
	var out []Candle
	for _, tk := range ticks {
		closed, err := a.Add(tk)
		if err != nil {
			t.Fatalf("Add(%v): %v", tk.Time, err)
		}
		out = append(out, closed...)
	}
	return out
}

func TestAggregatorOHLC(t *testing.T) {
	a := NewAggregator("R_75", time.Minute)
	out := feed(t, a, tick(1, 100), tick(10, 103), tick(20, 98), tick(59, 101), tick(60, 102))

	if len(out) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(out))
	}
	c := out[0]
	if c.Open != 100 || c.High != 103 || c.Low != 98 || c.Close != 101 {
		t.Fatalf("unexpected OHLC: %+v", c)
	}
	if !c.Closed || c.Synthetic || c.Ticks != 4 {
		t.Fatalf("unexpected flags: %+v", c)
	}
	if !c.Start.Equal(t0) || !c.End.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected window: %v-%v", c.Start, c.End)
	}
	cur, ok := a.Current()
	if !ok || cur.Open != 102 || cur.Closed {
		t.Fatalf("unexpected open candle: %+v", cur)
	}
}

func TestAggregatorGapEmitsOneSyntheticCandle(t *testing.T) {
	a := NewAggregator("R_75", time.Minute)
	// ticks stop at 10:00:30 and resume at 10:02:00 (90s outage)
	out := feed(t, a, tick(0, 100), tick(30, 101.5), tick(120, 99))

	if len(out) != 2 {
		t.Fatalf("expected real + synthetic candle, got %d", len(out))
	}
	first, syn := out[0], out[1]
	if first.Synthetic || first.Close != 101.5 {
		t.Fatalf("unexpected real candle: %+v", first)
	}
	if !syn.Synthetic || !syn.Start.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected synthetic candle: %+v", syn)
	}
	if syn.Open != 101.5 || syn.High != 101.5 || syn.Low != 101.5 || syn.Close != 101.5 {
		t.Fatalf("synthetic candle not flat at prior close: %+v", syn)
	}
	if !first.End.Equal(syn.Start) {
		t.Fatalf("gap in interval sequence")
	}
	cur, _ := a.Current()
	if !cur.Start.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("new window should open at 10:02, got %v", cur.Start)
	}

	more := feed(t, a, tick(150, 98), tick(180, 97))
	if len(more) != 1 || more[0].Synthetic || !more[0].Start.Equal(syn.End) {
		t.Fatalf("expected the 10:02 candle next, got %+v", more)
	}
}

func TestAggregatorDropsOutOfOrder(t *testing.T) {
	a := NewAggregator("R_75", time.Minute)
	feed(t, a, tick(5, 100), tick(65, 101))

	closed, err := a.Add(tick(30, 50))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
	if closed != nil {
		t.Fatalf("dropped tick must not close candles")
	}
	cur, _ := a.Current()
	if cur.Low != 101 {
		t.Fatalf("dropped tick was applied: %+v", cur)
	}

	if _, err := a.Add(Tick{Symbol: "R_100", Price: 1, Time: t0}); !errors.Is(err, ErrWrongSymbol) {
		t.Fatalf("expected ErrWrongSymbol, got %v", err)
	}
}

func TestAggregatorSeed(t *testing.T) {
	a := NewAggregator("R_75", time.Minute)
	hist := []Candle{
		{Symbol: "R_75", Open: 1, High: 2, Low: 1, Close: 2, Start: t0},
		{Symbol: "R_75", Open: 2, High: 3, Low: 2, Close: 3, Start: t0.Add(2 * time.Minute)},
	}
	var out []Candle
	for _, c := range hist {
		got, err := a.Seed(c)
		if err != nil {
			t.Fatalf("Seed: %v", err)
		}
		out = append(out, got...)
	}
	if len(out) != 3 || !out[1].Synthetic || out[1].Close != 2 {
		t.Fatalf("expected seeded gap filled, got %+v", out)
	}

	if _, err := a.Seed(hist[0]); !errors.Is(err, ErrDuplicateInterval) {
		t.Fatalf("expected ErrDuplicateInterval, got %v", err)
	}
	if _, err := a.Add(tick(150, 9)); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("tick inside seeded window must be dropped, got %v", err)
	}
	if got := feed(t, a, tick(180, 4)); len(got) != 0 {
		t.Fatalf("first live tick after seed should open a window, got %+v", got)
	}
}

func TestAggregatorInvariantHighLow(t *testing.T) {
	a := NewAggregator("R_75", time.Minute)
	prices := []float64{5, 3, 8, 1, 6, 7, 2, 9, 4}
	var ticks []Tick
	for i, p := range prices {
		ticks = append(ticks, tick(i*20, p))
	}
	ticks = append(ticks, tick(600, 1))
	for _, c := range feed(t, a, ticks...) {
		if c.High < c.Open || c.High < c.Close || c.Low > c.Open || c.Low > c.Close {
			t.Fatalf("invariant violated: %+v", c)
		}
	}
}

func TestAggregatorDeterministic(t *testing.T) {
	run := func() []Candle {
		a := NewAggregator("R_75", time.Minute)
		return feed(t, a, tick(0, 1), tick(70, 2), tick(200, 3), tick(205, 2.5), tick(400, 4))
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("length differs")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("candle %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}
