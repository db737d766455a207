package indicators

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"synth-core/internal/market"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSMA(t *testing.T) {
	if v := SMA([]float64{1, 2, 3, 4}, 2); !v.Valid || v.V != 3.5 {
		t.Fatalf("SMA=%v, expected 3.5", v)
	}
	if v := SMA([]float64{1}, 2); v.Valid {
		t.Fatalf("SMA on short input must be undefined")
	}
}

func TestEMASeededBySMA(t *testing.T) {
	e := NewEMA(3)
	want := []Value{{}, {}, Defined(2), Defined(3), Defined(4)}
	for i, x := range []float64{1, 2, 3, 4, 5} {
		got := e.Update(x)
		if got.Valid != want[i].Valid || !approx(got.V, want[i].V) {
			t.Fatalf("step %d: got %v, expected %v", i, got, want[i])
		}
	}
}

func TestRSIWilder(t *testing.T) {
	r := NewRSI(2)
	tests := []struct {
		close float64
		want  Value
	}{
		{1, Value{}},
		{2, Value{}},
		{3, Defined(100)},
		{2, Defined(50)},
	}
	for i, tt := range tests {
		got := r.Update(tt.close)
		if got.Valid != tt.want.Valid || !approx(got.V, tt.want.V) {
			t.Fatalf("step %d: got %v, expected %v", i, got, tt.want)
		}
	}
}

func TestRSIFlatIsNeutral(t *testing.T) {
	r := NewRSI(3)
	var v Value
	for i := 0; i < 6; i++ {
		v = r.Update(10)
	}
	if !v.Valid || v.V != 50 {
		t.Fatalf("flat series RSI=%v, expected 50", v)
	}
}

func TestRSIBounded(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	r := NewRSI(14)
	price := 100.0
	for i := 0; i < 2000; i++ {
		price += (rng.Float64()*2 - 1) * 3
		v := r.Update(price)
		if v.Valid && (v.V < 0 || v.V > 100 || math.IsNaN(v.V)) {
			t.Fatalf("RSI out of range at %d: %v", i, v.V)
		}
	}
}

func TestATRWilder(t *testing.T) {
	a := NewATR(2)
	candles := [][3]float64{{2, 1, 1.5}, {3, 2, 2.5}, {2.5, 1, 2}}
	want := []Value{{}, Defined(1.25), Defined(1.375)}
	for i, c := range candles {
		got := a.Update(c[0], c[1], c[2])
		if got.Valid != want[i].Valid || !approx(got.V, want[i].V) {
			t.Fatalf("step %d: got %v, expected %v", i, got, want[i])
		}
	}
}

func TestEngineWarmUp(t *testing.T) {
	e := NewEngine("R_75", Periods{EMAFast: 3, EMASlow: 5, RSI: 4, ATR: 3})
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		px := 100 + float64(i)
		s := e.Update(market.Candle{Symbol: "R_75", Open: px, High: px + 1, Low: px - 1, Close: px, Start: start.Add(time.Duration(i) * time.Minute)})
		n := i + 1
		if s.EMAFast.Valid != (n >= 3) || s.EMASlow.Valid != (n >= 5) || s.ATR.Valid != (n >= 3) || s.RSI.Valid != (n >= 5) {
			t.Fatalf("candle %d: unexpected validity %+v", n, s)
		}
		if s.Ready() != (n >= 5) {
			t.Fatalf("candle %d: Ready=%v", n, s.Ready())
		}
		if s.Candles != n {
			t.Fatalf("candle count=%d, expected %d", s.Candles, n)
		}
	}
	if e.Last().Close != 105 {
		t.Fatalf("Last not updated")
	}
}

func TestValueJSON(t *testing.T) {
	b, _ := json.Marshal(struct {
		A Value `json:"a"`
		B Value `json:"b"`
	}{A: Defined(1.5)})
	if string(b) != `{"a":1.5,"b":null}` {
		t.Fatalf("unexpected json %s", b)
	}
}
