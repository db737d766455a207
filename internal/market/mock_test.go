package market

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMockFeedEmitsPositiveTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MockFeed{
		Symbols:    []string{"R_75", "R_100"},
		StartPrice: 1,
		Step:       0.5,
		Interval:   time.Millisecond,
		Log:        zerolog.Nop(),
		Rand:       rand.New(rand.NewPCG(1, 2)),
	}
	ch := m.Run(ctx)

	seen := map[string]int{}
	for i := 0; i < 20; i++ {
		tk := <-ch
		if tk.Price <= 0 {
			t.Fatalf("non-positive price: %+v", tk)
		}
		seen[tk.Symbol]++
	}
	cancel()
	for range ch {
	}
	if seen["R_75"] == 0 || seen["R_100"] == 0 {
		t.Fatalf("expected ticks for both symbols, got %v", seen)
	}
}
