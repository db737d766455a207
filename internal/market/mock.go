package market

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// MockFeed generates random-walk ticks for local development.
type MockFeed struct {
	Symbols    []string
	StartPrice float64
	Step       float64
	Interval   time.Duration
	Log        zerolog.Logger
	Rand       *rand.Rand
}

// Run streams ticks until ctx is cancelled and then closes the channel.
func (m *MockFeed) Run(ctx context.Context) <-chan Tick {
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"R_75"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 1000.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	if m.Rand == nil {
		m.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}

	prices := make(map[string]float64, len(m.Symbols))
	for _, s := range m.Symbols {
		prices[s] = m.StartPrice
	}

	out := make(chan Tick, 64)
	m.Log.Info().Strs("symbols", m.Symbols).Dur("interval", m.Interval).Msg("mock feed started")
	go func() {
		defer close(out)
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, sym := range m.Symbols {
					// simple random walk, floored above zero
					p := prices[sym] + (m.Rand.Float64()*2-1)*m.Step
					if p <= m.Step {
						p = m.Step
					}
					prices[sym] = p
					select {
					case out <- Tick{Symbol: sym, Price: p, Time: now.UTC()}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out
}
