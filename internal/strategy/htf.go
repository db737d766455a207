package strategy

import (
	"time"

	"synth-core/internal/indicators"
	"synth-core/internal/market"
)

// HigherTimeframe is an independent aggregator/indicator pair on a larger
// interval, fed the same ticks as the base timeframe.
type HigherTimeframe struct {
	agg *market.Aggregator
	ind *indicators.Engine
}

// NewHigherTimeframe builds the HTF pipeline for symbol.
func NewHigherTimeframe(symbol string, interval time.Duration, p indicators.Periods) *HigherTimeframe {
	return &HigherTimeframe{
		agg: market.NewAggregator(symbol, interval),
		ind: indicators.NewEngine(symbol, p),
	}
}

// OnTick feeds a tick; closed HTF candles update the HTF indicators.
func (h *HigherTimeframe) OnTick(t market.Tick) error {
	closed, err := h.agg.Add(t)
	if err != nil {
		return err
	}
	for _, c := range closed {
		h.ind.Update(c)
	}
	return nil
}

// Seed feeds a closed historical candle.
func (h *HigherTimeframe) Seed(c market.Candle) error {
	closed, err := h.agg.Seed(c)
	if err != nil {
		return err
	}
	for _, cc := range closed {
		h.ind.Update(cc)
	}
	return nil
}

// Trend returns the HTF bias; ok is false until both HTF EMAs are defined.
func (h *HigherTimeframe) Trend() (Trend, bool) {
	s := h.ind.Last()
	return TrendOf(s.EMAFast, s.EMASlow)
}

// Snapshot returns the latest HTF indicator snapshot.
func (h *HigherTimeframe) Snapshot() indicators.Snapshot { return h.ind.Last() }
