// Package data loads historical candles for indicator warm-up.
package data

import (
	"context"
	"fmt"
	"time"

	"synth-core/internal/market"
	"synth-core/pkg/deriv"
)

// CandleSource is the venue's candle history endpoint.
type CandleSource interface {
	CandleHistory(ctx context.Context, symbol string, granularity, count int) ([]deriv.Candle, error)
}

// HistoricalDataService fetches completed candles for warm-up.
type HistoricalDataService struct {
	source CandleSource
	now    func() time.Time
}

// NewHistoricalDataService creates a new service instance.
func NewHistoricalDataService(source CandleSource) *HistoricalDataService {
	return &HistoricalDataService{source: source, now: time.Now}
}

// GetCandles returns up to limit completed candles for symbol at interval,
// oldest first. The still-forming candle is excluded so live ticks can
// continue it without a duplicate interval.
func (s *HistoricalDataService) GetCandles(ctx context.Context, symbol string, interval time.Duration, limit int) ([]market.Candle, error) {
	gran := int(interval / time.Second)
	if gran <= 0 {
		return nil, fmt.Errorf("interval %s below one second", interval)
	}
	raw, err := s.source.CandleHistory(ctx, symbol, gran, limit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]market.Candle, 0, len(raw))
	for _, k := range raw {
		start := time.Unix(k.Epoch, 0).UTC()
		end := start.Add(interval)
		if end.After(now) {
			continue
		}
		out = append(out, market.Candle{
			Symbol: symbol,
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Start:  start,
			End:    end,
			Closed: true,
		})
	}
	return out, nil
}
