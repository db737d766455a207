package indicators

import (
	"time"

	"synth-core/internal/market"
)

// Periods configures the indicator windows.
type Periods struct {
	EMAFast int
	EMASlow int
	RSI     int
	ATR     int
}

// Snapshot is the indicator state after one closed candle.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	EMAFast   Value     `json:"ema_fast"`
	EMASlow   Value     `json:"ema_slow"`
	RSI       Value     `json:"rsi"`
	ATR       Value     `json:"atr"`
	AsOf      time.Time `json:"as_of"`
	Candles   int       `json:"candles"`
	Synthetic bool      `json:"synthetic"`
}

// Ready reports whether every indicator is defined.
func (s Snapshot) Ready() bool {
	return s.EMAFast.Valid && s.EMASlow.Valid && s.RSI.Valid && s.ATR.Valid
}

// Engine maintains one symbol's rolling indicators on one timeframe.
// Not safe for concurrent use; the pipeline goroutine owns it.
type Engine struct {
	symbol  string
	emaFast *EMA
	emaSlow *EMA
	rsi     *RSI
	atr     *ATR
	count   int
	last    Snapshot
}

// NewEngine builds an indicator engine for symbol.
func NewEngine(symbol string, p Periods) *Engine {
	return &Engine{
		symbol:  symbol,
		emaFast: NewEMA(p.EMAFast),
		emaSlow: NewEMA(p.EMASlow),
		rsi:     NewRSI(p.RSI),
		atr:     NewATR(p.ATR),
		last:    Snapshot{Symbol: symbol},
	}
}

// Update ingests a closed candle and returns the new snapshot.
func (e *Engine) Update(c market.Candle) Snapshot {
	e.count++
	e.last = Snapshot{
		Symbol:    e.symbol,
		Close:     c.Close,
		High:      c.High,
		Low:       c.Low,
		EMAFast:   e.emaFast.Update(c.Close),
		EMASlow:   e.emaSlow.Update(c.Close),
		RSI:       e.rsi.Update(c.Close),
		ATR:       e.atr.Update(c.High, c.Low, c.Close),
		AsOf:      c.Start,
		Candles:   e.count,
		Synthetic: c.Synthetic,
	}
	return e.last
}

// Last returns the most recent snapshot.
func (e *Engine) Last() Snapshot { return e.last }
