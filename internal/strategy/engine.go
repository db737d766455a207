package strategy

import (
	"time"

	"github.com/google/uuid"

	"synth-core/internal/indicators"
	"synth-core/internal/market"
	"synth-core/pkg/config"
)

// Config bundles what the strategy engine needs per symbol.
type Config struct {
	Strategy    config.StrategyConfig
	HTFInterval time.Duration
	HTFPeriods  indicators.Periods
}

type symbolState struct {
	levels  *LevelTracker
	htf     *HigherTimeframe
	prevRSI indicators.Value
}

// Engine evaluates one strategy across symbols. Each symbol keeps its own
// S/R tracker, HTF pipeline and previous RSI.
// Not safe for concurrent use; the pipeline goroutine owns it.
type Engine struct {
	cfg      Config
	strategy Strategy
	symbols  map[string]*symbolState
	now      func() time.Time
}

// NewEngine builds an engine running s.
func NewEngine(cfg Config, s Strategy) *Engine {
	return &Engine{cfg: cfg, strategy: s, symbols: make(map[string]*symbolState), now: time.Now}
}

func (e *Engine) state(symbol string) *symbolState {
	st, ok := e.symbols[symbol]
	if !ok {
		st = &symbolState{
			levels: NewLevelTracker(e.cfg.Strategy.Lookback),
			htf:    NewHigherTimeframe(symbol, e.cfg.HTFInterval, e.cfg.HTFPeriods),
		}
		e.symbols[symbol] = st
	}
	return st
}

// OnTick feeds the symbol's higher-timeframe pipeline.
func (e *Engine) OnTick(t market.Tick) error {
	return e.state(t.Symbol).htf.OnTick(t)
}

// SeedHTF feeds a closed historical higher-timeframe candle.
func (e *Engine) SeedHTF(c market.Candle) error {
	return e.state(c.Symbol).htf.Seed(c)
}

// OnCandle refreshes S/R with the closed candle and evaluates the strategy
// on its snapshot. Synthetic candles update state but never signal.
func (e *Engine) OnCandle(c market.Candle, snap indicators.Snapshot) *Signal {
	st := e.state(c.Symbol)
	levels := st.levels.Update(c)
	prev := st.prevRSI
	st.prevRSI = snap.RSI

	if c.Synthetic {
		return nil
	}
	htf, htfOK := st.htf.Trend()
	sig := e.strategy.Evaluate(Input{
		Snapshot:   snap,
		PrevRSI:    prev,
		Levels:     levels,
		HTF:        htf,
		HTFDefined: htfOK,
	})
	if sig == nil {
		return nil
	}
	sig.ID = uuid.NewString()
	sig.CreatedAt = e.now()
	return sig
}

// HTF returns the symbol's higher-timeframe bias.
func (e *Engine) HTF(symbol string) (Trend, bool) {
	return e.state(symbol).htf.Trend()
}

// Levels returns the symbol's current S/R levels.
func (e *Engine) Levels(symbol string) Levels {
	return e.state(symbol).levels.Levels()
}
