package strategy

import (
	"time"

	"synth-core/internal/indicators"
)

// Side is the contract direction.
type Side string

const (
	SideCall Side = "CALL"
	SidePut  Side = "PUT"
)

// Trend is a directional bias.
type Trend int

const (
	TrendNeutral Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "bullish"
	case TrendDown:
		return "bearish"
	default:
		return "neutral"
	}
}

// TrendOf derives the bias from a fast/slow EMA pair; undefined inputs give
// ok=false.
func TrendOf(fast, slow indicators.Value) (Trend, bool) {
	if !fast.Valid || !slow.Valid {
		return TrendNeutral, false
	}
	switch {
	case fast.V > slow.V:
		return TrendUp, true
	case fast.V < slow.V:
		return TrendDown, true
	default:
		return TrendNeutral, true
	}
}

// Components are the unweighted score inputs, each in [0,1].
type Components struct {
	Trend     float64 `json:"trend"`
	RSI       float64 `json:"rsi"`
	Proximity float64 `json:"proximity"`
}

// Signal is one scored directional decision. Never mutated after creation.
type Signal struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"`
	Score      float64    `json:"score"`
	Reasons    []string   `json:"reasons"`
	Components Components `json:"components"`

	Price      float64 `json:"price"`
	RSI        float64 `json:"rsi"`
	ATR        float64 `json:"atr"`
	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`
	Support    float64 `json:"support"`
	Resistance float64 `json:"resistance"`
	// LevelCandles is how many candles the S/R levels were computed from.
	LevelCandles int `json:"level_candles"`

	HTF        Trend `json:"-"`
	HTFDefined bool  `json:"htf_defined"`

	CandleStart time.Time `json:"candle_start"`
	CreatedAt   time.Time `json:"created_at"`
}

// Fields flattens the signal for event payloads.
func (s Signal) Fields() map[string]any {
	return map[string]any{
		"signal_id":  s.ID,
		"side":       string(s.Side),
		"score":      s.Score,
		"reasons":    s.Reasons,
		"price":      s.Price,
		"rsi":        s.RSI,
		"atr":        s.ATR,
		"support":    s.Support,
		"resistance": s.Resistance,
		"htf":        s.HTF.String(),
	}
}

// Strategy turns an indicator snapshot plus context into at most one signal.
type Strategy interface {
	Name() string
	Evaluate(in Input) *Signal
}

// Input is everything a strategy sees for one closed candle.
type Input struct {
	Snapshot   indicators.Snapshot
	PrevRSI    indicators.Value
	Levels     Levels
	HTF        Trend
	HTFDefined bool
}
