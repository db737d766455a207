package strategy

import (
	"fmt"
	"math"

	"synth-core/pkg/config"
)

// TrendPullback buys pullbacks to support in an uptrend and sells rallies
// to resistance in a downtrend, timed by RSI leaving its pullback band.
type TrendPullback struct {
	cfg config.StrategyConfig
}

// NewTrendPullback builds the strategy.
func NewTrendPullback(cfg config.StrategyConfig) *TrendPullback {
	return &TrendPullback{cfg: cfg}
}

func (s *TrendPullback) Name() string { return "trend_pullback" }

// Reasons Decide gives for not producing a signal.
const (
	SkipNotReady        = "indicators_not_ready"
	SkipNoTrend         = "no_trend"
	SkipATRTooLow       = "atr_too_low"
	SkipEMASpreadTooLow = "ema_spread_too_low"
	SkipRSIOverbought   = "rsi_overbought_skip"
	SkipRSIOversold     = "rsi_oversold_skip"
	SkipNoPullback      = "no_pullback"
	SkipFarFromLevel    = "far_from_level"
)

// Evaluate returns a signal or nil when neither side's conditions hold.
func (s *TrendPullback) Evaluate(in Input) *Signal {
	sig, _ := s.Decide(in)
	return sig
}

// Decide is Evaluate with the reason a setup was skipped.
func (s *TrendPullback) Decide(in Input) (*Signal, string) {
	snap := in.Snapshot
	if !snap.Ready() || !in.PrevRSI.Valid || !in.Levels.Defined() || snap.Close <= 0 {
		return nil, SkipNotReady
	}
	trend, _ := TrendOf(snap.EMAFast, snap.EMASlow)
	if trend == TrendNeutral {
		return nil, SkipNoTrend
	}
	rsi, prev := snap.RSI.V, in.PrevRSI.V

	if snap.ATR.V/snap.Close < s.cfg.MinATRPct {
		return nil, SkipATRTooLow
	}
	if math.Abs(snap.EMAFast.V-snap.EMASlow.V)/snap.Close < s.cfg.MinEMASpreadPct {
		return nil, SkipEMASpreadTooLow
	}
	// Entries at an RSI extreme in the trend direction come late.
	if trend == TrendUp && rsi >= s.cfg.RSIOverbought {
		return nil, SkipRSIOverbought
	}
	if trend == TrendDown && rsi <= s.cfg.RSIOversold {
		return nil, SkipRSIOversold
	}

	var (
		side    Side
		band    config.Band
		level   float64
		reasons []string
	)
	switch trend {
	case TrendUp:
		band, level = s.cfg.RSICallBand, in.Levels.Support
		if !(prev < band.Low && rsi >= band.Low && rsi <= band.High) {
			return nil, SkipNoPullback
		}
		side = SideCall
		reasons = append(reasons, "uptrend", fmt.Sprintf("rsi_exit_up %.2f->%.2f", prev, rsi))
	case TrendDown:
		band, level = s.cfg.RSIPutBand, in.Levels.Resistance
		if !(prev > band.High && rsi >= band.Low && rsi <= band.High) {
			return nil, SkipNoPullback
		}
		side = SidePut
		reasons = append(reasons, "downtrend", fmt.Sprintf("rsi_exit_down %.2f->%.2f", prev, rsi))
	}

	dist := math.Abs(snap.Close-level) / snap.Close
	if dist > s.cfg.PullbackPct {
		return nil, SkipFarFromLevel
	}
	if side == SideCall {
		reasons = append(reasons, fmt.Sprintf("near_support %.5f", dist))
	} else {
		reasons = append(reasons, fmt.Sprintf("near_resistance %.5f", dist))
	}
	if in.HTFDefined {
		reasons = append(reasons, "htf_"+in.HTF.String())
	}

	comp := Components{
		Trend:     s.trendStrength(snap.EMAFast.V, snap.EMASlow.V, snap.ATR.V),
		RSI:       bandCloseness(rsi, band),
		Proximity: clamp01(1 - dist/s.cfg.PullbackPct),
	}

	return &Signal{
		Symbol:       snap.Symbol,
		Side:         side,
		Score:        s.score(comp),
		Reasons:      reasons,
		Components:   comp,
		Price:        snap.Close,
		RSI:          rsi,
		ATR:          snap.ATR.V,
		EMAFast:      snap.EMAFast.V,
		EMASlow:      snap.EMASlow.V,
		Support:      in.Levels.Support,
		Resistance:   in.Levels.Resistance,
		LevelCandles: in.Levels.Candles,
		HTF:          in.HTF,
		HTFDefined:   in.HTFDefined,
		CandleStart:  snap.AsOf,
	}, ""
}

// trendStrength is EMA separation in units of TrendNormATR x ATR, capped at 1.
func (s *TrendPullback) trendStrength(fast, slow, atr float64) float64 {
	sep := math.Abs(fast - slow)
	norm := atr * s.cfg.TrendNormATR
	if norm <= 0 {
		if sep > 0 {
			return 1
		}
		return 0
	}
	return clamp01(sep / norm)
}

func (s *TrendPullback) score(c Components) float64 {
	w := s.cfg.Weights
	total := w.Trend + w.RSI + w.Proximity
	if total <= 0 {
		return 0
	}
	return clamp01((w.Trend*c.Trend + w.RSI*c.RSI + w.Proximity*c.Proximity) / total)
}

// bandCloseness is 1 at the band centre and 0 at its edges.
func bandCloseness(v float64, b config.Band) float64 {
	mid := (b.Low + b.High) / 2
	half := (b.High - b.Low) / 2
	if half <= 0 {
		return 0
	}
	return clamp01(1 - math.Abs(v-mid)/half)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
