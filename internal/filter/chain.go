// Package filter gates strategy signals through an ordered set of checks.
package filter

import (
	"context"
	"fmt"
	"math"

	"synth-core/internal/strategy"
	"synth-core/pkg/config"
	"synth-core/pkg/db"
)

// Gate names, in evaluation order.
const (
	GateHTF        = "htf"
	GateQuality    = "quality"
	GateSR         = "support_resistance"
	GateKillSwitch = "kill_switch"
)

// Reason codes.
const (
	ReasonHTFMismatch       = "htf_mismatch"
	ReasonHTFUndefined      = "htf_undefined"
	ReasonScoreBelowMin     = "score_below_min"
	ReasonRSICallTooHigh    = "rsi_call_too_high"
	ReasonRSIPutTooLow      = "rsi_put_too_low"
	ReasonATRTooHigh        = "atr_too_high"
	ReasonNotNearSupport    = "not_near_support"
	ReasonNotNearResistance = "not_near_resistance"
	ReasonKillSwitch        = "kill_switch_enabled"
	ReasonKillSwitchError   = "kill_switch_unavailable"
)

// KillSwitchReader is the read-only view of the kill-switch.
type KillSwitchReader interface {
	Read(ctx context.Context) (db.KillSwitch, error)
}

// Gate is one veto point.
type Gate interface {
	Name() string
	// Check returns "" when the signal passes, otherwise a reason code and detail.
	Check(ctx context.Context, s strategy.Signal) (reason, detail string)
}

// Verdict is the chain outcome.
type Verdict struct {
	Passed bool
	Gate   string
	Reason string
	Detail string
}

// Chain runs gates in order; the first veto wins.
type Chain struct {
	gates []Gate
}

// NewChain builds HTF, quality, S/R and kill-switch gates in that order.
// Disabled gates are skipped; the kill-switch gate is always present.
func NewChain(cfg config.FilterConfig, ks KillSwitchReader) *Chain {
	var gates []Gate
	if cfg.HTF.Enabled {
		gates = append(gates, htfGate{allowNeutral: cfg.HTF.AllowNeutral})
	}
	if cfg.Quality.Enabled {
		gates = append(gates, qualityGate{cfg: cfg.Quality})
	}
	if cfg.SupportResistance.Enabled {
		gates = append(gates, srGate{cfg: cfg.SupportResistance})
	}
	gates = append(gates, killSwitchGate{ks: ks})
	return &Chain{gates: gates}
}

// Gates returns the gate names in evaluation order.
func (c *Chain) Gates() []string {
	out := make([]string, len(c.gates))
	for i, g := range c.gates {
		out[i] = g.Name()
	}
	return out
}

// Evaluate runs the chain.
func (c *Chain) Evaluate(ctx context.Context, s strategy.Signal) Verdict {
	for _, g := range c.gates {
		if reason, detail := g.Check(ctx, s); reason != "" {
			return Verdict{Gate: g.Name(), Reason: reason, Detail: detail}
		}
	}
	return Verdict{Passed: true}
}

type htfGate struct{ allowNeutral bool }

func (htfGate) Name() string { return GateHTF }

func (g htfGate) Check(_ context.Context, s strategy.Signal) (string, string) {
	if !s.HTFDefined || s.HTF == strategy.TrendNeutral {
		if g.allowNeutral {
			return "", ""
		}
		return ReasonHTFUndefined, "higher timeframe trend not established"
	}
	if (s.Side == strategy.SideCall && s.HTF == strategy.TrendUp) ||
		(s.Side == strategy.SidePut && s.HTF == strategy.TrendDown) {
		return "", ""
	}
	return ReasonHTFMismatch, fmt.Sprintf("%s against %s higher timeframe", s.Side, s.HTF)
}

type qualityGate struct{ cfg config.QualityFilterConfig }

func (qualityGate) Name() string { return GateQuality }

func (g qualityGate) Check(_ context.Context, s strategy.Signal) (string, string) {
	if s.Score < g.cfg.MinScore {
		return ReasonScoreBelowMin, fmt.Sprintf("score %.3f < %.3f", s.Score, g.cfg.MinScore)
	}
	if s.Side == strategy.SideCall && s.RSI > g.cfg.RSICallMax {
		return ReasonRSICallTooHigh, fmt.Sprintf("rsi %.2f > %.2f", s.RSI, g.cfg.RSICallMax)
	}
	if s.Side == strategy.SidePut && s.RSI < g.cfg.RSIPutMin {
		return ReasonRSIPutTooLow, fmt.Sprintf("rsi %.2f < %.2f", s.RSI, g.cfg.RSIPutMin)
	}
	if g.cfg.MaxATRPct > 0 && s.Price > 0 && s.ATR/s.Price > g.cfg.MaxATRPct {
		return ReasonATRTooHigh, fmt.Sprintf("atr/price %.5f > %.5f", s.ATR/s.Price, g.cfg.MaxATRPct)
	}
	return "", ""
}

type srGate struct{ cfg config.SRFilterConfig }

func (srGate) Name() string { return GateSR }

// Check passes when too few candles back the levels.
func (g srGate) Check(_ context.Context, s strategy.Signal) (string, string) {
	if s.LevelCandles < g.cfg.MinCandles || s.Price <= 0 {
		return "", ""
	}
	switch s.Side {
	case strategy.SideCall:
		if d := math.Abs(s.Price-s.Support) / s.Price; d > g.cfg.NearPct {
			return ReasonNotNearSupport, fmt.Sprintf("distance %.5f > %.5f", d, g.cfg.NearPct)
		}
	case strategy.SidePut:
		if d := math.Abs(s.Price-s.Resistance) / s.Price; d > g.cfg.NearPct {
			return ReasonNotNearResistance, fmt.Sprintf("distance %.5f > %.5f", d, g.cfg.NearPct)
		}
	}
	return "", ""
}

type killSwitchGate struct{ ks KillSwitchReader }

func (killSwitchGate) Name() string { return GateKillSwitch }

// Check fails closed when the store cannot be read.
func (g killSwitchGate) Check(ctx context.Context, _ strategy.Signal) (string, string) {
	st, err := g.ks.Read(ctx)
	if err != nil {
		return ReasonKillSwitchError, err.Error()
	}
	if st.Enabled {
		return ReasonKillSwitch, st.Reason
	}
	return "", ""
}
