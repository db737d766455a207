// Package sizing converts a signal score into a stake.
package sizing

import (
	"math"

	"github.com/shopspring/decimal"

	"synth-core/pkg/config"
)

// Skip reasons.
const (
	ReasonScoreBelowMin = "score_below_min"
	ReasonNoBalance     = "no_balance"
	ReasonBelowViable   = "below_min_viable_stake"
)

// Input is what the sizer looks at.
type Input struct {
	Score   float64
	Balance float64
	// ATR and Price feed the optional volatility dampener.
	ATR   float64
	Price float64
}

// Result is a sizing decision. A zero Stake means skip.
type Result struct {
	Stake    decimal.Decimal
	RiskPct  float64
	Dampener float64
	Reason   string
}

// Skip reports whether the trade should not be placed.
func (r Result) Skip() bool { return !r.Stake.IsPositive() }

// StakeFloat returns the stake as a float for venue requests.
func (r Result) StakeFloat() float64 { return r.Stake.InexactFloat64() }

// Sizer maps score to stake. It is stateless and safe for concurrent use.
type Sizer struct {
	cfg config.SizingConfig
}

func New(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// RiskPct returns the fraction of balance to risk for score, or 0 when the
// score is below the tradable minimum. Non-decreasing in score.
func (s *Sizer) RiskPct(score float64) float64 {
	c := s.cfg
	if score < c.ScoreMin {
		return 0
	}
	pct := c.RiskPctHigh
	if score < c.ScoreHigh {
		t := (score - c.ScoreMin) / (c.ScoreHigh - c.ScoreMin)
		pct = c.RiskPct + (c.RiskPctHigh-c.RiskPct)*t
	}
	if c.MaxRiskPct > 0 && pct > c.MaxRiskPct {
		pct = c.MaxRiskPct
	}
	return pct
}

// dampener scales stakes down when volatility is above the reference level.
func (s *Sizer) dampener(atr, price float64) float64 {
	d := s.cfg.ATRDampener
	if !d.Enabled || atr <= 0 || price <= 0 {
		return 1
	}
	atrPct := atr / price
	if atrPct <= d.ReferenceATRPct {
		return 1
	}
	return d.ReferenceATRPct / atrPct
}

// Size computes the stake, clamped to [min_stake, max_stake] and rounded to
// cents.
func (s *Sizer) Size(in Input) Result {
	pct := s.RiskPct(in.Score)
	if pct == 0 {
		return Result{Stake: decimal.Zero, Reason: ReasonScoreBelowMin}
	}
	if in.Balance <= 0 || math.IsNaN(in.Balance) {
		return Result{Stake: decimal.Zero, RiskPct: pct, Reason: ReasonNoBalance}
	}

	damp := s.dampener(in.ATR, in.Price)
	raw := decimal.NewFromFloat(in.Balance).
		Mul(decimal.NewFromFloat(pct)).
		Mul(decimal.NewFromFloat(damp))

	res := Result{RiskPct: pct, Dampener: damp}
	if raw.LessThan(decimal.NewFromFloat(s.cfg.MinViableStake)) {
		res.Stake = decimal.Zero
		res.Reason = ReasonBelowViable
		return res
	}
	lo := decimal.NewFromFloat(s.cfg.MinStake)
	hi := decimal.NewFromFloat(s.cfg.MaxStake)
	res.Stake = decimal.Min(decimal.Max(raw, lo), hi).Round(2)
	return res
}
