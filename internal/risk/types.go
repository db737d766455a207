package risk

import (
	"context"
	"errors"
	"time"

	"synth-core/pkg/db"
)

// Rejection reasons.
const (
	ReasonInvalidPeak       = "invalid_peak_equity"
	ReasonMaxDrawdown       = "max_drawdown_total_reached"
	ReasonMaxDailyLoss      = "max_loss_daily_reached"
	ReasonMaxTradesDaily    = "max_trades_daily_reached"
	ReasonCooldown          = "cooldown_after_consecutive_losses"
	ReasonConsecutiveLosses = "max_consecutive_losses_reached"
)

// ErrNotStarted is returned for outcomes recorded before Start.
var ErrNotStarted = errors.New("risk bookkeeping not started")

// Store persists per-day bookkeeping. LoadRiskDay returns db.ErrNotFound for
// an unknown day.
type Store interface {
	LoadRiskDay(ctx context.Context, day string) (*db.RiskDay, error)
	SaveRiskDay(ctx context.Context, r db.RiskDay) error
}

// State is the firewall's bookkeeping. It changes only on confirmed trade
// outcomes and day rollover.
type State struct {
	Day               string    `json:"day"`
	Equity            float64   `json:"equity"`
	PeakEquity        float64   `json:"peak_equity"`
	StartEquity       float64   `json:"start_equity"`
	DailyPnL          float64   `json:"daily_pnl"`
	Trades            int       `json:"trades_today"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	LastLoss          time.Time `json:"last_loss,omitempty"`
}

// Drawdown is the fractional decline from peak equity.
func (s State) Drawdown() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	return (s.PeakEquity - s.Equity) / s.PeakEquity
}

// DailyLoss is the fractional loss against the day's starting equity.
func (s State) DailyLoss() float64 {
	if s.StartEquity <= 0 {
		return 0
	}
	return (s.StartEquity - s.Equity) / s.StartEquity
}

// Decision is the outcome of a firewall check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
	// CooldownRemaining is set when the loss-streak cooldown is active.
	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`
}
