package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"synth-core/pkg/config"
	"synth-core/pkg/db"
)

// Firewall enforces drawdown, daily-loss, trade-count and loss-streak limits.
// All state is guarded by one mutex, so a check never observes a half-applied
// outcome.
type Firewall struct {
	cfg   config.RiskConfig
	loc   *time.Location
	store Store
	log   zerolog.Logger

	mu      sync.Mutex
	state   State
	started bool
}

// NewFirewall creates a firewall. store may be nil for in-memory operation.
func NewFirewall(cfg config.RiskConfig, loc *time.Location, store Store, log zerolog.Logger) *Firewall {
	if loc == nil {
		loc = time.UTC
	}
	return &Firewall{cfg: cfg, loc: loc, store: store, log: log.With().Str("component", "risk").Logger()}
}

// DayKey returns the trading day t belongs to: the calendar date in the
// anchor zone after shifting by the anchor hour.
func (f *Firewall) DayKey(t time.Time) string {
	return t.In(f.loc).Add(-time.Duration(f.cfg.DayAnchorHour) * time.Hour).Format("2006-01-02")
}

// Start initialises bookkeeping from the current equity, restoring the
// persisted row for today when one exists.
func (f *Firewall) Start(ctx context.Context, now time.Time, equity float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	day := f.DayKey(now)
	f.state = State{Day: day, Equity: equity, PeakEquity: equity, StartEquity: equity}
	f.started = true
	if f.store == nil {
		return nil
	}
	row, err := f.store.LoadRiskDay(ctx, day)
	if errors.Is(err, db.ErrNotFound) {
		return f.saveLocked(ctx)
	}
	if err != nil {
		return fmt.Errorf("load risk day %s: %w", day, err)
	}
	f.state.StartEquity = row.StartEquity
	f.state.DailyPnL = row.DailyPnL
	f.state.Trades = row.Trades
	f.state.ConsecutiveLosses = row.ConsecutiveLosses
	if row.PeakEquity > f.state.PeakEquity {
		f.state.PeakEquity = row.PeakEquity
	}
	if row.LastLoss != nil {
		f.state.LastLoss = *row.LastLoss
	}
	f.log.Info().
		Str("day", day).
		Float64("start_equity", row.StartEquity).
		Int("trades", row.Trades).
		Int("loss_streak", row.ConsecutiveLosses).
		Msg("risk bookkeeping restored")
	return nil
}

// Check evaluates the limits at now. It rolls the day over first. Before
// Start every intent is rejected.
func (f *Firewall) Check(ctx context.Context, now time.Time) Decision {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		return Decision{Reason: ReasonInvalidPeak, Detail: "equity unknown"}
	}
	f.rolloverLocked(ctx, now)
	s := f.state
	c := f.cfg

	if s.PeakEquity <= 0 {
		return Decision{Reason: ReasonInvalidPeak}
	}
	if dd := s.Drawdown(); dd >= c.MaxDrawdown {
		return Decision{Reason: ReasonMaxDrawdown, Detail: fmt.Sprintf("dd=%.4f", dd)}
	}
	if loss := s.DailyLoss(); loss >= c.MaxDailyLoss {
		return Decision{Reason: ReasonMaxDailyLoss, Detail: fmt.Sprintf("loss=%.4f", loss)}
	}
	if s.Trades >= c.MaxTradesDaily {
		return Decision{Reason: ReasonMaxTradesDaily, Detail: fmt.Sprintf("trades=%d", s.Trades)}
	}
	if s.ConsecutiveLosses >= c.MaxConsecutiveLosses {
		if c.Cooldown <= 0 {
			return Decision{Reason: ReasonConsecutiveLosses, Detail: fmt.Sprintf("streak=%d", s.ConsecutiveLosses)}
		}
		if remaining := s.LastLoss.Add(c.Cooldown).Sub(now); remaining > 0 {
			return Decision{
				Reason:            ReasonCooldown,
				Detail:            fmt.Sprintf("streak=%d", s.ConsecutiveLosses),
				CooldownRemaining: remaining,
			}
		}
	}
	return Decision{Allowed: true}
}

// RecordOutcome applies a settled trade's pnl. This is the only path that
// moves equity.
func (f *Firewall) RecordOutcome(ctx context.Context, at time.Time, pnl float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.started {
		return ErrNotStarted
	}
	f.rolloverLocked(ctx, at)
	f.expireStreakLocked(at)
	s := &f.state
	s.Equity += pnl
	s.DailyPnL += pnl
	s.Trades++
	if s.Equity > s.PeakEquity {
		s.PeakEquity = s.Equity
	}
	if pnl < 0 {
		s.ConsecutiveLosses++
		s.LastLoss = at
	} else {
		s.ConsecutiveLosses = 0
	}
	f.log.Debug().
		Float64("pnl", pnl).
		Float64("equity", s.Equity).
		Float64("daily_pnl", s.DailyPnL).
		Int("loss_streak", s.ConsecutiveLosses).
		Msg("trade outcome recorded")
	return f.saveLocked(ctx)
}

// Rollover resets daily counters if now falls on a new trading day. It
// reports whether a reset happened. Safe to call repeatedly.
func (f *Firewall) Rollover(ctx context.Context, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rolloverLocked(ctx, now)
}

// ExpireStreak clears a loss streak whose cooldown has elapsed at now and
// persists the change. Check only reads the streak; this and RecordOutcome
// are the paths that clear it.
func (f *Firewall) ExpireStreak(ctx context.Context, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started || !f.expireStreakLocked(now) {
		return false
	}
	if err := f.saveLocked(ctx); err != nil {
		f.log.Error().Err(err).Str("day", f.state.Day).Msg("persist risk day failed")
	}
	return true
}

func (f *Firewall) expireStreakLocked(now time.Time) bool {
	s := &f.state
	if f.cfg.Cooldown <= 0 || s.ConsecutiveLosses < f.cfg.MaxConsecutiveLosses {
		return false
	}
	if now.Before(s.LastLoss.Add(f.cfg.Cooldown)) {
		return false
	}
	f.log.Info().Int("loss_streak", s.ConsecutiveLosses).Msg("loss streak cooldown elapsed")
	s.ConsecutiveLosses = 0
	return true
}

func (f *Firewall) rolloverLocked(ctx context.Context, now time.Time) bool {
	day := f.DayKey(now)
	if !f.started || day <= f.state.Day {
		return false
	}
	prev := f.state
	f.state.Day = day
	f.state.StartEquity = prev.Equity
	f.state.DailyPnL = 0
	f.state.Trades = 0
	f.state.ConsecutiveLosses = 0
	f.log.Info().
		Str("prev_day", prev.Day).
		Str("day", day).
		Float64("prev_daily_pnl", prev.DailyPnL).
		Int("prev_trades", prev.Trades).
		Msg("risk day rollover")
	if err := f.saveLocked(ctx); err != nil {
		f.log.Error().Err(err).Str("day", day).Msg("persist risk day failed")
	}
	return true
}

func (f *Firewall) saveLocked(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	s := f.state
	row := db.RiskDay{
		Day:               s.Day,
		StartEquity:       s.StartEquity,
		PeakEquity:        s.PeakEquity,
		DailyPnL:          s.DailyPnL,
		Trades:            s.Trades,
		ConsecutiveLosses: s.ConsecutiveLosses,
	}
	if !s.LastLoss.IsZero() {
		ll := s.LastLoss
		row.LastLoss = &ll
	}
	if err := f.store.SaveRiskDay(ctx, row); err != nil {
		return fmt.Errorf("save risk day %s: %w", s.Day, err)
	}
	return nil
}

// Started reports whether Start has run.
func (f *Firewall) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// State returns a copy of the current bookkeeping.
func (f *Firewall) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}
