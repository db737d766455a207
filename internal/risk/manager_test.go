package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"synth-core/pkg/config"
	"synth-core/pkg/db"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newFirewall(t *testing.T, mutate func(*config.RiskConfig), store Store) *Firewall {
	t.Helper()
	cfg := config.Default().Risk
	if mutate != nil {
		mutate(&cfg)
	}
	fw := NewFirewall(cfg, time.UTC, store, zerolog.Nop())
	if err := fw.Start(context.Background(), t0, 1000); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return fw
}

func TestCheckLimits(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.RiskConfig)
		pnls    []float64
		at      time.Time
		allowed bool
		reason  string
	}{
		{name: "fresh", at: t0, allowed: true},
		{name: "small loss", pnls: []float64{-10}, at: t0, allowed: true},
		{name: "daily loss", pnls: []float64{-30, 10, -30}, at: t0.Add(time.Minute), reason: ReasonMaxDailyLoss},
		{
			name:   "drawdown before daily loss",
			mutate: func(c *config.RiskConfig) { c.MaxDrawdown = 0.02 },
			pnls:   []float64{50, -25},
			at:     t0,
			reason: ReasonMaxDrawdown,
		},
		{
			name:   "trade cap",
			mutate: func(c *config.RiskConfig) { c.MaxTradesDaily = 2 },
			pnls:   []float64{1, 1},
			at:     t0,
			reason: ReasonMaxTradesDaily,
		},
		{name: "streak in cooldown", pnls: []float64{-1, -1, -1}, at: t0.Add(10 * time.Minute), reason: ReasonCooldown},
		{name: "streak after cooldown", pnls: []float64{-1, -1, -1}, at: t0.Add(31 * time.Minute), allowed: true},
		{name: "win breaks streak", pnls: []float64{-1, -1, 2, -1}, at: t0, allowed: true},
		{
			name:   "streak without cooldown",
			mutate: func(c *config.RiskConfig) { c.Cooldown = 0 },
			pnls:   []float64{-1, -1, -1},
			at:     t0.Add(time.Hour),
			reason: ReasonConsecutiveLosses,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fw := newFirewall(t, tt.mutate, nil)
			for _, pnl := range tt.pnls {
				if err := fw.RecordOutcome(ctx, t0, pnl); err != nil {
					t.Fatalf("RecordOutcome returned error: %v", err)
				}
			}
			dec := fw.Check(ctx, tt.at)
			if dec.Allowed != tt.allowed {
				t.Fatalf("Allowed=%v reason=%q, expected %v", dec.Allowed, dec.Reason, tt.allowed)
			}
			if dec.Reason != tt.reason {
				t.Fatalf("Reason=%q, expected %q", dec.Reason, tt.reason)
			}
		})
	}
}

func TestCheckDoesNotClearStreak(t *testing.T) {
	ctx := context.Background()
	fw := newFirewall(t, nil, nil)
	for i := 0; i < 3; i++ {
		if err := fw.RecordOutcome(ctx, t0, -1); err != nil {
			t.Fatalf("RecordOutcome returned error: %v", err)
		}
	}

	after := t0.Add(31 * time.Minute)
	if dec := fw.Check(ctx, after); !dec.Allowed {
		t.Fatalf("expected allowed after cooldown, got %q", dec.Reason)
	}
	if got := fw.State().ConsecutiveLosses; got != 3 {
		t.Fatalf("ConsecutiveLosses=%d after Check, expected 3", got)
	}

	if fw.ExpireStreak(ctx, t0.Add(10*time.Minute)) {
		t.Fatalf("ExpireStreak cleared the streak inside the cooldown")
	}
	if !fw.ExpireStreak(ctx, after) {
		t.Fatalf("ExpireStreak did not clear an elapsed streak")
	}
	if got := fw.State().ConsecutiveLosses; got != 0 {
		t.Fatalf("ConsecutiveLosses=%d after ExpireStreak, expected 0", got)
	}
}

func TestLossAfterCooldownStartsNewStreak(t *testing.T) {
	ctx := context.Background()
	fw := newFirewall(t, nil, nil)
	for i := 0; i < 3; i++ {
		if err := fw.RecordOutcome(ctx, t0, -1); err != nil {
			t.Fatalf("RecordOutcome returned error: %v", err)
		}
	}
	later := t0.Add(40 * time.Minute)
	if err := fw.RecordOutcome(ctx, later, -1); err != nil {
		t.Fatalf("RecordOutcome returned error: %v", err)
	}
	if got := fw.State().ConsecutiveLosses; got != 1 {
		t.Fatalf("ConsecutiveLosses=%d, expected a fresh streak of 1", got)
	}
	if dec := fw.Check(ctx, later); !dec.Allowed {
		t.Fatalf("expected allowed with a fresh streak, got %q", dec.Reason)
	}
}

func TestRecordOutcomeBeforeStart(t *testing.T) {
	fw := NewFirewall(config.Default().Risk, time.UTC, nil, zerolog.Nop())
	if err := fw.RecordOutcome(context.Background(), t0, -5); err != ErrNotStarted {
		t.Fatalf("RecordOutcome before Start returned %v, expected ErrNotStarted", err)
	}
}

func TestDailyLossHoldsUntilRollover(t *testing.T) {
	ctx := context.Background()
	fw := newFirewall(t, nil, nil)
	if err := fw.RecordOutcome(ctx, t0, -60); err != nil {
		t.Fatalf("RecordOutcome returned error: %v", err)
	}

	for _, at := range []time.Time{t0.Add(time.Hour), t0.Add(13 * time.Hour)} {
		if dec := fw.Check(ctx, at); dec.Reason != ReasonMaxDailyLoss {
			t.Fatalf("Check at %s: reason=%q, expected %q", at, dec.Reason, ReasonMaxDailyLoss)
		}
	}

	next := time.Date(2026, 3, 3, 0, 0, 1, 0, time.UTC)
	if dec := fw.Check(ctx, next); !dec.Allowed {
		t.Fatalf("expected allowed after rollover, got %q", dec.Reason)
	}
	st := fw.State()
	if st.Day != "2026-03-03" || st.StartEquity != 940 || st.Trades != 0 || st.DailyPnL != 0 {
		t.Fatalf("unexpected state after rollover: %+v", st)
	}
	if st.PeakEquity != 1000 {
		t.Fatalf("PeakEquity=%v, expected 1000 to survive rollover", st.PeakEquity)
	}
	if fw.Rollover(ctx, next.Add(time.Hour)) {
		t.Fatalf("second rollover on the same day should be a no-op")
	}
}

func TestDayKeyAnchor(t *testing.T) {
	fw := NewFirewall(config.RiskConfig{DayAnchorHour: 6}, time.UTC, nil, zerolog.Nop())
	cases := map[time.Time]string{
		time.Date(2026, 3, 2, 5, 59, 0, 0, time.UTC): "2026-03-01",
		time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC):  "2026-03-02",
	}
	for at, want := range cases {
		if got := fw.DayKey(at); got != want {
			t.Fatalf("DayKey(%s)=%s, expected %s", at, got, want)
		}
	}

	loc := time.FixedZone("UTC+3", 3*3600)
	fw = NewFirewall(config.RiskConfig{}, loc, nil, zerolog.Nop())
	if got := fw.DayKey(time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)); got != "2026-03-03" {
		t.Fatalf("DayKey in UTC+3=%s, expected 2026-03-03", got)
	}
}

func TestInvalidPeak(t *testing.T) {
	fw := NewFirewall(config.Default().Risk, time.UTC, nil, zerolog.Nop())
	if err := fw.Start(context.Background(), t0, 0); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if dec := fw.Check(context.Background(), t0); dec.Reason != ReasonInvalidPeak {
		t.Fatalf("Reason=%q, expected %q", dec.Reason, ReasonInvalidPeak)
	}
}

func TestCheckBeforeStart(t *testing.T) {
	fw := NewFirewall(config.Default().Risk, time.UTC, nil, zerolog.Nop())
	if dec := fw.Check(context.Background(), t0); dec.Allowed || dec.Reason != ReasonInvalidPeak {
		t.Fatalf("Check before Start = %+v, expected %q rejection", dec, ReasonInvalidPeak)
	}
	if fw.Rollover(context.Background(), t0.Add(48*time.Hour)) {
		t.Fatalf("Rollover before Start reported a reset")
	}
	if fw.Started() {
		t.Fatalf("Started() = true before Start")
	}
}

func TestBookkeepingPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	fw := newFirewall(t, nil, database)
	for _, pnl := range []float64{-5, -5} {
		if err := fw.RecordOutcome(ctx, t0, pnl); err != nil {
			t.Fatalf("RecordOutcome returned error: %v", err)
		}
	}

	restarted := NewFirewall(config.Default().Risk, time.UTC, database, zerolog.Nop())
	if err := restarted.Start(ctx, t0.Add(time.Minute), 990); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	st := restarted.State()
	if st.Trades != 2 || st.ConsecutiveLosses != 2 || st.StartEquity != 1000 || st.DailyPnL != -10 {
		t.Fatalf("unexpected restored state: %+v", st)
	}
	if !st.LastLoss.Equal(t0) {
		t.Fatalf("LastLoss=%s, expected %s", st.LastLoss, t0)
	}
}
