package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func f64(v float64) *float64 { return &v }

func TestEventsAppendAndLatest(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	if _, err := d.LatestEvent(ctx, "metrics"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty log, got %v", err)
	}

	batch := []Event{
		{ID: "e1", Time: base, Level: "info", Type: "metrics", DataJSON: `{"n":1}`},
		{ID: "e2", Time: base.Add(time.Second), Level: "info", Type: "signal", Symbol: "R_75"},
		{ID: "e3", Time: base.Add(2 * time.Second), Level: "info", Type: "metrics", DataJSON: `{"n":2}`},
	}
	if err := d.InsertEvents(ctx, batch); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}

	latest, err := d.LatestEvent(ctx, "metrics")
	if err != nil {
		t.Fatalf("LatestEvent: %v", err)
	}
	if latest.ID != "e3" || latest.DataJSON != `{"n":2}` {
		t.Fatalf("latest=%+v, expected e3", latest)
	}

	all, err := d.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 || all[0].ID != "e3" || all[2].ID != "e1" {
		t.Fatalf("unexpected order: %+v", all)
	}

	page, err := d.ListEvents(ctx, EventFilter{Type: "metrics", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListEvents page: %v", err)
	}
	if len(page) != 1 || page[0].ID != "e1" {
		t.Fatalf("unexpected page: %+v", page)
	}

	// A second insert of the same id must fail: the log is append-only.
	if err := d.InsertEvent(ctx, batch[0]); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}
}

func TestTradeLifecycle(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	entry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tr := Trade{
		ID: "t1", Symbol: "R_75", Side: "CALL", ContractType: "multiplier",
		Stake: 10, Score: 0.7, Status: "pending", EntryTime: entry,
		TakeProfit: f64(5), StopLoss: f64(5),
	}
	if err := d.UpsertTrade(ctx, tr); err != nil {
		t.Fatalf("UpsertTrade pending: %v", err)
	}

	exit := entry.Add(15 * time.Minute)
	tr.Status = "closed"
	tr.ExitTime = &exit
	tr.PnL = f64(-2.5)
	tr.ContractID = "123456"
	if err := d.UpsertTrade(ctx, tr); err != nil {
		t.Fatalf("UpsertTrade closed: %v", err)
	}

	got, err := d.GetTrade(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrade: %v", err)
	}
	if got.Status != "closed" || got.PnL == nil || *got.PnL != -2.5 {
		t.Fatalf("unexpected trade: %+v", got)
	}
	if got.ExitTime == nil || !got.ExitTime.Equal(exit) {
		t.Fatalf("exit time=%v, expected %v", got.ExitTime, exit)
	}
	if got.Multiplier != nil {
		t.Fatalf("multiplier should be NULL, got %v", *got.Multiplier)
	}
	if got.ReasonsJSON != "[]" {
		t.Fatalf("reasons=%q, expected []", got.ReasonsJSON)
	}

	pnl, err := d.RealizedPnL(ctx, entry.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RealizedPnL: %v", err)
	}
	if pnl != -2.5 {
		t.Fatalf("pnl=%v, expected -2.5", pnl)
	}

	if err := d.DeleteTrade(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTrade: %v", err)
	}
	if err := d.DeleteTrade(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTradesRangeQueries(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		tr := Trade{
			ID: fmt.Sprintf("t%d", i), Symbol: "R_75", Side: "PUT", ContractType: "rise_fall",
			Stake: 1, Status: "closed", EntryTime: day.Add(time.Duration(i) * 12 * time.Hour),
		}
		if i == 5 {
			tr.Status = "open"
			tr.ContractID = "55"
		}
		if i == 4 {
			tr.Status = "error"
			tr.ContractID = "44"
		}
		if i < 4 {
			pnl := 1.0
			tr.PnL = &pnl
		}
		if err := d.UpsertTrade(ctx, tr); err != nil {
			t.Fatalf("UpsertTrade: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter TradeFilter
		want   int
	}{
		{"all", TradeFilter{}, 6},
		{"first day", TradeFilter{From: day, To: day.Add(24 * time.Hour)}, 2},
		{"open upper bound", TradeFilter{From: day.Add(48 * time.Hour)}, 2},
		{"open lower bound", TradeFilter{To: day.Add(12 * time.Hour)}, 1},
		{"by status", TradeFilter{Status: "open"}, 1},
		{"unsettled", TradeFilter{Unsettled: true}, 2},
		{"unsettled errors", TradeFilter{Status: "error", Unsettled: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := d.CountTrades(ctx, tt.filter)
			if err != nil {
				t.Fatalf("CountTrades: %v", err)
			}
			if n != tt.want {
				t.Fatalf("count=%d, expected %d", n, tt.want)
			}
			list, err := d.ListTrades(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListTrades: %v", err)
			}
			if len(list) != tt.want {
				t.Fatalf("len=%d, expected %d", len(list), tt.want)
			}
		})
	}

	page, err := d.ListTrades(ctx, TradeFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListTrades page: %v", err)
	}
	if len(page) != 2 || page[0].ID != "t4" {
		t.Fatalf("unexpected page: %+v", page)
	}

	n, err := d.DeleteTrades(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTrades: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted=%d, expected 2", n)
	}
	left, _ := d.CountTrades(ctx, TradeFilter{})
	if left != 4 {
		t.Fatalf("remaining=%d, expected 4", left)
	}
}

func TestKillSwitchAndSettings(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	ks, err := d.GetKillSwitch(ctx)
	if err != nil {
		t.Fatalf("GetKillSwitch: %v", err)
	}
	if ks.Enabled {
		t.Fatalf("kill switch should default to disabled")
	}

	if err := d.SetKillSwitch(ctx, KillSwitch{Enabled: true, Reason: "manual"}); err != nil {
		t.Fatalf("SetKillSwitch: %v", err)
	}
	ks, _ = d.GetKillSwitch(ctx)
	if !ks.Enabled || ks.Reason != "manual" || ks.UpdatedAt.IsZero() {
		t.Fatalf("unexpected kill switch: %+v", ks)
	}

	if _, err := d.GetSetting(ctx, "contract_type"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := d.SetSetting(ctx, "contract_type", "multiplier"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := d.SetSetting(ctx, "contract_type", "rise_fall"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	v, err := d.GetSetting(ctx, "contract_type")
	if err != nil || v != "rise_fall" {
		t.Fatalf("setting=%q err=%v", v, err)
	}
	if err := d.DeleteSetting(ctx, "contract_type"); err != nil {
		t.Fatalf("DeleteSetting: %v", err)
	}
	if _, err := d.GetSetting(ctx, "contract_type"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRiskDayRoundTrip(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if _, err := d.LoadRiskDay(ctx, "2026-03-02"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	loss := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	in := RiskDay{Day: "2026-03-02", StartEquity: 1000, PeakEquity: 1010, DailyPnL: -12, Trades: 4, ConsecutiveLosses: 2, LastLoss: &loss}
	if err := d.SaveRiskDay(ctx, in); err != nil {
		t.Fatalf("SaveRiskDay: %v", err)
	}
	in.Trades = 5
	if err := d.SaveRiskDay(ctx, in); err != nil {
		t.Fatalf("SaveRiskDay update: %v", err)
	}
	out, err := d.LoadRiskDay(ctx, "2026-03-02")
	if err != nil {
		t.Fatalf("LoadRiskDay: %v", err)
	}
	if out.Trades != 5 || out.ConsecutiveLosses != 2 || out.LastLoss == nil || !out.LastLoss.Equal(loss) {
		t.Fatalf("unexpected risk day: %+v", out)
	}
}

func TestRebind(t *testing.T) {
	pg := &Database{Dialect: Postgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind=%q", got)
	}
	lite := &Database{Dialect: SQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind=%q", got)
	}
}
