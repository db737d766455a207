package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synth-core/internal/control"
	"synth-core/internal/events"
	"synth-core/internal/filter"
	"synth-core/internal/market"
	"synth-core/internal/monitor"
	"synth-core/internal/risk"
	"synth-core/pkg/config"
	"synth-core/pkg/db"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// pullbackCloses is an uptrend followed by a pullback to support and a
// recovery. Candle 68 closes at 1043 with RSI leaving the call band upward.
func pullbackCloses() []float64 {
	var closes []float64
	p := 1000.0
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			p += 3
		} else {
			p -= 1
		}
		closes = append(closes, p)
	}
	for _, d := range []float64{-4, -5, -2, -3, 1, 1, -5, -3, 3, 1.2, -0.6, 1.2, -0.6, 1.2, -0.6, 1.2, -0.6} {
		p += d
		closes = append(closes, p)
	}
	return closes
}

// ticksFor emits open, high, low and close ticks for each one-minute candle.
func ticksFor(symbol string, closes []float64) []market.Tick {
	var out []market.Tick
	prev := closes[0]
	for i, c := range closes {
		o := prev
		if i == 0 {
			o = c
		}
		start := t0.Add(time.Duration(i) * time.Minute)
		out = append(out,
			market.Tick{Symbol: symbol, Price: o, Time: start},
			market.Tick{Symbol: symbol, Price: max(o, c) + 0.1, Time: start.Add(15 * time.Second)},
			market.Tick{Symbol: symbol, Price: min(o, c) - 0.1, Time: start.Add(30 * time.Second)},
			market.Tick{Symbol: symbol, Price: c, Time: start.Add(45 * time.Second)},
		)
		prev = c
	}
	return out
}

func replay(ticks []market.Tick) TickFeed {
	return func(ctx context.Context) <-chan market.Tick {
		out := make(chan market.Tick)
		go func() {
			defer close(out)
			for _, t := range ticks {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Trading.Symbols = []string{"R_75"}
	cfg.Market.Interval = time.Minute
	cfg.Market.HTFInterval = 5 * time.Minute
	cfg.Indicators.HTFEMAFast = 3
	cfg.Indicators.HTFEMASlow = 5
	cfg.Strategy.PullbackPct = 0.005
	cfg.Filters.SupportResistance.NearPct = 0.005
	cfg.Development.DryRun = true
	cfg.Development.PaperBalance = 10000
	cfg.Engine.DrainTimeout = 5 * time.Second
	cfg.Monitoring.SnapshotPath = filepath.Join(t.TempDir(), "metrics.json")
	return cfg
}

func testStore(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newTestEngine(t *testing.T, cfg config.Config, store Store) (*Engine, *events.Memory) {
	t.Helper()
	rec := events.NewMemory()
	e, err := New(context.Background(), cfg, Options{
		Store:    store,
		Recorder: rec,
		Feed:     replay(ticksFor("R_75", pullbackCloses())),
		Now:      func() time.Time { return t0 },
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return e, rec
}

func runToEnd(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.Run(ctx))
}

func TestDryRunPullbackProducesOneSkippedExecution(t *testing.T) {
	cfg := testConfig(t)
	e, rec := newTestEngine(t, cfg, testStore(t))
	runToEnd(t, e)

	signals := rec.Events(events.EventSignal)
	require.Len(t, signals, 1)
	sig := signals[0].Data
	assert.Equal(t, "CALL", sig["side"])
	assert.InDelta(t, 1043.0, sig["price"], 1e-9)
	assert.InDelta(t, 1039.9, sig["support"], 1e-9)
	assert.InDelta(t, 43.5, sig["rsi"], 0.05)
	assert.InDelta(t, 0.6943, sig["score"], 0.0005)
	assert.Equal(t, "bullish", sig["htf"])

	assert.Empty(t, rec.Events(events.EventSignalRejected, events.EventRiskRejected, events.EventSizingSkipped, events.EventSymbolBusy))

	skipped := rec.Events(events.EventExecutionSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "CALL", skipped[0].Data["side"])
	assert.Equal(t, true, skipped[0].Data["dry_run"])
	assert.Equal(t, config.ContractRiseFall, skipped[0].Data["contract_type"])
	assert.InDelta(t, 64.4, skipped[0].Data["stake"], 0.05)
	assert.Equal(t, sig["signal_id"], skipped[0].Data["signal_id"])

	assert.Empty(t, rec.Trades(), "dry-run never creates trades")
	assert.Empty(t, rec.Events(events.EventTradeOpen, events.EventTradeError))
}

func TestDrainPublishesFinalSnapshot(t *testing.T) {
	cfg := testConfig(t)
	e, rec := newTestEngine(t, cfg, testStore(t))
	runToEnd(t, e)

	require.NotEmpty(t, rec.Events(events.EventMetrics))
	snap, err := monitor.ReadFile(cfg.Monitoring.SnapshotPath)
	require.NoError(t, err)
	assert.True(t, snap.DryRun)
	assert.Equal(t, "local_feed", snap.Connection)
	assert.InDelta(t, 10000.0, snap.Balance, 1e-9)

	sym, ok := snap.Symbols["R_75"]
	require.True(t, ok)
	assert.Equal(t, 76, sym.Candles)
	assert.InDelta(t, 1045.4, sym.LastPrice, 1e-6)
	assert.True(t, sym.EMASlow.Valid)
	assert.False(t, sym.InFlight)
	assert.Equal(t, "bearish", sym.HTFTrend, "the 5m EMAs cross down during the recovery chop")
}

func TestKillSwitchVetoesEverySignal(t *testing.T) {
	cfg := testConfig(t)
	e, rec := newTestEngine(t, cfg, testStore(t))
	_, err := e.SetKillSwitch(context.Background(), true, "maintenance")
	require.NoError(t, err)
	runToEnd(t, e)

	rejected := rec.Events(events.EventSignalRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, filter.GateKillSwitch, rejected[0].Data["stage"])
	assert.Equal(t, filter.ReasonKillSwitch, rejected[0].Data["reason"])
	assert.Empty(t, rec.Events(events.EventExecutionSkipped))
}

func TestRiskRejectionIsTerminal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Risk.MaxTradesDaily = 0
	e, rec := newTestEngine(t, cfg, testStore(t))
	runToEnd(t, e)

	rejected := rec.Events(events.EventRiskRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, risk.ReasonMaxTradesDaily, rejected[0].Data["reason"])
	assert.Empty(t, rec.Events(events.EventExecutionSkipped))
}

func TestSizingSkipWhenBalanceTooSmall(t *testing.T) {
	cfg := testConfig(t)
	cfg.Development.PaperBalance = 10
	e, rec := newTestEngine(t, cfg, testStore(t))
	runToEnd(t, e)

	skipped := rec.Events(events.EventSizingSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, "sizing", skipped[0].Data["stage"])
	assert.Empty(t, rec.Events(events.EventExecutionSkipped))
}

func TestContractOverrideAppliesToNextIntent(t *testing.T) {
	cfg := testConfig(t)
	e, rec := newTestEngine(t, cfg, testStore(t))

	info, err := e.SetContractType(context.Background(), config.ContractMultiplier)
	require.NoError(t, err)
	assert.Equal(t, config.ContractMultiplier, info.Effective)
	assert.Equal(t, config.ContractRiseFall, info.Configured)
	runToEnd(t, e)

	skipped := rec.Events(events.EventExecutionSkipped)
	require.Len(t, skipped, 1)
	data := skipped[0].Data
	assert.Equal(t, config.ContractMultiplier, data["contract_type"])
	stake := data["stake"].(float64)
	assert.InDelta(t, stake*cfg.Trading.Multiplier.TakeProfitPct/100, data["take_profit"], 0.01)
	assert.InDelta(t, stake*cfg.Trading.Multiplier.StopLossPct/100, data["stop_loss"], 0.01)
	assert.Equal(t, cfg.Trading.Multiplier.Multiplier, data["multiplier"])
}

func TestSetContractTypeRejectsUnknown(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(t), testStore(t))
	_, err := e.SetContractType(context.Background(), "digits")
	assert.ErrorIs(t, err, control.ErrUnknownContractType)
	assert.Equal(t, config.ContractRiseFall, e.ContractType().Effective)
}

func TestSymbolSerialization(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(t), testStore(t))
	require.True(t, e.acquire("R_75", "a"))
	assert.False(t, e.acquire("R_75", "b"), "second intent for a busy symbol")
	assert.True(t, e.acquire("R_100", "c"), "other symbols are independent")
	e.release("R_75")
	assert.True(t, e.acquire("R_75", "d"))
}

func TestOutOfOrderTickDropped(t *testing.T) {
	cfg := testConfig(t)
	rec := events.NewMemory()
	ticks := []market.Tick{
		{Symbol: "R_75", Price: 100, Time: t0.Add(2 * time.Minute)},
		{Symbol: "R_75", Price: 101, Time: t0},
		{Symbol: "R_75", Price: 102, Time: t0.Add(3 * time.Minute)},
	}
	e, err := New(context.Background(), cfg, Options{
		Store:    testStore(t),
		Recorder: rec,
		Feed:     replay(ticks),
		Now:      func() time.Time { return t0 },
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	runToEnd(t, e)

	dropped := rec.Events(events.EventCandleDropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, "R_75", dropped[0].Symbol)
}

func TestRunTwice(t *testing.T) {
	e, _ := newTestEngine(t, testConfig(t), testStore(t))
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyRunning)
}

func TestStatusAndTrades(t *testing.T) {
	store := testStore(t)
	e, _ := newTestEngine(t, testConfig(t), store)
	ctx := context.Background()

	pnl := 3.5
	require.NoError(t, store.UpsertTrade(ctx, db.Trade{
		ID: "t-1", Symbol: "R_75", Side: "CALL", ContractType: config.ContractRiseFall,
		Stake: 10, Status: "closed", EntryTime: t0.Add(-time.Hour), PnL: &pnl, ReasonsJSON: "[]",
	}))

	st := e.Status(ctx)
	assert.False(t, st.Running)
	assert.True(t, st.DryRun)
	assert.Equal(t, 1, st.TradesToday)
	assert.InDelta(t, 3.5, st.DailyPnL, 1e-9)

	page, err := e.ListTrades(ctx, db.TradeFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Trades, 1)

	require.NoError(t, e.DeleteTrade(ctx, "t-1"))
	assert.ErrorIs(t, e.DeleteTrade(ctx, "t-1"), db.ErrNotFound)
}
