package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synth-core/internal/events"
	"synth-core/internal/order"
	"synth-core/internal/risk"
	"synth-core/pkg/config"
	"synth-core/pkg/db"
	"synth-core/pkg/deriv"
)

type fakeContracts map[int64]deriv.ContractStatus

func (f fakeContracts) OpenContract(_ context.Context, id int64) (deriv.ContractStatus, error) {
	st, ok := f[id]
	if !ok {
		return deriv.ContractStatus{}, errors.New("unknown contract")
	}
	return st, nil
}

func newStore(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(d))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func seed(t *testing.T, d *db.Database, trades ...db.Trade) {
	t.Helper()
	for _, tr := range trades {
		require.NoError(t, d.UpsertTrade(context.Background(), tr))
	}
}

func TestReconcileSettlesOpenTrades(t *testing.T) {
	ctx := context.Background()
	d := newStore(t)
	started := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	before := 100.0
	seed(t, d,
		db.Trade{ID: "sold", Symbol: "R_100", Side: "CALL", ContractType: "rise_fall", Stake: 5,
			Status: order.StatusOpen, ContractID: "11", EntryTime: started.Add(-time.Hour), UpdatedAt: started.Add(-time.Hour),
			BalanceBefore: &before},
		db.Trade{ID: "running", Symbol: "R_50", Side: "PUT", ContractType: "multiplier", Stake: 5,
			Status: order.StatusOpen, ContractID: "12", EntryTime: started.Add(-time.Hour), UpdatedAt: started.Add(-time.Hour)},
		db.Trade{ID: "done", Symbol: "R_50", Side: "PUT", ContractType: "rise_fall", Stake: 5,
			Status: order.StatusClosed, ContractID: "13", EntryTime: started.Add(-2 * time.Hour)},
	)
	venue := fakeContracts{
		11: {ContractID: 11, IsSold: 1, Profit: 4.5, EntrySpot: 1000, ExitSpot: 1002, SellTime: started.Add(-30 * time.Minute).Unix()},
		12: {ContractID: 12, IsSold: 0},
	}
	rec := events.NewMemory()
	svc := NewService(d, rec, func() (ContractSource, error) { return venue, nil }, started,
		func() time.Time { return started }, zerolog.Nop())

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, 1, report.StillOpen)
	require.Len(t, report.Diffs, 1)
	assert.Equal(t, "sold", report.Diffs[0].TradeID)

	trades := rec.Trades()
	require.Len(t, trades, 1)
	got := trades[0]
	assert.Equal(t, order.StatusClosed, got.Status)
	require.NotNil(t, got.PnL)
	assert.InDelta(t, 4.5, *got.PnL, 1e-9)
	require.NotNil(t, got.BalanceAfter)
	assert.InDelta(t, 104.5, *got.BalanceAfter, 1e-9)
	require.NotNil(t, got.ExitTime)
	assert.True(t, got.ExitTime.Equal(started.Add(-30*time.Minute)))

	closed := rec.Events(events.EventTradeClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, true, closed[0].Data["reconciled"])
}

func TestReconcileAbandonsStalePending(t *testing.T) {
	ctx := context.Background()
	d := newStore(t)
	started := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	seed(t, d,
		db.Trade{ID: "stale", Symbol: "R_100", Side: "CALL", ContractType: "rise_fall", Stake: 5,
			Status: order.StatusPending, EntryTime: started.Add(-time.Hour), UpdatedAt: started.Add(-time.Hour)},
		db.Trade{ID: "inflight", Symbol: "R_75", Side: "CALL", ContractType: "rise_fall", Stake: 5,
			Status: order.StatusPending, EntryTime: started.Add(time.Minute), UpdatedAt: started.Add(time.Minute)},
	)
	rec := events.NewMemory()
	disconnected := func() (ContractSource, error) { return nil, errors.New("not connected") }
	svc := NewService(d, rec, disconnected, started, func() time.Time { return started.Add(2 * time.Minute) }, zerolog.Nop())

	// No open trades, so the venue is never needed.
	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Abandoned)
	assert.True(t, report.HasDiffs())

	trades := rec.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, "stale", trades[0].ID)
	assert.Equal(t, order.StatusError, trades[0].Status)
	assert.NotEmpty(t, trades[0].Error)
	assert.Len(t, rec.Events(events.EventTradeError), 1)
}

func TestReconcileNeedsVenueForOpenTrades(t *testing.T) {
	d := newStore(t)
	seed(t, d, db.Trade{ID: "open", Symbol: "R_100", Side: "CALL", ContractType: "rise_fall", Stake: 5,
		Status: order.StatusOpen, ContractID: "7", EntryTime: time.Now().Add(-time.Minute), UpdatedAt: time.Now().Add(-time.Minute)})
	svc := NewService(d, events.NewMemory(), func() (ContractSource, error) { return nil, errors.New("not connected") },
		time.Now(), nil, zerolog.Nop())

	_, err := svc.Reconcile(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue unavailable")
}

func TestReconcileFeedsTimedOutOutcomesToRisk(t *testing.T) {
	ctx := context.Background()
	d := newStore(t)
	started := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	seed(t, d,
		db.Trade{ID: "timed-out", Symbol: "R_100", Side: "PUT", ContractType: "multiplier", Stake: 10,
			Status: order.StatusError, Error: "settlement timed out", ContractID: "21",
			EntryTime: started.Add(time.Minute), UpdatedAt: started.Add(2 * time.Minute)},
		db.Trade{ID: "polling", Symbol: "R_50", Side: "CALL", ContractType: "multiplier", Stake: 10,
			Status: order.StatusOpen, ContractID: "22", EntryTime: started.Add(time.Minute), UpdatedAt: started.Add(time.Minute)},
		db.Trade{ID: "rejected", Symbol: "R_50", Side: "CALL", ContractType: "rise_fall", Stake: 10,
			Status: order.StatusError, Error: "venue rejected", EntryTime: started.Add(time.Minute), UpdatedAt: started.Add(time.Minute)},
	)
	var polled []int64
	venue := ContractSourceFunc(func() (ContractSource, error) {
		return contractLookup(func(id int64) deriv.ContractStatus {
			polled = append(polled, id)
			return deriv.ContractStatus{ContractID: id, IsSold: 1, Profit: -10, SellTime: started.Add(time.Hour).Unix()}
		}), nil
	})

	fw := risk.NewFirewall(config.Default().Risk, time.UTC, nil, zerolog.Nop())
	require.NoError(t, fw.Start(ctx, started, 1000))

	rec := persisting{Memory: events.NewMemory(), store: d}
	svc := NewService(d, rec, venue, started, func() time.Time { return started.Add(2 * time.Hour) }, zerolog.Nop())
	svc.OnSettled(func(tr db.Trade) {
		require.NotNil(t, tr.PnL)
		require.NoError(t, fw.RecordOutcome(ctx, *tr.ExitTime, *tr.PnL))
	})

	report, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
	require.Len(t, report.Diffs, 1)
	assert.Equal(t, order.StatusError, report.Diffs[0].From)
	assert.Equal(t, []int64{21}, polled, "contracts still polled by this process are left alone")

	st := fw.State()
	assert.InDelta(t, -10, st.DailyPnL, 1e-9)
	assert.Equal(t, 1, st.Trades)
	assert.InDelta(t, 990, st.Equity, 1e-9)

	rows, err := d.ListTrades(ctx, db.TradeFilter{Status: order.StatusClosed})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "timed-out", rows[0].ID)
	assert.Empty(t, rows[0].Error)

	// A second pass finds nothing left to settle.
	report, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Settled)
	assert.Equal(t, 1, fw.State().Trades)
}

type contractLookup func(id int64) deriv.ContractStatus

func (f contractLookup) OpenContract(_ context.Context, id int64) (deriv.ContractStatus, error) {
	return f(id), nil
}

// persisting keeps trades in the store so later passes see them.
type persisting struct {
	*events.Memory
	store *db.Database
}

func (p persisting) SaveTrade(ctx context.Context, t db.Trade) error {
	if err := p.Memory.SaveTrade(ctx, t); err != nil {
		return err
	}
	return p.store.UpsertTrade(ctx, t)
}
