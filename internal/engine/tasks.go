package engine

import (
	"context"
	"fmt"
	"time"

	"synth-core/internal/events"
	"synth-core/internal/housekeeping"
	"synth-core/internal/monitor"
)

var _ housekeeping.Tasks = (*Engine)(nil)

// connectionLabel names the tick source when no connection manager exists.
const connectionLabel = "local_feed"

// Snapshot assembles the current metrics document.
func (e *Engine) Snapshot(ctx context.Context) monitor.Snapshot {
	b := e.balance.Get()
	ks, err := e.killSwitch.Read(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("kill-switch unreadable for snapshot")
	}
	conn := connectionLabel
	if e.conn != nil {
		conn = e.conn.State().String()
	}
	rs := e.firewall.State()
	return monitor.Snapshot{
		Timestamp:    e.now().UTC(),
		Balance:      b.Total,
		Currency:     b.Currency,
		Connection:   conn,
		KillSwitch:   ks.Enabled,
		DryRun:       e.dryRun,
		ContractType: e.contract.Effective(),
		Symbols:      e.symbolViews(),
		Risk: map[string]any{
			"day":                rs.Day,
			"equity":             rs.Equity,
			"peak_equity":        rs.PeakEquity,
			"drawdown":           rs.Drawdown(),
			"daily_pnl":          rs.DailyPnL,
			"trades":             rs.Trades,
			"consecutive_losses": rs.ConsecutiveLosses,
		},
	}.WithRuntime()
}

// PublishSnapshot records a metrics event and overwrites the snapshot file.
func (e *Engine) PublishSnapshot(ctx context.Context) error {
	snap := e.Snapshot(ctx)
	fields, err := snap.Fields()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	e.rec.Record(events.Entry{Type: events.EventMetrics, Data: fields})
	if path := e.cfg.Monitoring.SnapshotPath; path != "" {
		if err := monitor.WriteFile(path, snap); err != nil {
			return err
		}
	}
	return nil
}

// RefreshBalance syncs the venue balance. The first successful sync starts
// risk bookkeeping.
func (e *Engine) RefreshBalance(ctx context.Context) error {
	if e.dryRun {
		return nil
	}
	if err := e.balance.Sync(ctx); err != nil {
		return err
	}
	b := e.balance.Get()
	e.rec.Record(events.Entry{
		Type:    events.EventBalance,
		Message: fmt.Sprintf("%.2f %s", b.Total, b.Currency),
		Data:    map[string]any{"total": b.Total, "available": b.Available, "locked": b.Locked, "currency": b.Currency},
	})
	if !e.firewall.Started() {
		if err := e.firewall.Start(ctx, e.now(), b.Total); err != nil {
			return fmt.Errorf("start risk: %w", err)
		}
	}
	return nil
}

// RolloverDay resets the risk day when now has crossed the anchor and clears
// a loss streak whose cooldown has elapsed.
func (e *Engine) RolloverDay(ctx context.Context, now time.Time) bool {
	rolled := e.firewall.Rollover(ctx, now)
	if e.firewall.ExpireStreak(ctx, now) {
		e.log.Info().Msg("loss streak cleared after cooldown")
	}
	return rolled
}
