package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("record not found")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ----------------------------------------
// Event Queries
// ----------------------------------------

const insertEventSQL = `
	INSERT INTO events (id, ts_ms, level, type, symbol, message, data_json)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// InsertEvent appends one event.
func (d *Database) InsertEvent(ctx context.Context, e Event) error {
	_, err := d.DB.ExecContext(ctx, d.rebind(insertEventSQL), eventArgs(e)...)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertEvents appends a batch of events in one transaction.
func (d *Database) InsertEvents(ctx context.Context, batch []Event) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, d.rebind(insertEventSQL))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare event batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.ExecContext(ctx, eventArgs(e)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event batch: %w", err)
	}
	return nil
}

func eventArgs(e Event) []any {
	data := e.DataJSON
	if data == "" {
		data = "{}"
	}
	return []any{e.ID, e.Time.UnixMilli(), e.Level, e.Type, e.Symbol, e.Message, data}
}

// LatestEvent returns the most recent event of the given type.
func (d *Database) LatestEvent(ctx context.Context, eventType string) (*Event, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT id, ts_ms, level, type, symbol, message, data_json
		FROM events
		WHERE type = ?
		ORDER BY ts_ms DESC
		LIMIT 1
	`), eventType)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest event: %w", err)
	}
	return &e, nil
}

// ListEvents returns events newest first.
func (d *Database) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	limit, offset := clampPage(f.Limit, f.Offset)
	args = append(args, limit, offset)

	q := `SELECT id, ts_ms, level, type, symbol, message, data_json FROM events` +
		whereClause(where) + ` ORDER BY ts_ms DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := d.DB.QueryContext(ctx, d.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

const tradeColumns = `id, symbol, side, contract_type, stake, score, status, entry_ms, exit_ms,
	entry_price, exit_price, pnl, take_profit, stop_loss, multiplier, requested_multiplier,
	contract_id, error, reasons_json, balance_before, balance_after, updated_ms`

// UpsertTrade inserts a trade or overwrites its mutable fields.
func (d *Database) UpsertTrade(ctx context.Context, t Trade) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	reasons := t.ReasonsJSON
	if reasons == "" {
		reasons = "[]"
	}
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			exit_ms = excluded.exit_ms,
			entry_price = excluded.entry_price,
			exit_price = excluded.exit_price,
			pnl = excluded.pnl,
			take_profit = excluded.take_profit,
			stop_loss = excluded.stop_loss,
			multiplier = excluded.multiplier,
			requested_multiplier = excluded.requested_multiplier,
			contract_id = excluded.contract_id,
			error = excluded.error,
			balance_after = excluded.balance_after,
			updated_ms = excluded.updated_ms
	`),
		t.ID, t.Symbol, t.Side, t.ContractType, t.Stake, t.Score, t.Status, t.EntryTime.UnixMilli(),
		nullMillis(t.ExitTime), nullFloat(t.EntryPrice), nullFloat(t.ExitPrice), nullFloat(t.PnL),
		nullFloat(t.TakeProfit), nullFloat(t.StopLoss), nullInt(t.Multiplier), nullInt(t.RequestedMultiplier),
		t.ContractID, t.Error, reasons, nullFloat(t.BalanceBefore), nullFloat(t.BalanceAfter), t.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert trade: %w", err)
	}
	return nil
}

// GetTrade loads one trade by id.
func (d *Database) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`SELECT `+tradeColumns+` FROM trades WHERE id = ?`), id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	return &t, nil
}

// ListTrades returns trades newest first within the filter's entry-time range.
func (d *Database) ListTrades(ctx context.Context, f TradeFilter) ([]Trade, error) {
	where, args := tradeWhere(f)
	limit, offset := clampPage(f.Limit, f.Offset)
	args = append(args, limit, offset)

	rows, err := d.DB.QueryContext(ctx, d.rebind(`SELECT `+tradeColumns+` FROM trades`+
		whereClause(where)+` ORDER BY entry_ms DESC, id DESC LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTrades counts trades matching the filter (paging ignored).
func (d *Database) CountTrades(ctx context.Context, f TradeFilter) (int, error) {
	where, args := tradeWhere(f)
	var n int
	err := d.DB.QueryRowContext(ctx, d.rebind(`SELECT COUNT(*) FROM trades`+whereClause(where)), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// DeleteTrade removes one trade.
func (d *Database) DeleteTrade(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, d.rebind(`DELETE FROM trades WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTrades removes every trade whose entry time falls in [from, to).
func (d *Database) DeleteTrades(ctx context.Context, from, to time.Time) (int64, error) {
	where, args := tradeWhere(TradeFilter{From: from, To: to})
	res, err := d.DB.ExecContext(ctx, d.rebind(`DELETE FROM trades`+whereClause(where)), args...)
	if err != nil {
		return 0, fmt.Errorf("delete trades: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RealizedPnL sums pnl of closed trades entered at or after since.
func (d *Database) RealizedPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum sql.NullFloat64
	err := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT SUM(pnl) FROM trades WHERE status = 'closed' AND entry_ms >= ?
	`), since.UnixMilli()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum pnl: %w", err)
	}
	return sum.Float64, nil
}

func tradeWhere(f TradeFilter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, "entry_ms >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		where = append(where, "entry_ms < ?")
		args = append(args, f.To.UnixMilli())
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, f.Symbol)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Unsettled {
		where = append(where, "contract_id <> ''", "pnl IS NULL")
	}
	return where, args
}

// ----------------------------------------
// Control Queries
// ----------------------------------------

// GetKillSwitch reads the kill-switch row; a missing row means disabled.
func (d *Database) GetKillSwitch(ctx context.Context) (KillSwitch, error) {
	var (
		ks      KillSwitch
		enabled int
		ms      int64
	)
	err := d.DB.QueryRowContext(ctx, `SELECT enabled, reason, updated_ms FROM kill_switch WHERE id = 1`).
		Scan(&enabled, &ks.Reason, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return KillSwitch{}, nil
	}
	if err != nil {
		return KillSwitch{}, fmt.Errorf("query kill switch: %w", err)
	}
	ks.Enabled = enabled == 1
	ks.UpdatedAt = time.UnixMilli(ms).UTC()
	return ks, nil
}

// SetKillSwitch overwrites the kill-switch row.
func (d *Database) SetKillSwitch(ctx context.Context, ks KillSwitch) error {
	if ks.UpdatedAt.IsZero() {
		ks.UpdatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO kill_switch (id, enabled, reason, updated_ms)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			reason = excluded.reason,
			updated_ms = excluded.updated_ms
	`), boolToInt(ks.Enabled), ks.Reason, ks.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}
	return nil
}

// GetSetting returns a runtime setting or ErrNotFound.
func (d *Database) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := d.DB.QueryRowContext(ctx, d.rebind(`SELECT value FROM runtime_settings WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting stores a runtime setting.
func (d *Database) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO runtime_settings (key, value, updated_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_ms = excluded.updated_ms
	`), key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes a runtime setting; deleting a missing key is not an error.
func (d *Database) DeleteSetting(ctx context.Context, key string) error {
	if _, err := d.DB.ExecContext(ctx, d.rebind(`DELETE FROM runtime_settings WHERE key = ?`), key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// ----------------------------------------
// Risk Queries
// ----------------------------------------

// LoadRiskDay returns the bookkeeping row for day or ErrNotFound.
func (d *Database) LoadRiskDay(ctx context.Context, day string) (*RiskDay, error) {
	var (
		r        RiskDay
		lastLoss sql.NullInt64
		updated  int64
	)
	err := d.DB.QueryRowContext(ctx, d.rebind(`
		SELECT day, start_equity, peak_equity, daily_pnl, trades, consecutive_losses, last_loss_ms, updated_ms
		FROM risk_days WHERE day = ?
	`), day).Scan(&r.Day, &r.StartEquity, &r.PeakEquity, &r.DailyPnL, &r.Trades, &r.ConsecutiveLosses, &lastLoss, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query risk day: %w", err)
	}
	r.LastLoss = timePtr(lastLoss)
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return &r, nil
}

// SaveRiskDay upserts the bookkeeping row for r.Day.
func (d *Database) SaveRiskDay(ctx context.Context, r RiskDay) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO risk_days (day, start_equity, peak_equity, daily_pnl, trades, consecutive_losses, last_loss_ms, updated_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			start_equity = excluded.start_equity,
			peak_equity = excluded.peak_equity,
			daily_pnl = excluded.daily_pnl,
			trades = excluded.trades,
			consecutive_losses = excluded.consecutive_losses,
			last_loss_ms = excluded.last_loss_ms,
			updated_ms = excluded.updated_ms
	`), r.Day, r.StartEquity, r.PeakEquity, r.DailyPnL, r.Trades, r.ConsecutiveLosses, nullMillis(r.LastLoss), r.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save risk day: %w", err)
	}
	return nil
}

// ----------------------------------------
// helpers
// ----------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (Event, error) {
	var (
		e  Event
		ms int64
	)
	if err := s.Scan(&e.ID, &ms, &e.Level, &e.Type, &e.Symbol, &e.Message, &e.DataJSON); err != nil {
		return Event{}, err
	}
	e.Time = time.UnixMilli(ms).UTC()
	return e, nil
}

func scanTrade(s scanner) (Trade, error) {
	var (
		t                            Trade
		entryMs, updatedMs           int64
		exitMs, mult, reqMult        sql.NullInt64
		entryPx, exitPx, pnl, tp, sl sql.NullFloat64
		balBefore, balAfter          sql.NullFloat64
	)
	err := s.Scan(&t.ID, &t.Symbol, &t.Side, &t.ContractType, &t.Stake, &t.Score, &t.Status, &entryMs, &exitMs,
		&entryPx, &exitPx, &pnl, &tp, &sl, &mult, &reqMult,
		&t.ContractID, &t.Error, &t.ReasonsJSON, &balBefore, &balAfter, &updatedMs)
	if err != nil {
		return Trade{}, err
	}
	t.EntryTime = time.UnixMilli(entryMs).UTC()
	t.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	t.ExitTime = timePtr(exitMs)
	t.EntryPrice = floatPtr(entryPx)
	t.ExitPrice = floatPtr(exitPx)
	t.PnL = floatPtr(pnl)
	t.TakeProfit = floatPtr(tp)
	t.StopLoss = floatPtr(sl)
	t.Multiplier = intPtr(mult)
	t.RequestedMultiplier = intPtr(reqMult)
	t.BalanceBefore = floatPtr(balBefore)
	t.BalanceAfter = floatPtr(balAfter)
	return t, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
