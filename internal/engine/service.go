package engine

import (
	"context"
	"fmt"
	"time"

	"synth-core/internal/monitor"
	"synth-core/pkg/db"
)

// Service is everything the control surface may do with a running engine.
// The API layer only talks to the engine through this interface.
type Service interface {
	// Status
	Status(ctx context.Context) Status
	LatestSnapshot(ctx context.Context) (monitor.Snapshot, string, error)

	// Trades and events
	ListTrades(ctx context.Context, f db.TradeFilter) (TradePage, error)
	DeleteTrade(ctx context.Context, id string) error
	DeleteTrades(ctx context.Context, from, to time.Time) (int64, error)
	ListEvents(ctx context.Context, f db.EventFilter) ([]db.Event, error)

	// Operator controls
	KillSwitch(ctx context.Context) (db.KillSwitch, error)
	SetKillSwitch(ctx context.Context, enabled bool, reason string) (db.KillSwitch, error)
	ContractType() ContractTypeInfo
	SetContractType(ctx context.Context, contractType string) (ContractTypeInfo, error)
}

var _ Service = (*Engine)(nil)

// Status reports run state, balance, risk bookkeeping and today's trades.
func (e *Engine) Status(ctx context.Context) Status {
	e.mu.Lock()
	running, started := e.running, e.started
	inFlight := make([]string, 0, len(e.inFlight))
	for sym := range e.inFlight {
		inFlight = append(inFlight, sym)
	}
	e.mu.Unlock()

	st := Status{
		Environment:  e.cfg.Environment,
		Running:      running,
		DryRun:       e.dryRun,
		Symbols:      e.cfg.Trading.Symbols,
		Connection:   connectionLabel,
		ContractType: e.contract.Effective(),
		Balance:      e.balance.Get(),
		Risk:         e.firewall.State(),
		InFlight:     inFlight,
	}
	if e.conn != nil {
		st.Connection = e.conn.State().String()
	}
	if running {
		st.StartedAt = started
		st.Uptime = e.now().Sub(started).Round(time.Second).String()
	}
	if ks, err := e.killSwitch.Read(ctx); err == nil {
		st.KillSwitch = ks.Enabled
	}

	dayStart := e.dayStart(e.now())
	if n, err := e.store.CountTrades(ctx, db.TradeFilter{From: dayStart}); err == nil {
		st.TradesToday = n
	} else {
		e.log.Warn().Err(err).Msg("count trades failed")
	}
	if pnl, err := e.store.RealizedPnL(ctx, dayStart); err == nil {
		st.DailyPnL = pnl
	} else {
		e.log.Warn().Err(err).Msg("realized pnl failed")
	}
	return st
}

// dayStart is the first instant of the trading day containing t.
func (e *Engine) dayStart(t time.Time) time.Time {
	anchor := time.Duration(e.cfg.Risk.DayAnchorHour) * time.Hour
	local := t.In(e.loc).Add(-anchor)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.loc).Add(anchor)
}

// LatestSnapshot reads the latest published metrics document through the
// read-through store. The second value names where it came from.
func (e *Engine) LatestSnapshot(ctx context.Context) (monitor.Snapshot, string, error) {
	return e.reader.Latest(ctx)
}

func (e *Engine) ListTrades(ctx context.Context, f db.TradeFilter) (TradePage, error) {
	trades, err := e.store.ListTrades(ctx, f)
	if err != nil {
		return TradePage{}, fmt.Errorf("list trades: %w", err)
	}
	total, err := e.store.CountTrades(ctx, db.TradeFilter{From: f.From, To: f.To, Symbol: f.Symbol})
	if err != nil {
		return TradePage{}, fmt.Errorf("count trades: %w", err)
	}
	if trades == nil {
		trades = []db.Trade{}
	}
	return TradePage{Trades: trades, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (e *Engine) DeleteTrade(ctx context.Context, id string) error {
	return e.store.DeleteTrade(ctx, id)
}

func (e *Engine) DeleteTrades(ctx context.Context, from, to time.Time) (int64, error) {
	n, err := e.store.DeleteTrades(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("delete trades: %w", err)
	}
	e.log.Info().Time("from", from).Time("to", to).Int64("deleted", n).Msg("trades cleared")
	return n, nil
}

func (e *Engine) ListEvents(ctx context.Context, f db.EventFilter) ([]db.Event, error) {
	evs, err := e.store.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if evs == nil {
		evs = []db.Event{}
	}
	return evs, nil
}

func (e *Engine) KillSwitch(ctx context.Context) (db.KillSwitch, error) {
	return e.killSwitch.Read(ctx)
}

// SetKillSwitch is the only writer of the kill-switch.
func (e *Engine) SetKillSwitch(ctx context.Context, enabled bool, reason string) (db.KillSwitch, error) {
	if err := e.killSwitch.Write(ctx, enabled, reason); err != nil {
		return db.KillSwitch{}, err
	}
	e.log.Warn().Bool("enabled", enabled).Str("reason", reason).Msg("kill-switch changed")
	return e.killSwitch.Read(ctx)
}

func (e *Engine) ContractType() ContractTypeInfo {
	return ContractTypeInfo{
		Effective:  e.contract.Effective(),
		Configured: e.cfg.Trading.ContractType,
		Override:   e.contract.Override(),
	}
}

// SetContractType applies from the next decision cycle; "" clears the
// override.
func (e *Engine) SetContractType(ctx context.Context, contractType string) (ContractTypeInfo, error) {
	if err := e.contract.Set(ctx, contractType); err != nil {
		return ContractTypeInfo{}, err
	}
	info := e.ContractType()
	e.log.Info().Str("effective", info.Effective).Str("override", info.Override).Msg("contract type changed")
	return info, nil
}
