package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"synth-core/internal/events"
	"synth-core/internal/indicators"
	"synth-core/internal/market"
	"synth-core/internal/monitor"
	"synth-core/internal/order"
	"synth-core/internal/sizing"
	"synth-core/internal/strategy"
	"synth-core/pkg/config"
	"synth-core/pkg/db"
)

// Rejection stages outside the filter chain.
const (
	stageSerialization = "serialization"
	stageRisk          = "risk"
	stageSizing        = "sizing"

	reasonSymbolBusy     = "symbol_busy"
	reasonStakeNotLocked = "stake_not_locked"
)

// history requests are capped by the venue.
const maxHistoryCandles = 5000

func (e *Engine) symbolState(symbol string) (*market.Aggregator, *indicators.Engine) {
	agg, ok := e.aggs[symbol]
	if !ok {
		agg = market.NewAggregator(symbol, e.cfg.Market.Interval)
		e.aggs[symbol] = agg
		e.inds[symbol] = indicators.NewEngine(symbol, indicators.Periods{
			EMAFast: e.cfg.Indicators.EMAFast,
			EMASlow: e.cfg.Indicators.EMASlow,
			RSI:     e.cfg.Indicators.RSI,
			ATR:     e.cfg.Indicators.ATR,
		})
	}
	return agg, e.inds[symbol]
}

func (e *Engine) onTick(ctx context.Context, t market.Tick) {
	e.metrics.Ticks.WithLabelValues(t.Symbol).Inc()
	if !e.warmed[t.Symbol] {
		e.warmed[t.Symbol] = true
		if e.cfg.Engine.WarmupHistory {
			e.warmup(ctx, t.Symbol)
		}
	}

	if err := e.strat.OnTick(t); err != nil {
		e.log.Debug().Err(err).Str("symbol", t.Symbol).Msg("htf tick dropped")
	}
	agg, _ := e.symbolState(t.Symbol)
	closed, err := agg.Add(t)
	if err != nil {
		e.dropped(t.Symbol, t.Time, err)
		return
	}
	for _, c := range closed {
		e.onCandle(ctx, c, true)
	}

	e.mu.Lock()
	v := e.view[t.Symbol]
	v.LastPrice = t.Price
	e.view[t.Symbol] = v
	e.mu.Unlock()
}

func (e *Engine) dropped(symbol string, at time.Time, err error) {
	e.log.Warn().Err(err).Str("symbol", symbol).Time("tick_time", at).Msg("input dropped")
	e.rec.Record(events.Entry{
		Type:    events.EventCandleDropped,
		Level:   events.LevelWarn,
		Symbol:  symbol,
		Message: err.Error(),
		Data:    map[string]any{"tick_time": at.UTC().Format(time.RFC3339Nano)},
	})
}

// onCandle runs one closed candle through indicators and strategy. Only live
// candles may produce intents.
func (e *Engine) onCandle(ctx context.Context, c market.Candle, live bool) {
	e.metrics.Candle(c.Synthetic)
	_, ind := e.symbolState(c.Symbol)
	snap := ind.Update(c)
	sig := e.strat.OnCandle(c, snap)
	e.refreshView(c, snap)
	if sig == nil || !live {
		return
	}
	e.onSignal(ctx, *sig)
}

func (e *Engine) refreshView(c market.Candle, snap indicators.Snapshot) {
	levels := e.strat.Levels(c.Symbol)
	htf := "undefined"
	if trend, ok := e.strat.HTF(c.Symbol); ok {
		htf = trend.String()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.view[c.Symbol]
	v.LastPrice = c.Close
	v.Candles = snap.Candles
	v.EMAFast = snap.EMAFast
	v.EMASlow = snap.EMASlow
	v.RSI = snap.RSI
	v.ATR = snap.ATR
	v.Support = levels.Support
	v.Resistance = levels.Resistance
	v.HTFTrend = htf
	e.view[c.Symbol] = v
}

// onSignal takes a signal to exactly one terminal outcome: a rejection event
// or a submitted intent.
func (e *Engine) onSignal(ctx context.Context, sig strategy.Signal) {
	e.metrics.Signals.WithLabelValues(string(sig.Side)).Inc()
	e.rec.Record(events.Entry{
		Type:    events.EventSignal,
		Symbol:  sig.Symbol,
		Message: fmt.Sprintf("%s %s score=%.3f", sig.Symbol, sig.Side, sig.Score),
		Data:    sig.Fields(),
	})

	if v := e.filters.Evaluate(ctx, sig); !v.Passed {
		e.reject(events.EventSignalRejected, sig, v.Gate, v.Reason, v.Detail)
		return
	}
	if !e.acquire(sig.Symbol, sig.ID) {
		e.reject(events.EventSymbolBusy, sig, stageSerialization, reasonSymbolBusy, "")
		return
	}
	submitted := false
	defer func() {
		if !submitted {
			e.release(sig.Symbol)
		}
	}()

	if dec := e.firewall.Check(ctx, e.now()); !dec.Allowed {
		detail := dec.Detail
		if dec.CooldownRemaining > 0 {
			detail = fmt.Sprintf("%s remaining=%s", detail, dec.CooldownRemaining.Round(time.Second))
		}
		e.reject(events.EventRiskRejected, sig, stageRisk, dec.Reason, detail)
		return
	}

	size := e.sizer.Size(sizing.Input{
		Score:   sig.Score,
		Balance: e.balance.Available(),
		ATR:     sig.ATR,
		Price:   sig.Price,
	})
	if size.Skip() {
		e.reject(events.EventSizingSkipped, sig, stageSizing, size.Reason, "")
		return
	}
	in := e.intent(sig, size)
	if err := e.balance.Lock(in.ID, size.StakeFloat()); err != nil {
		e.reject(events.EventSizingSkipped, sig, stageSizing, reasonStakeNotLocked, err.Error())
		return
	}

	err := e.exec.Submit(e.execCtx, in, e.onResult)
	if err != nil {
		e.balance.Unlock(in.ID)
		data := in.Fields()
		data["error"] = err.Error()
		e.rec.Record(events.Entry{
			Type:    events.EventTradeError,
			Level:   events.LevelError,
			Symbol:  sig.Symbol,
			Message: fmt.Sprintf("submit %s: %v", in.ID, err),
			Data:    data,
		})
		return
	}
	submitted = true
	e.log.Info().
		Str("symbol", sig.Symbol).
		Str("side", in.Side).
		Str("stake", in.Stake.StringFixed(2)).
		Str("contract_type", in.ContractType).
		Float64("score", sig.Score).
		Msg("intent submitted")
}

func (e *Engine) reject(typ events.Event, sig strategy.Signal, stage, reason, detail string) {
	e.metrics.Rejection(stage, reason)
	data := sig.Fields()
	data["stage"] = stage
	data["reason"] = reason
	if detail != "" {
		data["detail"] = detail
	}
	e.rec.Record(events.Entry{
		Type:    typ,
		Symbol:  sig.Symbol,
		Message: fmt.Sprintf("%s %s rejected at %s: %s", sig.Symbol, sig.Side, stage, reason),
		Data:    data,
	})
	e.log.Debug().
		Str("symbol", sig.Symbol).
		Str("stage", stage).
		Str("reason", reason).
		Msg("signal rejected")
}

func (e *Engine) intent(sig strategy.Signal, size sizing.Result) order.Intent {
	in := order.Intent{
		ID:            uuid.NewString(),
		SignalID:      sig.ID,
		Symbol:        sig.Symbol,
		Side:          string(sig.Side),
		Stake:         size.Stake,
		Score:         sig.Score,
		Reasons:       sig.Reasons,
		ContractType:  e.contract.Effective(),
		Price:         sig.Price,
		BalanceBefore: e.balance.Get().Total,
		CreatedAt:     e.now(),
	}
	switch in.ContractType {
	case config.ContractMultiplier:
		m := e.cfg.Trading.Multiplier
		tp, sl := order.LimitAmounts(size.Stake, m.TakeProfitPct, m.StopLossPct)
		in.TakeProfit, in.StopLoss = &tp, &sl
		in.Multiplier = m.Multiplier
		in.Duration, in.DurationUnit = m.Duration, m.DurationUnit
	default:
		in.Duration, in.DurationUnit = e.cfg.Trading.RiseFall.Duration, e.cfg.Trading.RiseFall.DurationUnit
	}
	return in
}

// onResult runs on an executor worker. Risk and balance updates happen
// before the symbol is released, so the next intent sees them.
func (e *Engine) onResult(r order.ExecutionResult) {
	defer e.release(r.Intent.Symbol)

	status := r.Trade.Status
	if r.Skipped {
		status = "skipped"
	}
	e.metrics.Execution(status, r.Latency)
	if !r.Settled() {
		e.balance.Unlock(r.Intent.ID)
		return
	}

	pnl := *r.Trade.PnL
	at := r.Timestamp
	if r.Trade.ExitTime != nil {
		at = *r.Trade.ExitTime
	}
	e.balance.Settle(r.Intent.ID, pnl)
	if err := e.firewall.RecordOutcome(context.WithoutCancel(e.execCtx), at, pnl); err != nil {
		e.log.Error().Err(err).Str("trade_id", r.Trade.ID).Msg("record outcome failed")
	}
}

func (e *Engine) acquire(symbol, intentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[symbol]; busy {
		return false
	}
	e.inFlight[symbol] = intentID
	return true
}

func (e *Engine) release(symbol string) {
	e.mu.Lock()
	delete(e.inFlight, symbol)
	e.mu.Unlock()
}

// warmup replays venue history through the candle path. Signals from
// history are discarded.
func (e *Engine) warmup(ctx context.Context, symbol string) {
	hist, err := e.history()
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("warm-up skipped")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*e.cfg.Deriv.RequestTimeout)
	defer cancel()

	ind := e.cfg.Indicators
	htfCount := min(3*max(ind.HTFEMASlow, ind.RSI+1, ind.ATR+1), maxHistoryCandles)
	baseCount := min(3*max(ind.EMASlow, ind.RSI+1, ind.ATR+1, e.cfg.Strategy.Lookback), maxHistoryCandles)

	htf, err := hist.GetCandles(ctx, symbol, e.cfg.Market.HTFInterval, htfCount)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("htf history unavailable")
	}
	for _, c := range htf {
		if err := e.strat.SeedHTF(c); err != nil {
			e.log.Debug().Err(err).Str("symbol", symbol).Msg("htf history candle dropped")
		}
	}

	base, err := hist.GetCandles(ctx, symbol, e.cfg.Market.Interval, baseCount)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("history unavailable")
		return
	}
	agg, _ := e.symbolState(symbol)
	for _, c := range base {
		closed, err := agg.Seed(c)
		if err != nil {
			e.log.Debug().Err(err).Str("symbol", symbol).Msg("history candle dropped")
			continue
		}
		for _, cc := range closed {
			e.onCandle(ctx, cc, false)
		}
	}
	e.log.Info().
		Str("symbol", symbol).
		Int("candles", len(base)).
		Int("htf_candles", len(htf)).
		Msg("indicators warmed from history")
}

func (e *Engine) symbolViews() map[string]monitor.SymbolSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]monitor.SymbolSnapshot, len(e.view))
	for sym, v := range e.view {
		_, v.InFlight = e.inFlight[sym]
		out[sym] = v
	}
	return out
}

// onReconciled feeds an outcome settled by reconciliation into risk
// bookkeeping. The outcome is learned now, so it counts against today.
func (e *Engine) onReconciled(tr db.Trade) {
	if tr.PnL == nil {
		return
	}
	if err := e.firewall.RecordOutcome(context.WithoutCancel(e.execCtx), e.now(), *tr.PnL); err != nil {
		e.log.Error().Err(err).Str("trade_id", tr.ID).Msg("record reconciled outcome failed")
	}
}
