package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"synth-core/internal/events"
	"synth-core/pkg/config"
	"synth-core/pkg/db"
	"synth-core/pkg/deriv"
)

var (
	// ErrSettleTimeout marks a contract the venue never reported as sold in time.
	ErrSettleTimeout = errors.New("settlement timed out")
	// ErrVenueRejected wraps proposal and buy failures returned by the venue.
	ErrVenueRejected = errors.New("venue rejected")
)

// Submitter executes one intent to a terminal result.
type Submitter interface {
	Execute(ctx context.Context, in Intent) Result
}

// Venue is the subset of the venue API the executor needs.
type Venue interface {
	MultiplierSource
	Proposal(ctx context.Context, r deriv.ProposalRequest) (deriv.Proposal, error)
	Buy(ctx context.Context, proposalID string, price float64) (deriv.Purchase, error)
	OpenContract(ctx context.Context, contractID int64) (deriv.ContractStatus, error)
}

// VenueFunc returns the live venue session, or an error when disconnected.
type VenueFunc func() (Venue, error)

// ExecutorConfig tunes live execution.
type ExecutorConfig struct {
	Currency          string
	PollInterval      time.Duration
	RiseFallTimeout   time.Duration
	MultiplierTimeout time.Duration
}

// Executor submits intents to the venue and follows them to settlement.
// Proposal and buy failures end in an error trade and are never retried.
// Settlement polls survive reconnects until the settle timeout.
type Executor struct {
	venue       VenueFunc
	multipliers *MultiplierResolver
	rec         events.Recorder
	cfg         ExecutorConfig
	log         zerolog.Logger
	now         func() time.Time
	onOpen      func(Intent, db.Trade)
}

func NewExecutor(venue VenueFunc, multipliers *MultiplierResolver, rec events.Recorder, cfg ExecutorConfig, log zerolog.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RiseFallTimeout <= 0 {
		cfg.RiseFallTimeout = 180 * time.Second
	}
	if cfg.MultiplierTimeout <= 0 {
		cfg.MultiplierTimeout = 24 * time.Hour
	}
	return &Executor{
		venue:       venue,
		multipliers: multipliers,
		rec:         rec,
		cfg:         cfg,
		log:         log.With().Str("component", "executor").Logger(),
		now:         time.Now,
	}
}

// OnOpen registers a callback invoked once the venue confirms a purchase.
func (e *Executor) OnOpen(fn func(Intent, db.Trade)) {
	e.onOpen = fn
}

// Execute runs proposal, buy and settlement polling for one intent.
func (e *Executor) Execute(ctx context.Context, in Intent) Result {
	// Bookkeeping writes must land even when ctx is cancelled by shutdown.
	store := context.WithoutCancel(ctx)
	tr := newTrade(in, e.now())
	e.save(store, &tr)

	v, err := e.venue()
	if err != nil {
		return e.fail(store, in, tr, fmt.Errorf("venue unavailable: %w", err))
	}

	req := deriv.ProposalRequest{
		Symbol:       in.Symbol,
		ContractType: in.Side,
		Amount:       in.Stake.InexactFloat64(),
		Currency:     e.cfg.Currency,
		Duration:     in.Duration,
		DurationUnit: in.DurationUnit,
	}
	timeout := e.cfg.RiseFallTimeout
	if in.ContractType == config.ContractMultiplier {
		timeout = e.cfg.MultiplierTimeout
		e.applyMultiplier(ctx, v, in, &req, &tr)
	}

	prop, err := v.Proposal(ctx, req)
	if err != nil {
		return e.fail(store, in, tr, fmt.Errorf("%w: proposal: %w", ErrVenueRejected, err))
	}
	buy, err := v.Buy(ctx, prop.ID, req.Amount)
	if err != nil {
		return e.fail(store, in, tr, fmt.Errorf("%w: buy: %w", ErrVenueRejected, err))
	}

	tr.Status = StatusOpen
	tr.ContractID = fmt.Sprint(buy.ContractID)
	if buy.StartTime > 0 {
		tr.EntryTime = time.Unix(buy.StartTime, 0)
	}
	if prop.Spot > 0 {
		tr.EntryPrice = f64(prop.Spot)
	}
	e.save(store, &tr)
	e.rec.Record(events.Entry{
		Type:    events.EventTradeOpen,
		Symbol:  in.Symbol,
		Message: fmt.Sprintf("%s %s opened", in.Symbol, in.Side),
		Data:    tradeFields(in, tr),
	})
	e.log.Info().
		Str("symbol", in.Symbol).
		Str("side", in.Side).
		Str("contract_id", tr.ContractID).
		Str("stake", in.Stake.StringFixed(2)).
		Msg("contract bought")
	if e.onOpen != nil {
		e.onOpen(in, tr)
	}

	st, err := e.settle(ctx, buy.ContractID, timeout)
	if err != nil {
		if !errors.Is(err, ErrSettleTimeout) {
			// Confirmed contracts stay open; reconciliation settles them later.
			e.log.Warn().Err(err).Str("contract_id", tr.ContractID).Msg("settlement abandoned, trade left open")
			return Result{Intent: in, Trade: tr, Err: err}
		}
		return e.fail(store, in, tr, err)
	}

	exit := e.now()
	if st.SellTime > 0 {
		exit = time.Unix(st.SellTime, 0)
	}
	tr.Status = StatusClosed
	tr.ExitTime = &exit
	tr.PnL = f64(st.Profit)
	if st.EntrySpot > 0 {
		tr.EntryPrice = f64(st.EntrySpot)
	}
	if st.ExitSpot > 0 {
		tr.ExitPrice = f64(st.ExitSpot)
	}
	if in.BalanceBefore > 0 {
		tr.BalanceAfter = f64(in.BalanceBefore + st.Profit)
	}
	e.save(store, &tr)
	e.rec.Record(events.Entry{
		Type:    events.EventTradeClosed,
		Symbol:  in.Symbol,
		Message: fmt.Sprintf("%s %s closed pnl=%.2f", in.Symbol, in.Side, st.Profit),
		Data:    tradeFields(in, tr),
	})
	return Result{Intent: in, Trade: tr}
}

// applyMultiplier resolves leverage, converts the duration to seconds and
// attaches the limit order.
func (e *Executor) applyMultiplier(ctx context.Context, v Venue, in Intent, req *deriv.ProposalRequest, tr *db.Trade) {
	if strings.EqualFold(in.Side, "CALL") {
		req.ContractType = "MULTUP"
	} else {
		req.ContractType = "MULTDOWN"
	}
	allowed := e.multipliers.Allowed(ctx, v, in.Symbol)
	resolved := Nearest(allowed, in.Multiplier)
	req.Multiplier = resolved
	tr.Multiplier = intPtr(resolved)
	tr.RequestedMultiplier = intPtr(in.Multiplier)
	if resolved != in.Multiplier {
		e.log.Info().
			Str("symbol", in.Symbol).
			Int("requested", in.Multiplier).
			Int("resolved", resolved).
			Ints("allowed", allowed).
			Msg("multiplier substituted")
	}

	req.Duration, req.DurationUnit = durationSeconds(in.Duration, in.DurationUnit)
	if in.TakeProfit != nil && in.StopLoss != nil {
		req.LimitOrder = &deriv.LimitOrder{
			TakeProfit: in.TakeProfit.InexactFloat64(),
			StopLoss:   in.StopLoss.InexactFloat64(),
		}
	}
}

// settle polls until the venue reports the contract sold. A reconnect
// replaces the session, so the venue is resolved again for every poll and
// poll errors only delay the next attempt.
func (e *Executor) settle(ctx context.Context, contractID int64, timeout time.Duration) (deriv.ContractStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	var (
		st       deriv.ContractStatus
		failures int
	)
	for {
		cur, err := e.poll(ctx, contractID)
		switch {
		case err == nil:
			st = cur
			if st.Sold() {
				if failures > 0 {
					e.log.Info().Int64("contract_id", contractID).Int("failed_polls", failures).Msg("settlement polling recovered")
				}
				return st, nil
			}
		case ctx.Err() == nil:
			failures++
			ev := e.log.Debug()
			if failures == 1 {
				ev = e.log.Warn()
			}
			ev.Err(err).Int64("contract_id", contractID).Int("failed_polls", failures).Msg("settlement poll failed")
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return st, ErrSettleTimeout
			}
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) poll(ctx context.Context, contractID int64) (deriv.ContractStatus, error) {
	v, err := e.venue()
	if err != nil {
		return deriv.ContractStatus{}, err
	}
	return v.OpenContract(ctx, contractID)
}

func (e *Executor) fail(ctx context.Context, in Intent, tr db.Trade, err error) Result {
	tr.Status = StatusError
	tr.Error = err.Error()
	e.save(ctx, &tr)
	data := tradeFields(in, tr)
	data["error"] = err.Error()
	var apiErr *deriv.APIError
	if errors.As(err, &apiErr) {
		data["error_code"] = apiErr.Code
	}
	e.rec.Record(events.Entry{
		Type:    events.EventTradeError,
		Level:   events.LevelError,
		Symbol:  in.Symbol,
		Message: err.Error(),
		Data:    data,
	})
	e.log.Error().Err(err).Str("symbol", in.Symbol).Str("trade_id", tr.ID).Msg("execution failed")
	return Result{Intent: in, Trade: tr, Err: err}
}

func (e *Executor) save(ctx context.Context, tr *db.Trade) {
	tr.UpdatedAt = e.now()
	if err := e.rec.SaveTrade(ctx, *tr); err != nil {
		e.log.Error().Err(err).Str("trade_id", tr.ID).Msg("persist trade failed")
	}
}

func newTrade(in Intent, now time.Time) db.Trade {
	reasons, _ := json.Marshal(in.Reasons)
	tr := db.Trade{
		ID:           in.ID,
		Symbol:       in.Symbol,
		Side:         in.Side,
		ContractType: in.ContractType,
		Stake:        in.Stake.InexactFloat64(),
		Score:        in.Score,
		Status:       StatusPending,
		EntryTime:    now,
		ReasonsJSON:  string(reasons),
	}
	if in.Price > 0 {
		tr.EntryPrice = f64(in.Price)
	}
	if in.TakeProfit != nil {
		tr.TakeProfit = f64(in.TakeProfit.InexactFloat64())
	}
	if in.StopLoss != nil {
		tr.StopLoss = f64(in.StopLoss.InexactFloat64())
	}
	if in.BalanceBefore > 0 {
		tr.BalanceBefore = f64(in.BalanceBefore)
	}
	return tr
}

func tradeFields(in Intent, tr db.Trade) map[string]any {
	f := in.Fields()
	f["trade_id"] = tr.ID
	f["status"] = tr.Status
	if tr.ContractID != "" {
		f["contract_id"] = tr.ContractID
	}
	if tr.Multiplier != nil {
		f["multiplier"] = *tr.Multiplier
		f["requested_multiplier"] = *tr.RequestedMultiplier
	}
	if tr.PnL != nil {
		f["pnl"] = *tr.PnL
	}
	return f
}

// durationSeconds converts minute and hour durations to seconds.
func durationSeconds(d int, unit string) (int, string) {
	switch unit {
	case "m":
		return d * 60, "s"
	case "h":
		return d * 3600, "s"
	default:
		return d, unit
	}
}

func f64(v float64) *float64 { return &v }
func intPtr(v int) *int      { return &v }
