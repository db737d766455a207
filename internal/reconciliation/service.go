// Package reconciliation settles trades whose settlement was never observed:
// open contracts abandoned at shutdown, bought contracts whose polling timed
// out, and pending rows from a process that died mid-purchase.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"synth-core/internal/events"
	"synth-core/internal/order"
	"synth-core/pkg/db"
	"synth-core/pkg/deriv"
)

// TradeLister reads persisted trades.
type TradeLister interface {
	ListTrades(ctx context.Context, f db.TradeFilter) ([]db.Trade, error)
}

// ContractSource reports a contract's state at the venue.
type ContractSource interface {
	OpenContract(ctx context.Context, contractID int64) (deriv.ContractStatus, error)
}

// ContractSourceFunc returns the live session, or an error when disconnected.
type ContractSourceFunc func() (ContractSource, error)

// Report contains reconciliation results
type Report struct {
	Timestamp time.Time
	Diffs     []Diff
	Checked   int
	Settled   int
	StillOpen int
	Abandoned int
}

// HasDiffs reports whether any row changed.
func (r Report) HasDiffs() bool { return r.Settled+r.Abandoned > 0 }

// Diff is one trade whose persisted state was behind the venue.
type Diff struct {
	TradeID    string
	Symbol     string
	ContractID string
	From       string
	To         string
	PnL        *float64
}

// Service reconciles persisted trades against the venue.
type Service struct {
	trades  TradeLister
	rec     events.Recorder
	venue   ContractSourceFunc
	log     zerolog.Logger
	now     func() time.Time
	started time.Time

	onSettled func(db.Trade)

	mu sync.Mutex
}

// NewService creates a reconciler. Pending rows last touched before started
// belong to an earlier process and are closed as errors.
func NewService(trades TradeLister, rec events.Recorder, venue ContractSourceFunc, started time.Time, now func() time.Time, log zerolog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		trades:  trades,
		rec:     rec,
		venue:   venue,
		log:     log.With().Str("component", "reconciliation").Logger(),
		now:     now,
		started: started,
	}
}

// OnSettled registers a callback invoked for every trade a pass closes, after
// it is persisted. It carries the outcome into risk bookkeeping.
func (s *Service) OnSettled(fn func(db.Trade)) {
	s.mu.Lock()
	s.onSettled = fn
	s.mu.Unlock()
}

// Reconcile runs one pass. Concurrent calls are serialized.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{Timestamp: s.now()}

	if err := s.abandonPending(ctx, &report); err != nil {
		return report, err
	}

	open, err := s.unsettled(ctx)
	if err != nil {
		return report, err
	}
	if len(open) == 0 {
		return report, nil
	}

	venue, err := s.venue()
	if err != nil {
		return report, fmt.Errorf("venue unavailable: %w", err)
	}

	for _, tr := range open {
		report.Checked++
		id, err := strconv.ParseInt(tr.ContractID, 10, 64)
		if err != nil {
			s.log.Warn().Str("trade_id", tr.ID).Str("contract_id", tr.ContractID).Msg("open trade without a usable contract id")
			continue
		}
		st, err := venue.OpenContract(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.log.Warn().Err(err).Str("trade_id", tr.ID).Msg("contract lookup failed")
			report.StillOpen++
			continue
		}
		if !st.Sold() {
			report.StillOpen++
			continue
		}
		s.settle(ctx, tr, st, &report)
	}

	if report.HasDiffs() {
		s.log.Info().
			Int("checked", report.Checked).
			Int("settled", report.Settled).
			Int("still_open", report.StillOpen).
			Int("abandoned", report.Abandoned).
			Msg("trades reconciled")
	}
	return report, nil
}

func (s *Service) settle(ctx context.Context, tr db.Trade, st deriv.ContractStatus, report *Report) {
	exit := s.now()
	if st.SellTime > 0 {
		exit = time.Unix(st.SellTime, 0)
	}
	pnl := st.Profit
	from := tr.Status
	tr.Status = order.StatusClosed
	tr.Error = ""
	tr.ExitTime = &exit
	tr.PnL = &pnl
	if st.EntrySpot > 0 {
		entry := st.EntrySpot
		tr.EntryPrice = &entry
	}
	if st.ExitSpot > 0 {
		px := st.ExitSpot
		tr.ExitPrice = &px
	}
	if tr.BalanceBefore != nil {
		after := *tr.BalanceBefore + pnl
		tr.BalanceAfter = &after
	}
	tr.UpdatedAt = s.now()
	if err := s.rec.SaveTrade(ctx, tr); err != nil {
		s.log.Error().Err(err).Str("trade_id", tr.ID).Msg("persist reconciled trade failed")
		return
	}
	report.Settled++
	report.Diffs = append(report.Diffs, Diff{
		TradeID: tr.ID, Symbol: tr.Symbol, ContractID: tr.ContractID,
		From: from, To: order.StatusClosed, PnL: &pnl,
	})
	s.rec.Record(events.Entry{
		Type:    events.EventTradeClosed,
		Symbol:  tr.Symbol,
		Message: fmt.Sprintf("%s %s closed pnl=%.2f (reconciled)", tr.Symbol, tr.Side, pnl),
		Data: map[string]any{
			"trade_id":    tr.ID,
			"contract_id": tr.ContractID,
			"pnl":         pnl,
			"reconciled":  true,
		},
	})
	if s.onSettled != nil {
		s.onSettled(tr)
	}
}

// unsettled lists bought contracts with no recorded outcome: open rows an
// earlier process abandoned, and error rows whose settlement timed out.
// Open rows touched since this process started are still being polled.
func (s *Service) unsettled(ctx context.Context) ([]db.Trade, error) {
	open, err := s.trades.ListTrades(ctx, db.TradeFilter{Status: order.StatusOpen, Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	timedOut, err := s.trades.ListTrades(ctx, db.TradeFilter{Status: order.StatusError, Unsettled: true, Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("list unsettled error trades: %w", err)
	}
	out := make([]db.Trade, 0, len(open)+len(timedOut))
	for _, tr := range open {
		if tr.UpdatedAt.Before(s.started) {
			out = append(out, tr)
		}
	}
	return append(out, timedOut...), nil
}

// abandonPending closes rows a dead process never confirmed. Whether the
// venue filled them is unknown, so they end as errors.
func (s *Service) abandonPending(ctx context.Context, report *Report) error {
	pending, err := s.trades.ListTrades(ctx, db.TradeFilter{Status: order.StatusPending, Limit: 500})
	if err != nil {
		return fmt.Errorf("list pending trades: %w", err)
	}
	for _, tr := range pending {
		if !tr.UpdatedAt.Before(s.started) {
			continue
		}
		tr.Status = order.StatusError
		tr.Error = errAbandoned.Error()
		tr.UpdatedAt = s.now()
		if err := s.rec.SaveTrade(ctx, tr); err != nil {
			s.log.Error().Err(err).Str("trade_id", tr.ID).Msg("persist abandoned trade failed")
			continue
		}
		report.Abandoned++
		report.Diffs = append(report.Diffs, Diff{
			TradeID: tr.ID, Symbol: tr.Symbol, From: order.StatusPending, To: order.StatusError,
		})
		s.rec.Record(events.Entry{
			Type:    events.EventTradeError,
			Level:   events.LevelWarn,
			Symbol:  tr.Symbol,
			Message: errAbandoned.Error(),
			Data:    map[string]any{"trade_id": tr.ID, "reconciled": true},
		})
	}
	return nil
}

var errAbandoned = errors.New("abandoned before venue confirmation")
