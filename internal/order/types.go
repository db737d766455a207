package order

import (
	"time"

	"github.com/shopspring/decimal"

	"synth-core/pkg/db"
)

// Trade statuses.
const (
	StatusPending = "pending"
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusError   = "error"
)

// Intent is a sized, accepted signal ready for execution. It is consumed
// exactly once.
type Intent struct {
	ID           string
	SignalID     string
	Symbol       string
	Side         string // CALL or PUT
	Stake        decimal.Decimal
	Score        float64
	Reasons      []string
	ContractType string
	Duration     int
	DurationUnit string

	// Multiplier contracts only.
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
	Multiplier int

	Price         float64
	BalanceBefore float64
	CreatedAt     time.Time
}

// Fields flattens the intent for event payloads.
func (in Intent) Fields() map[string]any {
	f := map[string]any{
		"intent_id":     in.ID,
		"signal_id":     in.SignalID,
		"side":          in.Side,
		"stake":         in.Stake.InexactFloat64(),
		"score":         in.Score,
		"contract_type": in.ContractType,
		"duration":      in.Duration,
		"duration_unit": in.DurationUnit,
	}
	if in.TakeProfit != nil {
		f["take_profit"] = in.TakeProfit.InexactFloat64()
	}
	if in.StopLoss != nil {
		f["stop_loss"] = in.StopLoss.InexactFloat64()
	}
	if in.Multiplier > 0 {
		f["multiplier"] = in.Multiplier
	}
	return f
}

// Result is the terminal outcome of executing one intent.
type Result struct {
	Intent  Intent
	Skipped bool
	// Trade is the final row; zero when Skipped.
	Trade db.Trade
	Err   error
}

// Settled reports whether the venue closed the trade with a pnl.
func (r Result) Settled() bool {
	return r.Trade.Status == StatusClosed && r.Trade.PnL != nil
}
