package db

import (
	"database/sql"
	"time"
)

// Event is one append-only row of the event log.
type Event struct {
	ID       string
	Time     time.Time
	Level    string
	Type     string
	Symbol   string
	Message  string
	DataJSON string
}

// Trade is the persisted form of a trade record.
type Trade struct {
	ID                  string
	Symbol              string
	Side                string
	ContractType        string
	Stake               float64
	Score               float64
	Status              string
	EntryTime           time.Time
	ExitTime            *time.Time
	EntryPrice          *float64
	ExitPrice           *float64
	PnL                 *float64
	TakeProfit          *float64
	StopLoss            *float64
	Multiplier          *int
	RequestedMultiplier *int
	ContractID          string
	Error               string
	ReasonsJSON         string
	BalanceBefore       *float64
	BalanceAfter        *float64
	UpdatedAt           time.Time
}

// KillSwitch is the persisted kill-switch row.
type KillSwitch struct {
	Enabled   bool
	Reason    string
	UpdatedAt time.Time
}

// RiskDay holds the risk bookkeeping for one trading day.
type RiskDay struct {
	Day               string
	StartEquity       float64
	PeakEquity        float64
	DailyPnL          float64
	Trades            int
	ConsecutiveLosses int
	LastLoss          *time.Time
	UpdatedAt         time.Time
}

// TradeFilter narrows trade listings; zero times are open bounds.
type TradeFilter struct {
	From   time.Time
	To     time.Time
	Symbol string
	Status string
	// Unsettled keeps bought contracts that have no pnl yet.
	Unsettled bool
	Limit     int
	Offset    int
}

// EventFilter narrows event listings.
type EventFilter struct {
	Type   string
	Symbol string
	Limit  int
	Offset int
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
