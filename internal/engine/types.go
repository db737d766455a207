package engine

import (
	"time"

	"synth-core/internal/balance"
	"synth-core/internal/risk"
	"synth-core/pkg/db"
)

// Status is the engine overview returned to the control surface.
type Status struct {
	Environment  string          `json:"environment"`
	Running      bool            `json:"running"`
	DryRun       bool            `json:"dry_run"`
	Symbols      []string        `json:"symbols"`
	Connection   string          `json:"connection"`
	ContractType string          `json:"contract_type"`
	KillSwitch   bool            `json:"kill_switch"`
	Balance      balance.Balance `json:"balance"`
	Risk         risk.State      `json:"risk"`
	InFlight     []string        `json:"in_flight"`
	TradesToday  int             `json:"trades_today"`
	DailyPnL     float64         `json:"daily_pnl"`
	StartedAt    time.Time       `json:"started_at,omitempty"`
	Uptime       string          `json:"uptime,omitempty"`
}

// TradePage is one page of trade history.
type TradePage struct {
	Trades []db.Trade `json:"trades"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// ContractTypeInfo shows the effective contract type and where it comes
// from.
type ContractTypeInfo struct {
	Effective  string `json:"contract_type"`
	Configured string `json:"configured"`
	Override   string `json:"override,omitempty"`
}
