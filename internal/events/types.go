package events

// Event enumerates the recorded event types inside the engine.
type Event string

const (
	EventConnectionState  Event = "connection_state"
	EventCandleDropped    Event = "candle_dropped"
	EventSignal           Event = "signal"
	EventSignalRejected   Event = "signal_rejected"
	EventRiskRejected     Event = "risk_rejected"
	EventSizingSkipped    Event = "sizing_skipped"
	EventSymbolBusy       Event = "symbol_busy"
	EventExecutionSkipped Event = "execution_skipped"
	EventTradeOpen        Event = "trade_open"
	EventTradeClosed      Event = "trade_closed"
	EventTradeError       Event = "trade_error"
	EventMetrics          Event = "metrics"
	EventBalance          Event = "balance"
	EventKillSwitch       Event = "kill_switch"
	EventContractOverride Event = "contract_override"

	// EventAll is a subscription-only topic that receives every publish.
	EventAll Event = "*"
)

// Level is the severity attached to a recorded event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)
