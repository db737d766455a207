package monitor

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink delivers alerts to the structured log.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Send(message string) error {
	s.Log.Warn().Str("alert", message).Msg("alert")
	return nil
}

// FuncSink adapts a function to AlertSink.
type FuncSink func(string) error

func (f FuncSink) Send(message string) error { return f(message) }

func formatAlert(typ, symbol, message string) string {
	if symbol == "" {
		return fmt.Sprintf("[%s] %s", typ, message)
	}
	return fmt.Sprintf("[%s] %s: %s", typ, symbol, message)
}
