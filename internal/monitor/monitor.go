package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"synth-core/internal/events"
)

// Monitor forwards warning and error events from the bus to an alert sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
	Log  zerolog.Logger
}

// Start subscribes and forwards until ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		m.Log.Warn().Msg("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventAll, 128)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				e, ok := msg.(events.Entry)
				if !ok || e.Level == events.LevelInfo || e.Level == "" {
					continue
				}
				alert := "[" + e.Time.Format(time.RFC3339) + "] " + formatAlert(string(e.Type), e.Symbol, e.Message)
				if err := m.Sink.Send(alert); err != nil {
					m.Log.Error().Err(err).Msg("alert delivery failed")
				}
			}
		}
	}()
}
