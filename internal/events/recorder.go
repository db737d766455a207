package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"synth-core/internal/persistence"
	"synth-core/pkg/db"
)

// Entry is a single recorded fact about the engine.
type Entry struct {
	ID      string         `json:"id"`
	Time    time.Time      `json:"ts"`
	Level   Level          `json:"level"`
	Type    Event          `json:"type"`
	Symbol  string         `json:"symbol,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Recorder is the append-only sink for engine events and trade rows.
type Recorder interface {
	Record(e Entry)
	SaveTrade(ctx context.Context, t db.Trade) error
	Flush(ctx context.Context) error
}

// TradeStore persists trade rows.
type TradeStore interface {
	UpsertTrade(ctx context.Context, t db.Trade) error
}

// StoreRecorder batches events into the database and mirrors them on the bus.
type StoreRecorder struct {
	writer *persistence.BatchWriter
	trades TradeStore
	bus    *Bus
	log    zerolog.Logger
	now    func() time.Time
}

// NewStoreRecorder wires a recorder over the batch writer. bus may be nil.
func NewStoreRecorder(writer *persistence.BatchWriter, trades TradeStore, bus *Bus, log zerolog.Logger) *StoreRecorder {
	return &StoreRecorder{writer: writer, trades: trades, bus: bus, log: log, now: time.Now}
}

// Record stamps the entry and enqueues it.
func (r *StoreRecorder) Record(e Entry) {
	e = stamp(e, r.now)
	row, err := toRow(e)
	if err != nil {
		r.log.Error().Err(err).Str("type", string(e.Type)).Msg("event not encodable")
		return
	}
	r.writer.Write(row)
	if r.bus != nil {
		r.bus.Publish(e.Type, e)
	}
}

// SaveTrade writes the trade row synchronously.
func (r *StoreRecorder) SaveTrade(ctx context.Context, t db.Trade) error {
	if err := r.trades.UpsertTrade(ctx, t); err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

// Flush drains buffered events to the store.
func (r *StoreRecorder) Flush(ctx context.Context) error {
	return r.writer.Flush(ctx)
}

func stamp(e Entry, now func() time.Time) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	return e
}

func toRow(e Entry) (db.Event, error) {
	data := "{}"
	if len(e.Data) > 0 {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return db.Event{}, err
		}
		data = string(b)
	}
	return db.Event{
		ID:       e.ID,
		Time:     e.Time,
		Level:    string(e.Level),
		Type:     string(e.Type),
		Symbol:   e.Symbol,
		Message:  e.Message,
		DataJSON: data,
	}, nil
}

// Noop discards everything.
type Noop struct{}

func (Noop) Record(Entry)                              {}
func (Noop) SaveTrade(context.Context, db.Trade) error { return nil }
func (Noop) Flush(context.Context) error               { return nil }

// Memory keeps events and trades in memory; used by tests and dry tooling.
type Memory struct {
	mu     sync.Mutex
	events []Entry
	trades map[string]db.Trade
	order  []string
}

// NewMemory returns an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{trades: make(map[string]db.Trade)}
}

func (m *Memory) Record(e Entry) {
	e = stamp(e, time.Now)
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *Memory) SaveTrade(_ context.Context, t db.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	m.trades[t.ID] = t
	return nil
}

func (m *Memory) Flush(context.Context) error { return nil }

// Events returns a copy of recorded entries, optionally filtered by type.
func (m *Memory) Events(types ...Event) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(types) == 0 {
		return append([]Entry(nil), m.events...)
	}
	var out []Entry
	for _, e := range m.events {
		for _, t := range types {
			if e.Type == t {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Trades returns the latest version of each trade in insertion order.
func (m *Memory) Trades() []db.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.Trade, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.trades[id])
	}
	return out
}
