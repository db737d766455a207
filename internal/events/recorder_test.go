package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synth-core/internal/persistence"
	"synth-core/pkg/db"
)

func newStore(t *testing.T) *db.Database {
	t.Helper()
	d, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, db.ApplyMigrations(d))
	return d
}

func TestStoreRecorderPersistsAndPublishes(t *testing.T) {
	store := newStore(t)
	bus := NewBus()
	all, unsub := bus.Subscribe(EventAll, 4)
	defer unsub()

	bw := persistence.NewBatchWriter(store, zerolog.Nop(), 10, time.Hour)
	defer bw.Close()
	rec := NewStoreRecorder(bw, store, bus, zerolog.Nop())

	rec.Record(Entry{Type: EventSignal, Symbol: "R_75", Data: map[string]any{"side": "CALL", "score": 0.7}})
	require.NoError(t, rec.Flush(context.Background()))

	got, err := store.LatestEvent(context.Background(), string(EventSignal))
	require.NoError(t, err)
	assert.Equal(t, "R_75", got.Symbol)
	assert.Equal(t, "info", got.Level)
	assert.JSONEq(t, `{"side":"CALL","score":0.7}`, got.DataJSON)

	select {
	case msg := <-all:
		e, ok := msg.(Entry)
		require.True(t, ok)
		assert.Equal(t, got.ID, e.ID)
	case <-time.After(time.Second):
		t.Fatal("expected bus delivery")
	}
}

func TestStoreRecorderSavesTrades(t *testing.T) {
	store := newStore(t)
	bw := persistence.NewBatchWriter(store, zerolog.Nop(), 10, time.Hour)
	defer bw.Close()
	rec := NewStoreRecorder(bw, store, nil, zerolog.Nop())

	tr := db.Trade{ID: "t1", Symbol: "R_75", Side: "PUT", ContractType: "rise_fall", Stake: 1, Status: "pending", EntryTime: time.Now()}
	require.NoError(t, rec.SaveTrade(context.Background(), tr))
	tr.Status = "open"
	require.NoError(t, rec.SaveTrade(context.Background(), tr))

	got, err := store.GetTrade(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "open", got.Status)
}

func TestMemoryRecorderFilters(t *testing.T) {
	m := NewMemory()
	m.Record(Entry{Type: EventSignal})
	m.Record(Entry{Type: EventRiskRejected, Level: LevelWarn})
	m.Record(Entry{Type: EventSignal})

	assert.Len(t, m.Events(), 3)
	assert.Len(t, m.Events(EventSignal), 2)
	rej := m.Events(EventRiskRejected)
	require.Len(t, rej, 1)
	assert.Equal(t, LevelWarn, rej[0].Level)
	assert.NotEmpty(t, rej[0].ID)
}

func TestBusAllTopic(t *testing.T) {
	bus := NewBus()
	one, unsubOne := bus.Subscribe(EventTradeOpen, 1)
	all, unsubAll := bus.Subscribe(EventAll, 2)

	bus.Publish(EventTradeOpen, "a")
	bus.Publish(EventBalance, "b")

	assert.Equal(t, "a", <-one)
	assert.Equal(t, "a", <-all)
	assert.Equal(t, "b", <-all)

	unsubOne()
	unsubOne()
	unsubAll()
	_, open := <-one
	assert.False(t, open)
}
