package control

import (
	"context"
	"fmt"
	"time"

	"synth-core/internal/events"
	"synth-core/pkg/db"
)

// KillSwitchStore persists the kill-switch row.
type KillSwitchStore interface {
	GetKillSwitch(ctx context.Context) (db.KillSwitch, error)
	SetKillSwitch(ctx context.Context, ks db.KillSwitch) error
}

// KillSwitch reads and writes the operator kill-switch. The trading
// pipeline only ever sees it through a read-only interface.
type KillSwitch struct {
	store KillSwitchStore
	rec   events.Recorder
}

// NewKillSwitch wraps the store; rec receives a kill_switch event per write.
func NewKillSwitch(store KillSwitchStore, rec events.Recorder) *KillSwitch {
	if rec == nil {
		rec = events.Noop{}
	}
	return &KillSwitch{store: store, rec: rec}
}

// Read returns the current state.
func (k *KillSwitch) Read(ctx context.Context) (db.KillSwitch, error) {
	ks, err := k.store.GetKillSwitch(ctx)
	if err != nil {
		return db.KillSwitch{}, fmt.Errorf("read kill switch: %w", err)
	}
	return ks, nil
}

// Write sets the state; only the control surface calls it.
func (k *KillSwitch) Write(ctx context.Context, enabled bool, reason string) error {
	ks := db.KillSwitch{Enabled: enabled, Reason: reason, UpdatedAt: time.Now()}
	if err := k.store.SetKillSwitch(ctx, ks); err != nil {
		return fmt.Errorf("write kill switch: %w", err)
	}
	level := events.LevelInfo
	if enabled {
		level = events.LevelWarn
	}
	k.rec.Record(events.Entry{
		Type:    events.EventKillSwitch,
		Level:   level,
		Message: reason,
		Data:    map[string]any{"enabled": enabled, "reason": reason},
	})
	return nil
}
