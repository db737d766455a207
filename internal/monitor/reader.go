package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"synth-core/internal/events"
	"synth-core/pkg/db"
)

// Snapshot sources reported by Reader.
const (
	SourceStore = "store"
	SourceFile  = "file"
)

// LatestEventSource reads the newest event of a type from the primary store.
type LatestEventSource interface {
	LatestEvent(ctx context.Context, eventType string) (*db.Event, error)
}

// Reader is the single read path for metrics snapshots. Precedence:
//  1. the newest metrics event in the store, if younger than maxAge;
//  2. the snapshot file, whatever its age;
//  3. ErrNoSnapshot.
//
// A store error is treated like a miss and falls through to the file.
type Reader struct {
	store  LatestEventSource
	path   string
	maxAge time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

func NewReader(store LatestEventSource, path string, maxAge time.Duration, log zerolog.Logger) *Reader {
	return &Reader{store: store, path: path, maxAge: maxAge, log: log, now: time.Now}
}

// Latest returns the freshest available snapshot and where it came from.
func (r *Reader) Latest(ctx context.Context) (Snapshot, string, error) {
	if r.store != nil {
		s, err := r.fromStore(ctx)
		if err == nil {
			return s, SourceStore, nil
		}
		if !errors.Is(err, ErrNoSnapshot) {
			r.log.Warn().Err(err).Msg("metrics store read failed, using snapshot file")
		}
	}
	s, err := ReadFile(r.path)
	if err != nil {
		return Snapshot{}, "", err
	}
	return s, SourceFile, nil
}

func (r *Reader) fromStore(ctx context.Context) (Snapshot, error) {
	ev, err := r.store.LatestEvent(ctx, string(events.EventMetrics))
	if errors.Is(err, db.ErrNotFound) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, err
	}
	if r.maxAge > 0 && r.now().Sub(ev.Time) > r.maxAge {
		return Snapshot{}, ErrNoSnapshot
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(ev.DataJSON), &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode metrics event %s: %w", ev.ID, err)
	}
	return s, nil
}
