package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"synth-core/internal/indicators"
)

// ErrNoSnapshot means neither the event store nor the snapshot file holds a
// usable metrics document.
var ErrNoSnapshot = errors.New("no metrics snapshot available")

// SymbolSnapshot is the per-symbol part of a metrics snapshot.
type SymbolSnapshot struct {
	LastPrice  float64          `json:"last_price"`
	Candles    int              `json:"candles"`
	EMAFast    indicators.Value `json:"ema_fast"`
	EMASlow    indicators.Value `json:"ema_slow"`
	RSI        indicators.Value `json:"rsi"`
	ATR        indicators.Value `json:"atr"`
	Support    float64          `json:"support,omitempty"`
	Resistance float64          `json:"resistance,omitempty"`
	HTFTrend   string           `json:"htf_trend"`
	InFlight   bool             `json:"in_flight"`
}

// Snapshot is the document published for external monitoring.
type Snapshot struct {
	Timestamp    time.Time                 `json:"timestamp"`
	Balance      float64                   `json:"balance"`
	Currency     string                    `json:"currency"`
	Connection   string                    `json:"connection"`
	KillSwitch   bool                      `json:"kill_switch"`
	DryRun       bool                      `json:"dry_run"`
	ContractType string                    `json:"contract_type"`
	Symbols      map[string]SymbolSnapshot `json:"symbols"`
	Risk         map[string]any            `json:"risk,omitempty"`

	GoroutineCount int    `json:"goroutine_count"`
	HeapAlloc      uint64 `json:"heap_alloc_bytes"`
}

// WithRuntime fills the process statistics.
func (s Snapshot) WithRuntime() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.GoroutineCount = runtime.NumGoroutine()
	s.HeapAlloc = ms.HeapAlloc
	return s
}

// Fields converts the snapshot into an event payload.
func (s Snapshot) Fields() (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteFile replaces path atomically: readers see the old or the new
// document, never a partial one.
func WriteFile(path string, s Snapshot) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".metrics-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ReadFile loads the snapshot file. A missing file yields ErrNoSnapshot.
func ReadFile(path string) (Snapshot, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
