package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fixedSource struct {
	total float64
	err   error
}

func (f fixedSource) Balance(context.Context) (float64, string, error) {
	return f.total, "USD", f.err
}

func TestLockApplyAndSync(t *testing.T) {
	src := fixedSource{total: 500}
	m := NewManager(func() (Source, error) { return src, nil }, zerolog.Nop())

	var changes int
	m.OnChange(func(Balance) { changes++ })

	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if err := m.Lock("a", 200); err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}
	if err := m.Lock("a", 10); err == nil {
		t.Fatalf("expected duplicate reservation error")
	}
	if err := m.Lock("b", 400); err == nil {
		t.Fatalf("expected insufficient balance error")
	}
	if got := m.Available(); got != 300 {
		t.Fatalf("Available=%v, expected 300", got)
	}

	m.Unlock("a")
	b := m.Settle("a", -25)
	if b.Total != 475 || b.Available != 475 || b.Currency != "USD" {
		t.Fatalf("unexpected balance %+v", b)
	}
	if changes != 2 {
		t.Fatalf("changes=%d, expected 2", changes)
	}
}

func TestSyncWithoutVenue(t *testing.T) {
	m := NewManager(nil, zerolog.Nop())
	m.SetInitialBalance(10000, "USD")
	if err := m.Sync(context.Background()); err != nil {
		t.Fatalf("Sync without source returned error: %v", err)
	}
	if m.Get().Total != 10000 {
		t.Fatalf("paper balance changed")
	}

	down := NewManager(func() (Source, error) { return nil, errors.New("not connected") }, zerolog.Nop())
	if err := down.Sync(context.Background()); err == nil {
		t.Fatalf("expected error while disconnected")
	}
}

type settableSource struct{ total float64 }

func (s *settableSource) Balance(context.Context) (float64, string, error) {
	return s.total, "USD", nil
}

func TestSyncDoesNotDoubleCountBoughtStake(t *testing.T) {
	ctx := context.Background()
	src := &settableSource{total: 500}
	m := NewManager(func() (Source, error) { return src, nil }, zerolog.Nop())
	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	if err := m.Lock("bought", 20); err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}
	if err := m.Lock("pending", 30); err != nil {
		t.Fatalf("Lock returned error: %v", err)
	}
	m.Confirm("bought")
	if got := m.Available(); got != 450 {
		t.Fatalf("Available before sync=%v, expected 450", got)
	}

	// The venue has debited the bought stake; the pending one is not bought yet.
	src.total = 480
	if err := m.Sync(ctx); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if got := m.Available(); got != 450 {
		t.Fatalf("Available after sync=%v, expected 450", got)
	}

	// Payout of stake plus pnl comes back on settlement.
	b := m.Settle("bought", -5)
	if b.Total != 495 || b.Locked != 30 {
		t.Fatalf("unexpected balance after settle %+v", b)
	}
	b = m.Settle("pending", 4)
	if b.Total != 499 || b.Locked != 0 {
		t.Fatalf("unexpected balance after undebited settle %+v", b)
	}
}
