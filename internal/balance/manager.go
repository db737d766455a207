// Package balance tracks the account balance used for sizing and
// monitoring.
package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source fetches the venue balance.
type Source interface {
	Balance(ctx context.Context) (float64, string, error)
}

// SourceFunc resolves the current source; it errors while disconnected.
type SourceFunc func() (Source, error)

// Balance is a point-in-time view.
type Balance struct {
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	Locked    float64   `json:"locked"`
	Currency  string    `json:"currency"`
	LastSync  time.Time `json:"last_sync"`
}

// reservation is the stake held for one in-flight order. Once the venue
// confirms the purchase, the next sync shows the stake debited and the
// reservation stops counting against the cached total.
type reservation struct {
	amount  float64
	bought  bool
	debited bool
}

// Manager caches the balance, reserves stakes while orders are in flight and
// applies settled pnl between venue syncs.
type Manager struct {
	source SourceFunc
	log    zerolog.Logger

	mu        sync.RWMutex
	total     float64
	reserved  map[string]*reservation
	currency  string
	lastSync  time.Time
	onChanged func(Balance)
}

// NewManager creates a manager. source may be nil in dry-run.
func NewManager(source SourceFunc, log zerolog.Logger) *Manager {
	return &Manager{
		source:   source,
		reserved: make(map[string]*reservation),
		log:      log.With().Str("component", "balance").Logger(),
	}
}

// OnChange registers a callback invoked after every change.
func (m *Manager) OnChange(fn func(Balance)) {
	m.mu.Lock()
	m.onChanged = fn
	m.mu.Unlock()
}

// Sync fetches the latest balance from the venue. Without a source it is a
// no-op.
func (m *Manager) Sync(ctx context.Context) error {
	if m.source == nil {
		return nil
	}
	src, err := m.source()
	if err != nil {
		return fmt.Errorf("balance source: %w", err)
	}
	total, currency, err := src.Balance(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.total = total
	for _, r := range m.reserved {
		if r.bought {
			r.debited = true
		}
	}
	if currency != "" {
		m.currency = currency
	}
	m.lastSync = time.Now()
	b := m.snapshotLocked()
	fn := m.onChanged
	m.mu.Unlock()

	m.log.Debug().Float64("total", b.Total).Float64("locked", b.Locked).Msg("balance synced")
	if fn != nil {
		fn(b)
	}
	return nil
}

// SetInitialBalance sets the starting balance (paper trading).
func (m *Manager) SetInitialBalance(amount float64, currency string) {
	m.mu.Lock()
	m.total = amount
	clear(m.reserved)
	m.currency = currency
	m.lastSync = time.Now()
	m.mu.Unlock()
	m.log.Info().Float64("balance", amount).Str("currency", currency).Msg("initial balance set")
}

// Lock reserves amount for the in-flight order id.
func (m *Manager) Lock(id string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.reserved[id]; dup {
		return fmt.Errorf("stake already reserved for %s", id)
	}
	if avail := m.total - m.lockedLocked(); amount > avail {
		return fmt.Errorf("insufficient balance: need %.2f, have %.2f", amount, avail)
	}
	m.reserved[id] = &reservation{amount: amount}
	return nil
}

// Confirm marks the order id as bought at the venue. Its reservation holds
// until a sync observes the debit.
func (m *Manager) Confirm(id string) {
	m.mu.Lock()
	if r, ok := m.reserved[id]; ok {
		r.bought = true
	}
	m.mu.Unlock()
}

// Unlock releases the reservation for id without an outcome.
func (m *Manager) Unlock(id string) {
	m.mu.Lock()
	delete(m.reserved, id)
	m.mu.Unlock()
}

// Settle releases the reservation for id and applies its pnl. A stake a sync
// already saw debited comes back with the payout.
func (m *Manager) Settle(id string, pnl float64) Balance {
	m.mu.Lock()
	delta := pnl
	if r, ok := m.reserved[id]; ok {
		if r.debited {
			delta += r.amount
		}
		delete(m.reserved, id)
	}
	m.total += delta
	b := m.snapshotLocked()
	fn := m.onChanged
	m.mu.Unlock()
	if fn != nil {
		fn(b)
	}
	return b
}

// Available returns total minus reservations.
func (m *Manager) Available() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total - m.lockedLocked()
}

// Get returns the current balance snapshot.
func (m *Manager) Get() Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// lockedLocked sums reservations the cached total does not yet reflect.
func (m *Manager) lockedLocked() float64 {
	var sum float64
	for _, r := range m.reserved {
		if !r.debited {
			sum += r.amount
		}
	}
	return sum
}

func (m *Manager) snapshotLocked() Balance {
	locked := m.lockedLocked()
	return Balance{
		Total:     m.total,
		Available: m.total - locked,
		Locked:    locked,
		Currency:  m.currency,
		LastSync:  m.lastSync,
	}
}
