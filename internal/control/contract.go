package control

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"synth-core/internal/events"
	"synth-core/pkg/config"
	"synth-core/pkg/db"
)

const contractTypeKey = "contract_type"

// ErrUnknownContractType rejects overrides outside the supported set.
var ErrUnknownContractType = errors.New("control: unknown contract type")

// SettingsStore persists runtime key/value settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// ContractType is the effective contract type: the configured value unless
// an operator override is set. Read once per decision cycle.
type ContractType struct {
	mu       sync.RWMutex
	base     string
	override string
	store    SettingsStore
	rec      events.Recorder
}

// NewContractType loads any persisted override on top of base.
func NewContractType(ctx context.Context, base string, store SettingsStore, rec events.Recorder) (*ContractType, error) {
	if rec == nil {
		rec = events.Noop{}
	}
	c := &ContractType{base: base, store: store, rec: rec}
	v, err := store.GetSetting(ctx, contractTypeKey)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load contract type override: %w", err)
	case valid(v):
		c.override = v
	}
	return c, nil
}

// Effective returns the contract type to use for the next intent.
func (c *ContractType) Effective() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.override != "" {
		return c.override
	}
	return c.base
}

// Override returns the operator override, "" when none.
func (c *ContractType) Override() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.override
}

// Set installs an override; "" clears it.
func (c *ContractType) Set(ctx context.Context, ct string) error {
	if ct != "" && !valid(ct) {
		return fmt.Errorf("%w: %q", ErrUnknownContractType, ct)
	}
	var err error
	if ct == "" {
		err = c.store.DeleteSetting(ctx, contractTypeKey)
	} else {
		err = c.store.SetSetting(ctx, contractTypeKey, ct)
	}
	if err != nil {
		return fmt.Errorf("persist contract type: %w", err)
	}

	c.mu.Lock()
	c.override = ct
	c.mu.Unlock()

	c.rec.Record(events.Entry{
		Type: events.EventContractOverride,
		Data: map[string]any{"override": ct, "effective": c.Effective()},
	})
	return nil
}

func valid(ct string) bool {
	return ct == config.ContractRiseFall || ct == config.ContractMultiplier
}
