// Package persistence stores the last known cart state in the shared key-value
// store so that a new context starts from where the others left off.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/iudanet/cartsync/internal/client/storage"
	"github.com/iudanet/cartsync/internal/models"
)

// DefaultKey is the storage key of the persisted cart state
const DefaultKey = storage.KeyPrefix + "state"

// Options настраивают адаптер
type Options struct {
	// Now returns the current time in ms; used for the default state
	Now func() int64
	// Key overrides DefaultKey
	Key string
}

// Adapter is a best-effort cart state persistence. It never fails the caller.
type Adapter struct {
	kv     storage.KV
	logger *slog.Logger
	now    func() int64
	key    string
}

// NewAdapter creates an adapter over kv
func NewAdapter(kv storage.KV, logger *slog.Logger, opts Options) *Adapter {
	a := &Adapter{
		kv:     kv,
		logger: logger,
		now:    opts.Now,
		key:    opts.Key,
	}
	if a.now == nil {
		a.now = func() int64 { return time.Now().UnixMilli() }
	}
	if a.key == "" {
		a.key = DefaultKey
	}
	return a
}

// Key returns the storage key used by the adapter
func (a *Adapter) Key() string {
	return a.key
}

// Load returns the persisted state or an empty cart stamped with the current time
func (a *Adapter) Load(ctx context.Context) models.CartState {
	raw, err := a.kv.Get(ctx, a.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.logger.Warn("Failed to read persisted cart, starting empty", "key", a.key, "error", err)
		}
		return models.NewCartState(a.now())
	}

	var state models.CartState
	if err := json.Unmarshal(raw, &state); err != nil {
		a.logger.Warn("Persisted cart is not valid JSON, starting empty", "key", a.key, "error", err)
		return models.NewCartState(a.now())
	}
	if state.Items == nil {
		state.Items = []models.CartItem{}
	}
	if err := state.Validate(); err != nil {
		a.logger.Warn("Persisted cart is invalid, starting empty", "key", a.key, "error", err)
		return models.NewCartState(a.now())
	}

	if !state.TotalsConsistent() {
		a.logger.Debug("Persisted cart totals are inconsistent, recalculating", "key", a.key)
		state.Recalculate()
	}
	return state
}

// Save writes state; failures are logged and reported by the returned flag
func (a *Adapter) Save(ctx context.Context, state models.CartState) bool {
	raw, err := json.Marshal(state)
	if err != nil {
		a.logger.Warn("Failed to encode cart state", "error", err)
		return false
	}

	if err := a.kv.Set(ctx, a.key, raw); err != nil {
		a.logger.Warn("Failed to persist cart state, keeping it in memory only", "key", a.key, "error", err)
		return false
	}
	return true
}
