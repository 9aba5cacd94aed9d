// Package app assembles one cart context: identity, store, persistence,
// transports and the sync coordinator.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/cartsync/internal/client/cart"
	"github.com/iudanet/cartsync/internal/client/identity"
	"github.com/iudanet/cartsync/internal/client/persistence"
	"github.com/iudanet/cartsync/internal/client/storage"
	"github.com/iudanet/cartsync/internal/client/sync"
	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/client/transport/fallback"
	"github.com/iudanet/cartsync/internal/crdt"
	"github.com/iudanet/cartsync/internal/models"
)

// Publisher is what mutation call sites receive
type Publisher interface {
	Dispatch(cmd models.Command) models.CartState
	DispatchFrom(site string, cmd models.Command) models.CartState
}

// PrimaryFactory creates the native broadcast transport.
// An error wrapping transport.ErrUnavailable switches the tab to the storage relay.
type PrimaryFactory func(ctx context.Context) (transport.Transport, error)

// Options параметры вкладки
type Options struct {
	// KV is the shared store handle of this tab; the tab closes it
	KV      storage.KV
	Primary PrimaryFactory
	Logger  *slog.Logger
	// Now overrides the wall clock
	Now func() time.Time
	// Observer receives every inbound admission decision
	Observer        sync.Observer
	Sync            sync.Config
	RelayTTL        time.Duration
	DisableFallback bool
}

// ErrNoStorage is returned when Options.KV is missing
var ErrNoStorage = errors.New("shared storage is required")

// Tab is one running cart context
type Tab struct {
	coordinator *sync.Coordinator
	store       *cart.Store
	primary     transport.Transport
	fallback    transport.Transport
	kv          storage.KV
	logger      *slog.Logger
}

var _ Publisher = (*Tab)(nil)

// Open bootstraps the tab from persisted state and starts synchronization
func Open(ctx context.Context, opts Options) (*Tab, error) {
	if opts.KV == nil {
		return nil, ErrNoStorage
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cfg := opts.Sync
	if cfg == (sync.Config{}) {
		cfg = sync.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ident := identity.NewProvider(logger, identity.WithClock(now))
	tabID := ident.GetOrCreateTabID()
	logger = logger.With("tab_id", tabID)

	adapter := persistence.NewAdapter(opts.KV, logger, persistence.Options{
		Now: func() int64 { return now().UnixMilli() },
	})
	// Загружаем состояние до подписки на транспорты
	initial := adapter.Load(ctx)
	store := cart.NewStore(initial)

	t := &Tab{
		store:  store,
		kv:     opts.KV,
		logger: logger,
	}

	if opts.Primary != nil {
		primary, err := opts.Primary(ctx)
		switch {
		case err == nil:
			t.primary = primary
		case errors.Is(err, transport.ErrUnavailable):
			logger.Warn("Primary transport unavailable, using storage relay", "error", err)
		default:
			logger.Warn("Failed to create primary transport, using storage relay", "error", err)
		}
	}
	if !opts.DisableFallback {
		t.fallback = fallback.New(opts.KV, logger, fallback.Options{TTL: opts.RelayTTL})
	}

	deps := sync.Deps{
		Store:       store,
		Persistence: adapter,
		Identity:    ident,
		Clock:       crdt.NewClock(now),
		Logger:      logger,
		Observer:    opts.Observer,
		Primary:     t.primary,
		Fallback:    t.fallback,
	}

	coordinator, err := sync.NewCoordinator(deps, cfg)
	if err != nil {
		t.closeTransports()
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	t.coordinator = coordinator
	coordinator.Start()

	logger.Info("Tab opened",
		"items", len(initial.Items),
		"primary", t.transportName(t.primary),
		"fallback", t.transportName(t.fallback))

	return t, nil
}

// ID returns the tab identifier
func (t *Tab) ID() string {
	return t.coordinator.TabID()
}

// State returns a copy of the current cart
func (t *Tab) State() models.CartState {
	return t.store.State()
}

// Dispatch applies cmd and broadcasts it
func (t *Tab) Dispatch(cmd models.Command) models.CartState {
	return t.coordinator.Dispatch(cmd)
}

// DispatchFrom applies cmd and broadcasts it, debounced per call site
func (t *Tab) DispatchFrom(site string, cmd models.Command) models.CartState {
	return t.coordinator.DispatchFrom(site, cmd)
}

// Subscribe registers a listener for every state change, local or remote
func (t *Tab) Subscribe(l cart.Listener) func() {
	return t.store.Subscribe(l)
}

// Stats returns the coordinator counters
func (t *Tab) Stats() sync.Stats {
	return t.coordinator.Stats()
}

// Transport returns the name of the transport the tab listens on
func (t *Tab) Transport() string {
	if t.primary != nil {
		return t.primary.Name()
	}
	return t.transportName(t.fallback)
}

// Flush publishes pending messages now
func (t *Tab) Flush() {
	t.coordinator.Flush()
}

// Close flushes, stops synchronization and releases transports and storage
func (t *Tab) Close() error {
	t.coordinator.Close()

	err := t.closeTransports()
	if cerr := t.kv.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close storage: %w", cerr))
	}
	return err
}

func (t *Tab) closeTransports() error {
	var err error
	if t.primary != nil {
		if cerr := t.primary.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close %s: %w", t.primary.Name(), cerr))
		}
	}
	if t.fallback != nil {
		if cerr := t.fallback.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close fallback: %w", cerr))
		}
	}
	return err
}

func (t *Tab) transportName(tr transport.Transport) string {
	if tr == nil {
		return "none"
	}
	return tr.Name()
}
