// Package sync keeps the cart of every context of one origin converged: local
// mutations are applied synchronously and broadcast after a debounce, inbound
// messages pass the admission rules before they reach the store.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/iudanet/cartsync/internal/client/cart"
	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/crdt"
	"github.com/iudanet/cartsync/internal/models"
)

// DefaultSite is the call-site key used by Dispatch
const DefaultSite = "default"

const publishTimeout = 5 * time.Second

//go:generate moq -out persister_mock.go . Persister

// Persister сохраняет состояние после каждого изменения
type Persister interface {
	// Save is best-effort; false means the state stayed in memory only
	Save(ctx context.Context, state models.CartState) bool
}

// Identity выдает идентификатор контекста
type Identity interface {
	GetOrCreateTabID() string
}

// Observer is notified about every inbound decision
type Observer func(msg models.SyncMessage, source Source, outcome Outcome)

// Deps зависимости координатора
type Deps struct {
	Store       *cart.Store
	Persistence Persister
	Identity    Identity
	Primary     transport.Transport // nil when no native broadcast is available
	Fallback    transport.Transport // nil disables the storage relay
	Clock       *crdt.Clock
	Logger      *slog.Logger
	Observer    Observer
}

// Coordinator связывает хранилище корзины, персистентность и транспорты
type Coordinator struct {
	deps      Deps
	logger    *slog.Logger
	debouncer *Debouncer
	seen      *lru.Cache[string, struct{}]
	lww       *crdt.LWWRegister
	unsubs    []func()
	stats     counters
	tabID     string
	cfg       Config
	notices   handoff[models.CartState] // состояния для слушателей в порядке применения
	outbox    handoff[outbound]         // сообщения для debouncer в порядке применения
	mu        sync.Mutex                // сериализует применение команд
	stateMu   sync.Mutex                // started/closed
	started   bool
	closed    bool
}

type outbound struct {
	site string
	msg  models.SyncMessage
}

// NewCoordinator creates a coordinator; it does not subscribe until Start
func NewCoordinator(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: cart store is required", ErrInvalidConfig)
	}
	if deps.Identity == nil {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = crdt.NewClock(nil)
	}

	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	tabID := deps.Identity.GetOrCreateTabID()
	initial := deps.Store.State()

	c := &Coordinator{
		deps:   deps,
		logger: deps.Logger.With("tab_id", tabID),
		seen:   seen,
		lww:    crdt.NewLWWRegister(crdt.Version{Timestamp: initial.LastUpdated}),
		tabID:  tabID,
		cfg:    cfg,
	}
	c.debouncer = NewDebouncer(cfg.Debounce, c.publish)

	// Не выдаем метки меньше времени загруженного состояния
	deps.Clock.Observe(initial.LastUpdated)

	return c, nil
}

// TabID returns the identifier of this context
func (c *Coordinator) TabID() string {
	return c.tabID
}

// Start subscribes to every configured transport.
// A message delivered by both is applied once thanks to the (tabId, timestamp) dedup.
func (c *Coordinator) Start() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.started || c.closed {
		return
	}
	c.started = true

	if c.deps.Primary == nil && c.deps.Fallback == nil {
		c.logger.Warn("No transport available, changes stay local")
		return
	}

	// Контекст без основного транспорта пишет только в fallback,
	// поэтому слушаем его даже при наличии основного
	if c.deps.Primary != nil {
		c.unsubs = append(c.unsubs, c.deps.Primary.Subscribe(func(msg models.SyncMessage) {
			c.Receive(msg, SourcePrimary)
		}))
		c.logger.Debug("Subscribed", "transport", c.deps.Primary.Name())
	}
	if c.deps.Fallback != nil {
		c.unsubs = append(c.unsubs, c.deps.Fallback.Subscribe(func(msg models.SyncMessage) {
			c.Receive(msg, SourceFallback)
		}))
		c.logger.Debug("Subscribed", "transport", c.deps.Fallback.Name())
	}
}

// Dispatch applies cmd locally and queues it for broadcast under DefaultSite
func (c *Coordinator) Dispatch(cmd models.Command) models.CartState {
	return c.DispatchFrom(DefaultSite, cmd)
}

// DispatchFrom applies cmd locally and queues it under the given call site
func (c *Coordinator) DispatchFrom(site string, cmd models.Command) (state models.CartState) {
	// Сначала рассылка, затем слушатели: вложенный Dispatch из слушателя
	// встанет в очередь после текущего сообщения
	defer c.drainNotifications()
	defer c.drainOutbox()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Dispatch panicked", "type", cmd.Type, "panic", r)
			state = c.deps.Store.State()
		}
	}()

	state = c.applyLocal(site, cmd)
	c.stats.dispatched.Add(1)
	return state
}

// applyLocal applies and enqueues under c.mu, so broadcast order matches apply order.
// The debouncer is fed by drainOutbox after the lock is released.
func (c *Coordinator) applyLocal(site string, cmd models.Command) models.CartState {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.deps.Clock.Tick()

	// Полное состояние получает метку не старше момента отправки,
	// чтобы получатели приняли его по LWW так же, как отправитель
	if cmd.Type == models.CommandReplaceState && cmd.State != nil {
		cmd = models.ReplaceState(*cmd.State)
		if cmd.State.LastUpdated < ts {
			cmd.State.LastUpdated = ts
		}
	}

	state, changed := c.deps.Store.ApplyQuiet(cmd, ts)
	if changed {
		c.lww.Advance(crdt.Version{NodeID: c.tabID, Timestamp: state.LastUpdated})
		c.notices.push(state)
		c.persist(state)
	}

	if c.isClosed() {
		c.logger.Debug("Coordinator closed, change not broadcast", "type", cmd.Type)
		return state
	}

	msg, err := models.NewMessage(cmd, ts, c.tabID)
	if err != nil {
		c.logger.Warn("Failed to build sync message", "type", cmd.Type, "error", err)
		return state
	}
	c.outbox.push(outbound{site: site, msg: msg})

	return state
}

// Receive runs the admission rules for msg and applies it when accepted
func (c *Coordinator) Receive(msg models.SyncMessage, source Source) (outcome Outcome) {
	defer c.drainNotifications()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Inbound handling panicked", "type", msg.Type, "from", msg.TabID, "panic", r)
			outcome = SkippedNoop
		}
	}()

	outcome = c.admit(msg, source)
	c.stats.outcomes[outcome].Add(1)

	if outcome != RejectedSelf {
		c.logger.Debug("Inbound message",
			"type", msg.Type,
			"from", msg.TabID,
			"timestamp", msg.Timestamp,
			"source", source,
			"outcome", outcome)
	}
	if c.deps.Observer != nil {
		c.deps.Observer(msg, source, outcome)
	}
	return outcome
}

func (c *Coordinator) admit(msg models.SyncMessage, source Source) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.TabID == c.tabID {
		return RejectedSelf
	}

	key := msg.Key()
	if c.seen.Contains(key) {
		return RejectedDuplicate
	}
	c.seen.Add(key, struct{}{})

	now := c.deps.Clock.WallMillis()
	window := c.cfg.StaleWindow.Milliseconds()
	if now-msg.Timestamp > window {
		return RejectedStale
	}
	// Метка из будущего увела бы часы вперед навсегда
	if msg.Timestamp-now > window {
		return RejectedFuture
	}

	cmd := msg.Command
	if !cmd.Type.Known() {
		return SkippedNoop
	}

	current := c.deps.Store.State()
	if cmd.Type == models.CommandReplaceState {
		if cmd.State == nil {
			return SkippedNoop
		}
		if cmd.State.LastUpdated-now > window {
			return RejectedFuture
		}
		if !c.lww.Offer(crdt.Version{NodeID: msg.TabID, Timestamp: cmd.State.LastUpdated}) {
			return RejectedOutdated
		}
	} else if source == SourceFallback && cart.IsNoop(current, cmd) {
		return SkippedNoop
	}

	c.deps.Clock.Observe(msg.Timestamp)

	state, changed := c.deps.Store.ApplyQuiet(cmd, msg.Timestamp)
	if !changed {
		return SkippedNoop
	}
	c.lww.Advance(crdt.Version{NodeID: msg.TabID, Timestamp: state.LastUpdated})
	c.notices.push(state)
	c.persist(state)

	return Accepted
}

// Flush publishes every pending message now
func (c *Coordinator) Flush() {
	c.drainOutbox()
	c.debouncer.Flush()
}

// Stats returns a snapshot of the counters
func (c *Coordinator) Stats() Stats {
	return c.stats.snapshot()
}

// Close flushes pending messages and unsubscribes; transports stay open
func (c *Coordinator) Close() {
	c.drainOutbox()
	c.debouncer.Flush()

	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.stateMu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *Coordinator) isClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

// drainNotifications delivers queued states to the store listeners without
// holding c.mu, so a listener may dispatch
func (c *Coordinator) drainNotifications() {
	c.notices.drain(c.notify)
}

func (c *Coordinator) drainOutbox() {
	c.outbox.drain(func(o outbound) {
		c.debouncer.Add(o.site, o.msg)
	})
}

func (c *Coordinator) notify(state models.CartState) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Cart listener panicked", "panic", r)
		}
	}()
	c.deps.Store.Notify(state)
}

func (c *Coordinator) persist(state models.CartState) {
	if c.deps.Persistence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	c.deps.Persistence.Save(ctx, state)
}

// publish sends a debounced batch in order
func (c *Coordinator) publish(msgs []models.SyncMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Publish panicked", "batch", len(msgs), "panic", r)
		}
	}()

	mirror := c.deps.Fallback != nil && (c.cfg.MirrorToFallback || c.deps.Primary == nil)

	for _, msg := range msgs {
		if c.deps.Primary != nil {
			c.send(c.deps.Primary, msg)
		}
		if mirror {
			c.send(c.deps.Fallback, msg)
		}
	}
}

func (c *Coordinator) send(t transport.Transport, msg models.SyncMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := t.Publish(ctx, msg); err != nil {
		c.stats.publishErrors.Add(1)
		c.logger.Warn("Failed to publish", "transport", t.Name(), "type", msg.Type, "error", err)
		return
	}
	c.stats.published.Add(1)
}

// handoff hands queued items to fn in push order. Only one goroutine drains
// at a time; a nested or concurrent drain returns at once and its items are
// delivered by the goroutine already draining.
type handoff[T any] struct {
	items []T
	mu    sync.Mutex
	busy  bool
}

func (h *handoff[T]) push(v T) {
	h.mu.Lock()
	h.items = append(h.items, v)
	h.mu.Unlock()
}

func (h *handoff[T]) drain(fn func(T)) {
	h.mu.Lock()
	if h.busy {
		h.mu.Unlock()
		return
	}
	h.busy = true

	for len(h.items) > 0 {
		batch := h.items
		h.items = nil
		h.mu.Unlock()

		for _, v := range batch {
			fn(v)
		}

		h.mu.Lock()
	}
	h.busy = false
	h.mu.Unlock()
}
