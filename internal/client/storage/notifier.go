package storage

import (
	"log/slog"
	"sync"
)

// watcherBuffer bounds the per-watcher mailbox; when it is full, further
// changes are dropped, which surfaces to the watcher as coalescing
const watcherBuffer = 256

// Notifier fans out key changes to watchers registered by other handles.
// It gives in-process backends the storage-event semantics: the writer is
// never notified of its own change and delivery is asynchronous.
type Notifier struct {
	watchers map[uint64]*watcher
	logger   *slog.Logger
	nextID   uint64
	owners   uint64
	mu       sync.RWMutex
}

type watcher struct {
	fn    func(Change)
	ch    chan Change
	done  chan struct{}
	key   string
	owner uint64
	once  sync.Once
}

// NewNotifier creates a notifier
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		watchers: make(map[uint64]*watcher),
		logger:   logger,
	}
}

// NewOwner allocates an identifier for a handle
func (n *Notifier) NewOwner() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.owners++
	return n.owners
}

// Watch registers fn for changes of key made by owners other than owner
func (n *Notifier) Watch(owner uint64, key string, fn func(Change)) func() {
	w := &watcher{
		fn:    fn,
		ch:    make(chan Change, watcherBuffer),
		done:  make(chan struct{}),
		key:   key,
		owner: owner,
	}

	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.watchers[id] = w
	n.mu.Unlock()

	go n.run(w)

	return func() {
		n.mu.Lock()
		delete(n.watchers, id)
		n.mu.Unlock()
		w.stop()
	}
}

// Notify delivers change to every matching watcher of other owners
func (n *Notifier) Notify(origin uint64, change Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, w := range n.watchers {
		if w.owner == origin || w.key != change.Key {
			continue
		}

		c := change
		if change.Value != nil {
			c.Value = append([]byte(nil), change.Value...)
		}

		select {
		case w.ch <- c:
		default:
			n.logger.Debug("Watcher mailbox full, change coalesced", "key", change.Key)
		}
	}
}

// CancelOwner removes every watcher registered by owner
func (n *Notifier) CancelOwner(owner uint64) {
	n.mu.Lock()
	var stopped []*watcher
	for id, w := range n.watchers {
		if w.owner == owner {
			delete(n.watchers, id)
			stopped = append(stopped, w)
		}
	}
	n.mu.Unlock()

	for _, w := range stopped {
		w.stop()
	}
}

// Close cancels every watcher
func (n *Notifier) Close() {
	n.mu.Lock()
	watchers := n.watchers
	n.watchers = make(map[uint64]*watcher)
	n.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
}

func (n *Notifier) run(w *watcher) {
	for {
		select {
		case <-w.done:
			return
		case c := <-w.ch:
			n.deliver(w, c)
		}
	}
}

func (n *Notifier) deliver(w *watcher, c Change) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Watcher panicked", "key", c.Key, "panic", r)
		}
	}()
	w.fn(c)
}

func (w *watcher) stop() {
	w.once.Do(func() {
		close(w.done)
	})
}
