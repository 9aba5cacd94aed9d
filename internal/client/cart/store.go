package cart

import (
	"sync"
	"sync/atomic"

	"github.com/iudanet/cartsync/internal/models"
)

// ReduceFunc вычисляет новое состояние и признак изменения.
type ReduceFunc func(state models.CartState, cmd models.Command, at int64) (models.CartState, bool)

// Listener получает копию состояния после каждого изменения.
type Listener func(state models.CartState)

// Store holds the authoritative in-context cart state.
// Persistence and broadcast are the caller's concern.
type Store struct {
	listeners  map[int]Listener
	reduce     ReduceFunc
	state      models.CartState
	nextID     int
	reductions atomic.Int64
	mu         sync.RWMutex
	listenMu   sync.Mutex
}

// StoreOption настраивает Store
type StoreOption func(*Store)

// WithReducer подменяет редьюсер (используется в тестах для подсчета вызовов).
func WithReducer(fn ReduceFunc) StoreOption {
	return func(s *Store) {
		s.reduce = fn
	}
}

// NewStore creates a store bootstrapped with the given state.
func NewStore(initial models.CartState, opts ...StoreOption) *Store {
	initial = initial.Clone()
	initial.Recalculate()

	s := &Store{
		listeners: make(map[int]Listener),
		reduce:    Step,
		state:     initial,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns a deep copy of the current state.
func (s *Store) State() models.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.Clone()
}

// Apply reduces the command into the current state.
// Listeners are notified only when the state changed.
func (s *Store) Apply(cmd models.Command, at int64) (models.CartState, bool) {
	snapshot, changed := s.ApplyQuiet(cmd, at)
	if changed {
		s.notify(snapshot)
	}
	return snapshot, changed
}

// ApplyQuiet reduces like Apply but does not notify listeners.
// The caller delivers the returned snapshot with Notify once it holds no locks
// that a listener could need.
func (s *Store) ApplyQuiet(cmd models.Command, at int64) (models.CartState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reductions.Add(1)
	next, changed := s.reduce(s.state, cmd, at)
	if changed {
		s.state = next
	}
	return s.state.Clone(), changed
}

// Notify delivers state to every listener
func (s *Store) Notify(state models.CartState) {
	s.notify(state)
}

// Reset installs a full state without going through the reducer.
// Used for bootstrap from persistence.
func (s *Store) Reset(state models.CartState) {
	state = state.Clone()
	state.Recalculate()

	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.notify(state.Clone())
}

// Subscribe registers a listener and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.listenMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenMu.Lock()
			delete(s.listeners, id)
			s.listenMu.Unlock()
		})
	}
}

// Reductions returns how many times the reducer has been invoked.
func (s *Store) Reductions() int64 {
	return s.reductions.Load()
}

func (s *Store) notify(state models.CartState) {
	s.listenMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenMu.Unlock()

	for _, l := range listeners {
		l(state.Clone())
	}
}
