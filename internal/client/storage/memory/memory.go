// Package memory provides an in-memory shared key-value store.
// A Space plays the role of an origin; every context opens its own handle.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/iudanet/cartsync/internal/client/storage"
)

// Space is the shared in-memory origin
type Space struct {
	data     map[string][]byte
	writeErr error
	notifier *storage.Notifier
	mu       sync.RWMutex
}

// NewSpace creates an empty space
func NewSpace(logger *slog.Logger) *Space {
	return &Space{
		data:     make(map[string][]byte),
		notifier: storage.NewNotifier(logger),
	}
}

// Open returns a new handle to the space
func (sp *Space) Open() *Store {
	return &Store{
		space: sp,
		owner: sp.notifier.NewOwner(),
	}
}

// FailWrites makes every subsequent Set fail with err; nil restores writes.
// Used to simulate quota errors.
func (sp *Space) FailWrites(err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.writeErr = err
}

// Close cancels all watches of all handles
func (sp *Space) Close() {
	sp.notifier.Close()
}

// Store is one handle to a Space
type Store struct {
	space  *Space
	owner  uint64
	closed atomic.Bool
}

var _ storage.KV = (*Store)(nil)

// Get returns the value stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	s.space.mu.RLock()
	defer s.space.mu.RUnlock()

	value, ok := s.space.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set stores value under key
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	s.space.mu.Lock()
	if s.space.writeErr != nil {
		err := s.space.writeErr
		s.space.mu.Unlock()
		return err
	}
	s.space.data[key] = append([]byte(nil), value...)
	s.space.mu.Unlock()

	s.space.notifier.Notify(s.owner, storage.Change{Key: key, Value: value})
	return nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}

	s.space.mu.Lock()
	_, existed := s.space.data[key]
	delete(s.space.data, key)
	s.space.mu.Unlock()

	if existed {
		s.space.notifier.Notify(s.owner, storage.Change{Key: key, Deleted: true})
	}
	return nil
}

// Watch registers fn for changes made through other handles
func (s *Store) Watch(key string, fn func(storage.Change)) func() {
	return s.space.notifier.Watch(s.owner, key, fn)
}

// Close releases the handle
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.space.notifier.CancelOwner(s.owner)
	return nil
}
