package boltdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/cartsync/internal/client/storage"
)

var (
	// BoltDB bucket names
	bucketKV = []byte("cartsync")
)

// openTimeout bounds waiting for the file lock held by another process
const openTimeout = time.Second

// Storage represents BoltDB key-value storage shared by the handles of one process
type Storage struct {
	db       *bbolt.DB
	notifier *storage.Notifier
	logger   *slog.Logger
	mu       sync.RWMutex
}

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Storage, error) {
	// Открываем BoltDB
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{
		db:       db,
		notifier: storage.NewNotifier(logger),
		logger:   logger,
	}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	logger.Debug("BoltDB storage opened", "path", dbPath)
	return s, nil
}

// Handle opens a new handle; changes made through it are reported to watchers of other handles
func (s *Storage) Handle() *Handle {
	return &Handle{
		storage: s,
		owner:   s.notifier.NewOwner(),
	}
}

// Close closes the database connection
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	s.notifier.Close()
	err := s.db.Close()
	s.db = nil
	return err
}

// initBuckets создает необходимые buckets если они не существуют
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return fmt.Errorf("failed to create kv bucket: %w", err)
		}
		return nil
	})
}

// view runs fn in a read transaction on the kv bucket
func (s *Storage) view(fn func(b *bbolt.Bucket) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return storage.ErrStorageClosed
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketKV)
		}
		return fn(b)
	})
}

// update runs fn in a write transaction on the kv bucket
func (s *Storage) update(fn func(b *bbolt.Bucket) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return storage.ErrStorageClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketKV)
		}
		return fn(b)
	})
}

// Handle is a storage.KV view of Storage for one context
type Handle struct {
	storage *Storage
	owner   uint64
	closed  atomic.Bool
}

var _ storage.KV = (*Handle)(nil)

// Get returns the value stored under key
func (h *Handle) Get(ctx context.Context, key string) ([]byte, error) {
	if h.closed.Load() {
		return nil, storage.ErrStorageClosed
	}

	var value []byte
	err := h.storage.view(func(b *bbolt.Bucket) error {
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		// bbolt возвращает срез, валидный только внутри транзакции
		value = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrStorageClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key
func (h *Handle) Set(ctx context.Context, key string, value []byte) error {
	if h.closed.Load() {
		return storage.ErrStorageClosed
	}

	err := h.storage.update(func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), value)
	})
	if err != nil {
		if errors.Is(err, storage.ErrStorageClosed) {
			return err
		}
		return fmt.Errorf("failed to set %q: %w", key, err)
	}

	h.storage.notifier.Notify(h.owner, storage.Change{Key: key, Value: value})
	return nil
}

// Delete removes key
func (h *Handle) Delete(ctx context.Context, key string) error {
	if h.closed.Load() {
		return storage.ErrStorageClosed
	}

	existed := false
	err := h.storage.update(func(b *bbolt.Bucket) error {
		if b.Get([]byte(key)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(key))
	})
	if err != nil {
		if errors.Is(err, storage.ErrStorageClosed) {
			return err
		}
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}

	if existed {
		h.storage.notifier.Notify(h.owner, storage.Change{Key: key, Deleted: true})
	}
	return nil
}

// Watch registers fn for changes made through other handles of the same Storage
func (h *Handle) Watch(key string, fn func(storage.Change)) func() {
	return h.storage.notifier.Watch(h.owner, key, fn)
}

// Close releases the handle; the underlying database stays open
func (h *Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.storage.notifier.CancelOwner(h.owner)
	return nil
}
