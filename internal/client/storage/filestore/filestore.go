// Package filestore implements storage.KV as one file per key in a shared
// directory. Changes made by other processes are observed through fsnotify,
// so several CLI processes on one directory behave like contexts of one origin.
package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/iudanet/cartsync/internal/client/storage"
)

const tmpPrefix = ".tmp-"

// Store is a directory-backed key-value store
type Store struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	last     map[string][]byte // последнее известное содержимое ключа; nil - ключа нет
	watchers map[string]map[uint64]func(storage.Change)
	done     chan struct{}
	dir      string
	nextID   uint64
	mu       sync.Mutex
	closed   bool
}

var _ storage.KV = (*Store)(nil)

// New opens the store in dir, creating the directory if needed
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s := &Store{
		watcher:  watcher,
		logger:   logger,
		last:     make(map[string][]byte),
		watchers: make(map[string]map[uint64]func(storage.Change)),
		done:     make(chan struct{}),
		dir:      dir,
	}
	go s.loop()

	logger.Debug("File store opened", "dir", dir)
	return s, nil
}

// Get returns the value stored under key
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isClosed() {
		return nil, storage.ErrStorageClosed
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return data, nil
}

// Set atomically replaces the file of key
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Запоминаем до rename, чтобы собственное событие было отброшено
	prev, hadPrev := s.last[key]
	s.last[key] = append([]byte{}, value...)

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		if hadPrev {
			s.last[key] = prev
		} else {
			delete(s.last, key)
		}
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %q: %w", key, err)
	}
	return nil
}

// Delete removes the file of key
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	s.last[key] = nil
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Watch registers fn for changes of key made by other processes or stores
func (s *Store) Watch(key string, fn func(storage.Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[uint64]func(storage.Change))
	}
	s.watchers[key][id] = fn

	// Базовая линия, от которой считаются изменения
	if _, known := s.last[key]; !known {
		if data, err := os.ReadFile(s.path(key)); err == nil {
			s.last[key] = data
		}
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[key], id)
	}
}

// Close stops watching the directory
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.watchers = make(map[string]map[uint64]func(storage.Change))
	s.mu.Unlock()

	err := s.watcher.Close()
	<-s.done
	return err
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) loop() {
	defer close(s.done)

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("File watcher error", "dir", s.dir, "error", err)
		}
	}
}

func (s *Store) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, tmpPrefix) {
		return
	}
	key, err := decodeKey(name)
	if err != nil {
		s.logger.Debug("Ignoring foreign file", "name", name)
		return
	}

	var change storage.Change
	switch {
	case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
		data, err := os.ReadFile(event.Name)
		if err != nil {
			// файл успели удалить; это придёт отдельным событием
			return
		}
		change = storage.Change{Key: key, Value: data}
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if _, err := os.Stat(event.Name); err == nil {
			return
		}
		change = storage.Change{Key: key, Deleted: true}
	default:
		return
	}

	s.mu.Lock()
	prev, known := s.last[key]
	if change.Deleted {
		if known && prev == nil {
			s.mu.Unlock()
			return
		}
		s.last[key] = nil
	} else {
		if known && prev != nil && bytes.Equal(prev, change.Value) {
			s.mu.Unlock()
			return
		}
		s.last[key] = change.Value
	}
	fns := make([]func(storage.Change), 0, len(s.watchers[key]))
	for _, fn := range s.watchers[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		s.deliver(fn, change)
	}
}

func (s *Store) deliver(fn func(storage.Change), change storage.Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Watcher panicked", "key", change.Key, "panic", r)
		}
	}()

	c := change
	if change.Value != nil {
		c.Value = append([]byte(nil), change.Value...)
	}
	fn(c)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, encodeKey(key))
}

// encodeKey maps a key to a file name; bytes outside [A-Za-z0-9-] become _xx
func encodeKey(key string) string {
	var b strings.Builder
	for i := 0; i < len(key); i++ {
		c := key[i]
		if isPlain(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "_%02x", c)
	}
	return b.String()
}

func decodeKey(name string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isPlain(c) {
			b.WriteByte(c)
			continue
		}
		if c != '_' || i+2 >= len(name) {
			return "", fmt.Errorf("invalid file name %q", name)
		}
		v, err := strconv.ParseUint(name[i+1:i+3], 16, 8)
		if err != nil {
			return "", fmt.Errorf("invalid escape in %q: %w", name, err)
		}
		b.WriteByte(byte(v))
		i += 2
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty file name")
	}
	return b.String(), nil
}

func isPlain(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-'
}
