// Package fallback carries broadcast frames through the shared key-value store
// when no native broadcast channel is available. A message is written under the
// relay key and removed shortly after; other contexts pick it up from the
// store's change notification.
package fallback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/cartsync/internal/client/storage"
	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/models"
)

const (
	// DefaultKey is the relay key
	DefaultKey = storage.KeyPrefix + "relay"
	// DefaultTTL is how long a relayed frame stays in the store
	DefaultTTL = time.Second
)

// Options настраивают резервный транспорт
type Options struct {
	Key string
	TTL time.Duration
}

// Transport relays frames through a storage.KV handle
type Transport struct {
	kv       storage.KV
	logger   *slog.Logger
	timer    *time.Timer
	unwatch  func()
	handlers transport.Handlers
	pending  []byte // последний записанный кадр, ожидающий удаления
	key      string
	ttl      time.Duration
	mu       sync.Mutex
	closed   bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates a relay over kv; kv stays owned by the caller
func New(kv storage.KV, logger *slog.Logger, opts Options) *Transport {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Transport{
		kv:     kv,
		logger: logger.With("transport", "fallback", "key", opts.Key),
		key:    opts.Key,
		ttl:    opts.TTL,
	}
}

// Name returns the transport name
func (t *Transport) Name() string {
	return "fallback"
}

// Publish writes the frame under the relay key and schedules its removal
func (t *Transport) Publish(ctx context.Context, msg models.SyncMessage) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return transport.ErrClosed
	}

	if err := t.kv.Set(ctx, t.key, frame); err != nil {
		return fmt.Errorf("failed to write relay key: %w", err)
	}

	// Новая запись сбрасывает отложенное удаление
	if t.timer != nil {
		t.timer.Stop()
	}
	t.pending = frame
	t.timer = time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed || !bytes.Equal(t.pending, frame) {
			return
		}
		t.expireLocked()
	})
	return nil
}

// Subscribe registers h; the relay key is watched from the first subscription on
func (t *Transport) Subscribe(h transport.Handler) func() {
	remove := t.handlers.Add(h)

	t.mu.Lock()
	if t.unwatch == nil && !t.closed {
		t.unwatch = t.kv.Watch(t.key, t.onChange)
	}
	t.mu.Unlock()

	return remove
}

// Close stops watching and performs pending deletions now
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.unwatch != nil {
		t.unwatch()
		t.unwatch = nil
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.pending != nil {
		t.expireLocked()
	}
	return nil
}

// expireLocked removes our frame unless somebody overwrote it meanwhile
func (t *Transport) expireLocked() {
	frame := t.pending
	t.pending = nil

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	current, err := t.kv.Get(ctx, t.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.logger.Warn("Failed to read relay key", "error", err)
		}
		return
	}
	if !bytes.Equal(current, frame) {
		return
	}
	if err := t.kv.Delete(ctx, t.key); err != nil {
		t.logger.Warn("Failed to delete relay key", "error", err)
	}
}

func (t *Transport) onChange(c storage.Change) {
	if c.Deleted {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Handler panicked", "panic", r)
		}
	}()

	msg, err := models.DecodeMessage(c.Value)
	if err != nil {
		t.logger.Warn("Dropping malformed relay payload", "error", err)
		return
	}
	t.handlers.Dispatch(msg)
}
