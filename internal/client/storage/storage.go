package storage

import (
	"context"
)

//go:generate moq -out kv_mock.go . KV

// KV defines the shared durable key-value store used by every context of one origin.
// The store is shared with unrelated consumers, so protocol keys are namespaced.
type KV interface {
	// Get returns the value stored under key
	// Returns ErrNotFound if the key doesn't exist
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Watch registers fn for changes of key made through other handles.
	// Callbacks run asynchronously and may coalesce rapid writes.
	// The returned function cancels the registration.
	Watch(key string, fn func(Change)) (cancel func())

	// Close releases the handle and cancels its watches
	Close() error
}

// Change describes a modification of a key observed by a watcher
type Change struct {
	Key     string
	Value   []byte // nil when Deleted
	Deleted bool
}

// KeyPrefix namespaces every key written by this protocol
const KeyPrefix = "cartsync:"
