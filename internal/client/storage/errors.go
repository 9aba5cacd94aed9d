package storage

import "errors"

// Common client storage errors
var (
	// ErrNotFound indicates that the key doesn't exist
	ErrNotFound = errors.New("key not found")

	// ErrQuotaExceeded indicates that the store refused a write because it is full
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
