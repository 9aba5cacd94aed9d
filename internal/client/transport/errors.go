package transport

import "errors"

var (
	// ErrUnavailable indicates that the transport cannot be created in this environment
	ErrUnavailable = errors.New("transport unavailable")

	// ErrClosed indicates use of a closed transport
	ErrClosed = errors.New("transport is closed")
)
