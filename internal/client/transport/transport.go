// Package transport defines the broadcast contract shared by every channel
// implementation: fire-and-forget publish and asynchronous delivery to the
// other contexts subscribed to the same name.
package transport

import (
	"context"

	"github.com/iudanet/cartsync/internal/models"
)

//go:generate moq -out transport_mock.go . Transport

// DefaultChannel is the broadcast channel name used by the cart
const DefaultChannel = "cartsync:cart"

// Handler receives decoded inbound messages
type Handler func(msg models.SyncMessage)

// Transport is a named broadcast channel
type Transport interface {
	// Name identifies the implementation in logs
	Name() string

	// Publish sends msg to the other subscribers; delivery is not confirmed
	Publish(ctx context.Context, msg models.SyncMessage) error

	// Subscribe registers h for inbound messages and returns the unsubscribe function
	Subscribe(h Handler) (unsubscribe func())

	// Close releases the channel; calling it more than once is allowed
	Close() error
}
