// Package channel provides an in-process named broadcast bus.
// A frame published on a channel reaches every other open channel with the same
// name in the same Bus, never the sender.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/models"
)

// inboxSize bounds undelivered frames per receiver; overflow is dropped
const inboxSize = 1024

// Bus connects channels of one process
type Bus struct {
	channels map[string]map[*Channel]struct{}
	logger   *slog.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewBus creates an empty bus
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		channels: make(map[string]map[*Channel]struct{}),
		logger:   logger,
	}
}

// Open creates a channel attached to name
func (b *Bus) Open(name string) (*Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: bus is closed", transport.ErrUnavailable)
	}

	c := &Channel{
		bus:    b,
		name:   name,
		inbox:  make(chan []byte, inboxSize),
		done:   make(chan struct{}),
		logger: b.logger.With("transport", "channel", "channel", name),
	}
	if b.channels[name] == nil {
		b.channels[name] = make(map[*Channel]struct{})
	}
	b.channels[name][c] = struct{}{}

	go c.loop()
	return c, nil
}

// Close detaches every channel; further Open calls fail
func (b *Bus) Close() {
	b.mu.Lock()
	all := make([]*Channel, 0)
	for _, set := range b.channels {
		for c := range set {
			all = append(all, c)
		}
	}
	b.closed = true
	b.mu.Unlock()

	for _, c := range all {
		_ = c.Close()
	}
}

// Size returns the number of open channels with name
func (b *Bus) Size(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[name])
}

func (b *Bus) broadcast(sender *Channel, frame []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for c := range b.channels[sender.name] {
		if c == sender {
			continue
		}
		select {
		case c.inbox <- frame:
		default:
			c.logger.Warn("Inbox full, dropping frame")
		}
	}
}

func (b *Bus) detach(c *Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.channels[c.name]
	delete(set, c)
	if len(set) == 0 {
		delete(b.channels, c.name)
	}
}

// Channel is one context's endpoint on the bus
type Channel struct {
	bus      *Bus
	logger   *slog.Logger
	inbox    chan []byte
	done     chan struct{}
	handlers transport.Handlers
	name     string
	closed   atomic.Bool
}

var _ transport.Transport = (*Channel)(nil)

// Name returns the transport name
func (c *Channel) Name() string {
	return "channel"
}

// Publish encodes msg once and hands it to every other channel of the same name
func (c *Channel) Publish(ctx context.Context, msg models.SyncMessage) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.PublishRaw(ctx, frame)
}

// PublishRaw broadcasts an already encoded frame
func (c *Channel) PublishRaw(ctx context.Context, frame []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	c.bus.broadcast(c, frame)
	return nil
}

// Subscribe registers h for inbound messages
func (c *Channel) Subscribe(h transport.Handler) func() {
	return c.handlers.Add(h)
}

// Close detaches the channel from the bus
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.bus.detach(c)
	close(c.done)
	return nil
}

func (c *Channel) loop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.inbox:
			c.deliver(frame)
		}
	}
}

func (c *Channel) deliver(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panicked", "panic", r)
		}
	}()

	// Каждый получатель декодирует собственную копию
	msg, err := models.DecodeMessage(frame)
	if err != nil {
		c.logger.Warn("Dropping malformed frame", "error", err)
		return
	}
	c.handlers.Dispatch(msg)
}
