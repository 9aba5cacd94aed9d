package transport

import (
	"sync"

	"github.com/iudanet/cartsync/internal/models"
)

// Handlers is a concurrency-safe handler registry used by the implementations
type Handlers struct {
	handlers map[uint64]Handler
	nextID   uint64
	mu       sync.RWMutex
}

// Add registers h and returns its removal function
func (hs *Handlers) Add(h Handler) func() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.handlers == nil {
		hs.handlers = make(map[uint64]Handler)
	}
	hs.nextID++
	id := hs.nextID
	hs.handlers[id] = h

	return func() {
		hs.mu.Lock()
		defer hs.mu.Unlock()
		delete(hs.handlers, id)
	}
}

// Dispatch calls every registered handler with msg
func (hs *Handlers) Dispatch(msg models.SyncMessage) {
	hs.mu.RLock()
	list := make([]Handler, 0, len(hs.handlers))
	for _, h := range hs.handlers {
		list = append(list, h)
	}
	hs.mu.RUnlock()

	for _, h := range list {
		h(msg)
	}
}

// Len returns the number of registered handlers
func (hs *Handlers) Len() int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return len(hs.handlers)
}
