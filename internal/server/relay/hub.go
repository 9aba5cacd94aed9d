// Package relay implements the loopback websocket relay used as a cross-process
// broadcast channel: every frame received on /channels/{name} is forwarded,
// unmodified, to every other connection on the same name.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/iudanet/cartsync/internal/validation"
)

const (
	defaultSendBuffer   = 64
	defaultReadLimit    = 1 << 20
	defaultWriteTimeout = 5 * time.Second
)

// Options настройки хаба
type Options struct {
	// OriginPatterns are passed to websocket.Accept; empty allows only same-origin browsers
	OriginPatterns []string
	SendBuffer     int
	ReadLimit      int64
	WriteTimeout   time.Duration
}

// Hub keeps connections grouped by channel name
type Hub struct {
	channels map[string]map[*peer]struct{}
	logger   *slog.Logger
	opts     Options
	mu       sync.RWMutex
	closed   bool
}

type peer struct {
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	channel string
	addr    string
	once    sync.Once
}

// ErrHubClosed is returned for connections arriving after Close
var ErrHubClosed = errors.New("relay hub is closed")

// NewHub creates a hub
func NewHub(logger *slog.Logger, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{
		channels: make(map[string]map[*peer]struct{}),
		logger:   logger,
		opts:     opts,
	}
}

// ServeHTTP обрабатывает GET /channels/{name}
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := validation.ValidateChannelName(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		// Accept уже записал ответ клиенту
		h.logger.Warn("Failed to accept websocket", "channel", name, "error", err)
		return
	}
	ws.SetReadLimit(h.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p := &peer{
		ws:      ws,
		send:    make(chan []byte, h.opts.SendBuffer),
		done:    make(chan struct{}),
		channel: name,
		addr:    r.RemoteAddr,
	}
	if err := h.join(p); err != nil {
		ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.leave(p)

	h.logger.Debug("Peer joined", "channel", name, "remote_addr", p.addr)

	go h.writeLoop(ctx, p)
	h.readLoop(ctx, p)
}

// Channels returns the number of channels with at least one connection
func (h *Hub) Channels() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// Connections returns the number of open connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, peers := range h.channels {
		n += len(peers)
	}
	return n
}

// Close disconnects every peer and rejects new connections
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var peers []*peer
	for _, set := range h.channels {
		for p := range set {
			peers = append(peers, p)
		}
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.kick(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) join(p *peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	set, ok := h.channels[p.channel]
	if !ok {
		set = make(map[*peer]struct{})
		h.channels[p.channel] = set
	}
	set[p] = struct{}{}
	return nil
}

func (h *Hub) leave(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.channels[p.channel]
	delete(set, p)
	if len(set) == 0 {
		delete(h.channels, p.channel)
	}
}

func (h *Hub) readLoop(ctx context.Context, p *peer) {
	for {
		_, data, err := p.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				h.logger.Debug("Peer read failed", "channel", p.channel, "remote_addr", p.addr, "error", err)
			}
			p.kick(websocket.StatusNormalClosure, "")
			return
		}
		h.forward(p, data)
	}
}

// forward отправляет кадр всем остальным участникам канала
func (h *Hub) forward(from *peer, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for p := range h.channels[from.channel] {
		if p == from {
			continue
		}
		select {
		case p.send <- frame:
		default:
			h.logger.Warn("Dropping slow peer", "channel", p.channel, "remote_addr", p.addr)
			p.kick(websocket.StatusPolicyViolation, "slow consumer")
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, p *peer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case frame := <-p.send:
			wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := p.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				h.logger.Debug("Peer write failed", "channel", p.channel, "remote_addr", p.addr, "error", err)
				p.kick(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// kick closes the connection once; the close handshake runs in the background
// and makes the pending Read in readLoop return
func (p *peer) kick(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		close(p.done)
		go func() {
			_ = p.ws.Close(code, reason)
		}()
	})
}
