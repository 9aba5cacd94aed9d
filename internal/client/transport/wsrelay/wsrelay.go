// Package wsrelay implements the broadcast transport as a websocket client of
// the relay server, which forwards frames between connections of one channel.
package wsrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/pkg/api"
	"github.com/iudanet/cartsync/internal/models"
)

// maxFrameSize bounds a single inbound frame
const maxFrameSize = 1 << 20

// Transport is a websocket connection to a relay channel
type Transport struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	cancel   context.CancelFunc
	handlers transport.Handlers
	wg       sync.WaitGroup
	closed   atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

// ChannelURL builds the relay endpoint of channel from baseURL (http, https, ws or wss)
func ChannelURL(baseURL, channel string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse relay url: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay url scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + api.ChannelPath(channel)
	u.RawPath = ""
	return u.String(), nil
}

// Dial connects to channel on the relay at baseURL
func Dial(ctx context.Context, baseURL, channel string, logger *slog.Logger) (*Transport, error) {
	if channel == "" {
		channel = transport.DefaultChannel
	}

	endpoint, err := ChannelURL(baseURL, channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial relay: %v", transport.ErrUnavailable, err)
	}
	conn.SetReadLimit(maxFrameSize)

	readCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		conn:   conn,
		logger: logger.With("transport", "wsrelay", "channel", channel),
		cancel: cancel,
	}

	t.wg.Add(1)
	go t.readLoop(readCtx)

	return t, nil
}

// Name returns the transport name
func (t *Transport) Name() string {
	return "wsrelay"
}

// Publish writes msg as one text frame
func (t *Transport) Publish(ctx context.Context, msg models.SyncMessage) error {
	if t.closed.Load() {
		return transport.ErrClosed
	}

	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := t.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Subscribe registers h for inbound messages
func (t *Transport) Subscribe(h transport.Handler) func() {
	return t.handlers.Add(h)
}

// Close closes the connection and waits for the read loop
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	err := t.conn.Close(websocket.StatusNormalClosure, "")
	t.cancel()
	t.wg.Wait()

	if err != nil && !isClosed(err) {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()

	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			if !t.closed.Load() && !isClosed(err) {
				t.logger.Warn("Relay connection lost", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			t.logger.Warn("Dropping non-text frame")
			continue
		}
		t.deliver(data)
	}
}

func (t *Transport) deliver(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Handler panicked", "panic", r)
		}
	}()

	msg, err := models.DecodeMessage(frame)
	if err != nil {
		t.logger.Warn("Dropping malformed frame", "error", err)
		return
	}
	t.handlers.Dispatch(msg)
}

func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
