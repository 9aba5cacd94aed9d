package relay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/iudanet/cartsync/internal/client/transport/wsrelay"
	"github.com/iudanet/cartsync/internal/models"
	"github.com/iudanet/cartsync/internal/validation"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(discardLogger(), Options{})
	mux := http.NewServeMux()
	mux.Handle("GET /channels/{name}", hub)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dialRaw(t *testing.T, srv *httptest.Server, channel string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/channels/" + channel
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

type inbox struct {
	msgs []models.SyncMessage
	mu   sync.Mutex
}

func (i *inbox) add(msg models.SyncMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
}

func (i *inbox) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.msgs)
}

func TestHub_ForwardsToOtherPeersOnSameChannel(t *testing.T) {
	hub, srv := newTestHub(t)
	ctx := context.Background()

	dial := func(channel string) (*wsrelay.Transport, *inbox) {
		tr, err := wsrelay.Dial(ctx, srv.URL, channel, discardLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = tr.Close() })
		in := &inbox{}
		tr.Subscribe(in.add)
		return tr, in
	}

	a, aIn := dial("cart")
	_, bIn := dial("cart")
	_, otherIn := dial("other")

	require.Eventually(t, func() bool { return hub.Connections() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.Channels())

	msg, err := models.NewMessage(models.AddItem(models.CartItem{ID: "sku1", Price: 10}), 1000, "tab-a")
	require.NoError(t, err)
	require.NoError(t, a.Publish(ctx, msg))

	require.Eventually(t, func() bool { return bIn.len() == 1 }, time.Second, 5*time.Millisecond)
	bIn.mu.Lock()
	assert.Equal(t, msg.Key(), bIn.msgs[0].Key())
	assert.Equal(t, models.CommandAddItem, bIn.msgs[0].Type)
	bIn.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, aIn.len(), "sender must not receive its own frame")
	assert.Zero(t, otherIn.len(), "other channels must not receive the frame")
}

func TestHub_FramesAreForwardedUnmodified(t *testing.T) {
	_, srv := newTestHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a := dialRaw(t, srv, "raw")
	b := dialRaw(t, srv, "raw")

	// Дадим хабу зарегистрировать обоих участников
	time.Sleep(50 * time.Millisecond)

	payload := []byte(`not even json {{{`)
	require.NoError(t, a.Write(ctx, websocket.MessageText, payload))

	typ, data, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, payload, data)
}

func TestHub_LeaveUpdatesCounts(t *testing.T) {
	hub, srv := newTestHub(t)

	conn := dialRaw(t, srv, "cart")
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return hub.Connections() == 0 && hub.Channels() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dialRaw(t, srv, "cart")
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	// Новые подключения после Close отклоняются
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/channels/cart"
	late, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	_, _, err = late.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestHub_RejectsLongChannelName(t *testing.T) {
	_, srv := newTestHub(t)

	resp, err := http.Get(srv.URL + "/channels/" + strings.Repeat("x", validation.MaxChannelLen+1))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_RejectsPlainHTTP(t *testing.T) {
	_, srv := newTestHub(t)

	resp, err := http.Get(srv.URL + "/channels/cart")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
