package wsrelay

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChannelURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		want    string
		wantErr bool
	}{
		{name: "http", base: "http://localhost:8080", want: "ws://localhost:8080/channels/cartsync:cart"},
		{name: "https with path", base: "https://relay.example.com/sync/", want: "wss://relay.example.com/sync/channels/cartsync:cart"},
		{name: "ws", base: "ws://127.0.0.1:9", want: "ws://127.0.0.1:9/channels/cartsync:cart"},
		{name: "bad scheme", base: "ftp://host", wantErr: true},
		{name: "unparsable", base: "://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChannelURL(tt.base, transport.DefaultChannel)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDial_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tr, err := Dial(ctx, srv.URL, "c", discardLogger())
	assert.ErrorIs(t, err, transport.ErrUnavailable)
	assert.Nil(t, tr)
}

// echoServer echoes every frame back to its sender
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "")
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
}

func TestTransport_PublishAndReceive(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	ctx := context.Background()
	tr, err := Dial(ctx, srv.URL, "c", discardLogger())
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []models.SyncMessage
	)
	tr.Subscribe(func(m models.SyncMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	})

	msg, err := models.NewMessage(models.RemoveItem("sku1"), 7, "tab-a")
	require.NoError(t, err)
	require.NoError(t, tr.Publish(ctx, msg))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "sku1", got[0].Command.ID)
	mu.Unlock()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Publish(ctx, msg), transport.ErrClosed)
}
