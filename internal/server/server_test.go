package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/cartsync/internal/client/app"
	"github.com/iudanet/cartsync/internal/client/storage/memory"
	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/client/transport/wsrelay"
	"github.com/iudanet/cartsync/internal/models"
	"github.com/iudanet/cartsync/pkg/api"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Version = "test"
	s := New(cfg, discardLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		srv.Close()
	})
	return s, srv
}

func TestServer_Health(t *testing.T) {
	s, srv := newTestServer(t)

	tr, err := wsrelay.Dial(context.Background(), srv.URL, transport.DefaultChannel, discardLogger())
	require.NoError(t, err)
	defer tr.Close()
	require.Eventually(t, func() bool { return s.Hub().Connections() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + api.HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 1, health.Channels)
	assert.Equal(t, 1, health.Connections)
}

func TestServer_UnknownRoute(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+api.HealthPath, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_RateLimitsConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 1
	s := New(cfg, discardLogger())
	srv := httptest.NewServer(s.Handler())
	defer func() {
		s.Hub().Close()
		srv.Close()
	}()

	first, err := wsrelay.Dial(context.Background(), srv.URL, "c", discardLogger())
	require.NoError(t, err)
	defer first.Close()

	_, err = wsrelay.Dial(context.Background(), srv.URL, "c", discardLogger())
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

func TestServer_TabsConvergeThroughRelay(t *testing.T) {
	_, srv := newTestServer(t)
	ctx := context.Background()

	// Разные пространства хранения: вкладки видят друг друга только через relay
	open := func() *app.Tab {
		space := memory.NewSpace(discardLogger())
		t.Cleanup(space.Close)
		tab, err := app.Open(ctx, app.Options{
			KV:     space.Open(),
			Logger: discardLogger(),
			Primary: func(ctx context.Context) (transport.Transport, error) {
				return wsrelay.Dial(ctx, srv.URL, transport.DefaultChannel, discardLogger())
			},
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = tab.Close() })
		return tab
	}

	a, b := open(), open()
	require.Equal(t, "wsrelay", a.Transport())

	a.Dispatch(models.AddItem(models.CartItem{ID: "sku1", Name: "Tea", Price: 10}))
	a.Dispatch(models.SetQuantity("sku1", 2))
	b.Dispatch(models.AddItem(models.CartItem{ID: "sku2", Price: 1}))

	require.Eventually(t, func() bool {
		return a.State().Equal(b.State()) && len(a.State().Items) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, a.State().TotalItems)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	s := New(DefaultConfig(), discardLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	tr, err := wsrelay.Dial(context.Background(), url, "c", discardLogger())
	require.NoError(t, err)
	defer tr.Close()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Eventually(t, func() bool { return s.Hub().Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}
