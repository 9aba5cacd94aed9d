package redisbus

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// closedAddr returns an address nothing listens on
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestNew_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{name: "missing address", opts: Options{}},
		{name: "nobody listening", opts: Options{Addr: closedAddr(t), DialTimeout: 200 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(context.Background(), tt.opts, discardLogger())
			assert.ErrorIs(t, err, transport.ErrUnavailable)
			assert.Nil(t, tr)
		})
	}
}

// TestTransport_RoundTrip requires a running Redis; set CARTSYNC_TEST_REDIS_ADDR to enable
func TestTransport_RoundTrip(t *testing.T) {
	addr := os.Getenv("CARTSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CARTSYNC_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	channel := "cartsync:test:" + t.Name()

	a, err := New(ctx, Options{Addr: addr, Channel: channel}, discardLogger())
	require.NoError(t, err)
	defer a.Close()
	b, err := New(ctx, Options{Addr: addr, Channel: channel}, discardLogger())
	require.NoError(t, err)
	defer b.Close()

	var (
		mu  sync.Mutex
		got []models.SyncMessage
	)
	b.Subscribe(func(m models.SyncMessage) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	})

	msg, err := models.NewMessage(models.SetQuantity("sku1", 3), 42, "tab-a")
	require.NoError(t, err)
	require.NoError(t, a.Publish(ctx, msg))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.CommandSetQuantity, got[0].Type)
	assert.Equal(t, 3, got[0].Command.Quantity)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
	assert.ErrorIs(t, a.Publish(ctx, msg), transport.ErrClosed)
}
