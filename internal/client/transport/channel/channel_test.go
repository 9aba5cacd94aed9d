package channel

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/models"
)

type inbox struct {
	msgs []models.SyncMessage
	mu   sync.Mutex
}

func (i *inbox) handle(m models.SyncMessage) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, m)
}

func (i *inbox) snapshot() []models.SyncMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]models.SyncMessage(nil), i.msgs...)
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	return b
}

func mustMessage(t *testing.T, cmd models.Command, ts int64, tab string) models.SyncMessage {
	t.Helper()
	msg, err := models.NewMessage(cmd, ts, tab)
	require.NoError(t, err)
	return msg
}

func TestChannel_DeliversToOthersNotSender(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	a, err := bus.Open(transport.DefaultChannel)
	require.NoError(t, err)
	b, err := bus.Open(transport.DefaultChannel)
	require.NoError(t, err)
	other, err := bus.Open("other")
	require.NoError(t, err)

	var aIn, bIn, otherIn inbox
	a.Subscribe(aIn.handle)
	b.Subscribe(bIn.handle)
	other.Subscribe(otherIn.handle)

	msg := mustMessage(t, models.AddItem(models.CartItem{ID: "sku1", Price: 10, Quantity: 1}), 100, "tab-a")
	require.NoError(t, a.Publish(ctx, msg))

	require.Eventually(t, func() bool { return len(bIn.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	got := bIn.snapshot()[0]
	assert.Equal(t, models.CommandAddItem, got.Type)
	assert.Equal(t, "tab-a", got.TabID)
	assert.Equal(t, int64(100), got.Timestamp)
	assert.Equal(t, "sku1", got.Command.Item.ID)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, aIn.snapshot())
	assert.Empty(t, otherIn.snapshot())
}

func TestChannel_PreservesSenderOrder(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	a, err := bus.Open("c")
	require.NoError(t, err)
	b, err := bus.Open("c")
	require.NoError(t, err)

	var in inbox
	b.Subscribe(in.handle)

	for i := int64(1); i <= 50; i++ {
		require.NoError(t, a.Publish(ctx, mustMessage(t, models.SetQuantity("sku1", int(i)), i, "tab-a")))
	}

	require.Eventually(t, func() bool { return len(in.snapshot()) == 50 }, time.Second, 5*time.Millisecond)
	for i, m := range in.snapshot() {
		assert.Equal(t, int64(i+1), m.Timestamp)
	}
}

func TestChannel_DropsMalformedFrames(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	var logsMu sync.Mutex
	logger := slog.New(slog.NewTextHandler(&lockedWriter{w: &logs, mu: &logsMu}, nil))
	bus := NewBus(logger)
	defer bus.Close()

	a, err := bus.Open("c")
	require.NoError(t, err)
	b, err := bus.Open("c")
	require.NoError(t, err)

	var in inbox
	b.Subscribe(in.handle)

	require.NoError(t, a.PublishRaw(ctx, []byte(`{"type":"AddItem"}`)))
	require.NoError(t, a.PublishRaw(ctx, []byte(`not json`)))
	require.NoError(t, a.Publish(ctx, mustMessage(t, models.Clear(), 5, "tab-a")))

	require.Eventually(t, func() bool { return len(in.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.CommandClear, in.snapshot()[0].Type)

	logsMu.Lock()
	defer logsMu.Unlock()
	assert.Contains(t, logs.String(), "Dropping malformed frame")
}

func TestChannel_RecoversFromPanickingHandler(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	a, err := bus.Open("c")
	require.NoError(t, err)
	b, err := bus.Open("c")
	require.NoError(t, err)

	var in inbox
	first := true
	b.Subscribe(func(m models.SyncMessage) {
		if first {
			first = false
			panic("boom")
		}
		in.handle(m)
	})

	require.NoError(t, a.Publish(ctx, mustMessage(t, models.Clear(), 1, "tab-a")))
	require.NoError(t, a.Publish(ctx, mustMessage(t, models.Clear(), 2, "tab-a")))

	require.Eventually(t, func() bool { return len(in.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), in.snapshot()[0].Timestamp)
}

func TestChannel_Close(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(t)

	a, err := bus.Open("c")
	require.NoError(t, err)
	b, err := bus.Open("c")
	require.NoError(t, err)
	assert.Equal(t, 2, bus.Size("c"))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, bus.Size("c"))
	assert.ErrorIs(t, b.Publish(ctx, mustMessage(t, models.Clear(), 1, "tab-b")), transport.ErrClosed)

	assert.NoError(t, a.Publish(ctx, mustMessage(t, models.Clear(), 1, "tab-a")))

	bus.Close()
	_, err = bus.Open("c")
	assert.ErrorIs(t, err, transport.ErrUnavailable)
}

type lockedWriter struct {
	w  io.Writer
	mu *sync.Mutex
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
