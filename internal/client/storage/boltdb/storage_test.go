package boltdb

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/cartsync/internal/client/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	store, err := New(context.Background(), dbPath, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestNew_Success(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "testdb.db")

	ctx := context.Background()
	store, err := New(ctx, dbPath, testLogger())
	require.NoError(t, err)
	require.NotNil(t, store)
	defer func() {
		require.NoError(t, store.Close())
	}()

	// Проверяем что файл БД действительно создан
	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	// Проверяем, что бакет существует
	err = store.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketKV) == nil {
			return os.ErrNotExist
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	ctx := context.Background()
	// На некоторых системах путь с нулевым символом даст ошибку
	invalidPath := string([]byte{0})
	store, err := New(ctx, invalidPath, testLogger())
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	store, err := New(context.Background(), dbPath, testLogger())
	require.NoError(t, err)
	h := store.Handle()

	err = store.Close()
	assert.NoError(t, err)

	// После закрытия поле db должно стать nil
	assert.Nil(t, store.db)

	// Второй вызов Close не должен падать и должен просто ничего не делать
	err = store.Close()
	assert.NoError(t, err)

	_, err = h.Get(context.Background(), "k")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, h.Set(context.Background(), "k", []byte("v")), storage.ErrStorageClosed)
}

func TestInitBuckets_CreatesBuckets(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	// Открываем БД вручную без создания бакетов
	db, err := bbolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	store := &Storage{db: db}

	err = store.initBuckets()
	assert.NoError(t, err)

	// Повторная инициализация не должна падать
	err = store.initBuckets()
	assert.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketKV) == nil {
			return os.ErrNotExist
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestHandle_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	h := newTestStorage(t).Handle()

	_, err := h.Get(ctx, "cartsync:state")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, h.Set(ctx, "cartsync:state", []byte(`{"items":[]}`)))
	value, err := h.Get(ctx, "cartsync:state")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"items":[]}`), value)

	require.NoError(t, h.Set(ctx, "cartsync:state", []byte(`{"items":null}`)))
	value, err = h.Get(ctx, "cartsync:state")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"items":null}`), value)

	require.NoError(t, h.Delete(ctx, "cartsync:state"))
	require.NoError(t, h.Delete(ctx, "cartsync:state"))

	_, err = h.Get(ctx, "cartsync:state")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHandle_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	store, err := New(ctx, dbPath, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Handle().Set(ctx, "k", []byte("v")))
	require.NoError(t, store.Close())

	store, err = New(ctx, dbPath, testLogger())
	require.NoError(t, err)
	defer store.Close()

	value, err := store.Handle().Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestHandle_WatchNotifiesOtherHandles(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	writer, reader := store.Handle(), store.Handle()

	var (
		mu       sync.Mutex
		received []storage.Change
		own      int
	)
	reader.Watch("k", func(c storage.Change) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, c)
	})
	writer.Watch("k", func(storage.Change) {
		mu.Lock()
		defer mu.Unlock()
		own++
	})

	require.NoError(t, writer.Set(ctx, "k", []byte("v")))
	require.NoError(t, writer.Delete(ctx, "k"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("v"), received[0].Value)
	assert.True(t, received[1].Deleted)
	assert.Zero(t, own)
}

func TestHandle_Close(t *testing.T) {
	store := newTestStorage(t)
	h := store.Handle()

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err := h.Get(context.Background(), "k")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)

	// Остальные хендлы продолжают работать
	assert.NoError(t, store.Handle().Set(context.Background(), "k", []byte("v")))
}
