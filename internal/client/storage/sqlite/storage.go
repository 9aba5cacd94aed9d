package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/iudanet/cartsync/internal/client/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage represents SQLite key-value storage shared by the handles of one process
type Storage struct {
	db       *sql.DB
	notifier *storage.Notifier
	logger   *slog.Logger
	closed   atomic.Bool
}

// New creates a new SQLite storage instance
// dbPath is the path to the SQLite database file
// Use ":memory:" for in-memory database (useful for testing)
func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Storage, error) {
	// Открываем соединение с БД
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Один писатель; для ":memory:" это ещё и единственная копия базы
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Storage{
		db:       db,
		notifier: storage.NewNotifier(logger),
		logger:   logger,
	}

	// Запускаем миграции
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("SQLite storage opened", "path", dbPath)
	return s, nil
}

// Handle opens a new handle; changes made through it are reported to watchers of other handles
func (s *Storage) Handle() *Handle {
	return &Handle{
		storage: s,
		owner:   s.notifier.NewOwner(),
	}
}

// Close closes the database connection
func (s *Storage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.notifier.Close()
	return s.db.Close()
}

// runMigrations выполняет миграции из embedded FS
func (s *Storage) runMigrations() error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}

	return nil
}

// DB returns the underlying database connection for testing purposes
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Handle is a storage.KV view of Storage for one context
type Handle struct {
	storage *Storage
	owner   uint64
	closed  atomic.Bool
}

var _ storage.KV = (*Handle)(nil)

func (h *Handle) usable() error {
	if h.closed.Load() || h.storage.closed.Load() {
		return storage.ErrStorageClosed
	}
	return nil
}

// Get returns the value stored under key
func (h *Handle) Get(ctx context.Context, key string) ([]byte, error) {
	if err := h.usable(); err != nil {
		return nil, err
	}

	query := `SELECT value FROM kv WHERE key = ?`

	var value []byte
	err := h.storage.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Set stores value under key
func (h *Handle) Set(ctx context.Context, key string, value []byte) error {
	if err := h.usable(); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	query := `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	if _, err := h.storage.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}

	h.storage.notifier.Notify(h.owner, storage.Change{Key: key, Value: value})
	return nil
}

// Delete removes key
func (h *Handle) Delete(ctx context.Context, key string) error {
	if err := h.usable(); err != nil {
		return err
	}

	query := `DELETE FROM kv WHERE key = ?`

	result, err := h.storage.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		h.storage.notifier.Notify(h.owner, storage.Change{Key: key, Deleted: true})
	}
	return nil
}

// Watch registers fn for changes made through other handles of the same Storage
func (h *Handle) Watch(key string, fn func(storage.Change)) func() {
	return h.storage.notifier.Watch(h.owner, key, fn)
}

// Close releases the handle; the database stays open
func (h *Handle) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	h.storage.notifier.CancelOwner(h.owner)
	return nil
}
