package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/iudanet/cartsync/internal/client/app"
	"github.com/iudanet/cartsync/internal/client/iocli"
	"github.com/iudanet/cartsync/internal/client/storage"
	"github.com/iudanet/cartsync/internal/client/storage/boltdb"
	"github.com/iudanet/cartsync/internal/client/storage/filestore"
	"github.com/iudanet/cartsync/internal/client/storage/sqlite"
	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/client/transport/redisbus"
	"github.com/iudanet/cartsync/internal/client/transport/wsrelay"
)

// Cli runs cart commands against one tab per invocation
type Cli struct {
	io   iocli.IO
	opts *RootOptions
}

// session is an open tab together with the storage it owns
type session struct {
	tab          *app.Tab
	closeStorage func() error
	settle       time.Duration
}

func (c *Cli) open(ctx context.Context, logger *slog.Logger) (*session, error) {
	if err := os.MkdirAll(c.opts.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	kv, closeStorage, err := c.openStorage(ctx, logger)
	if err != nil {
		return nil, err
	}

	tab, err := app.Open(ctx, app.Options{
		KV:      kv,
		Primary: c.primaryFactory(logger),
		Logger:  logger,
	})
	if err != nil {
		_ = kv.Close()
		_ = closeStorage()
		return nil, fmt.Errorf("failed to open cart: %w", err)
	}

	return &session{
		tab:          tab,
		closeStorage: closeStorage,
		settle:       c.opts.Settle,
	}, nil
}

// openStorage открывает выбранный бэкенд и возвращает handle вкладки
func (c *Cli) openStorage(ctx context.Context, logger *slog.Logger) (storage.KV, func() error, error) {
	noop := func() error { return nil }

	switch c.opts.Store {
	case "bolt":
		s, err := boltdb.New(ctx, filepath.Join(c.opts.DataDir, "cart.db"), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s.Handle(), s.Close, nil
	case "sqlite":
		s, err := sqlite.New(ctx, filepath.Join(c.opts.DataDir, "cart.sqlite"), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s.Handle(), s.Close, nil
	default:
		s, err := filestore.New(filepath.Join(c.opts.DataDir, "kv"), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return s, noop, nil
	}
}

// primaryFactory returns nil when only the storage relay should be used
func (c *Cli) primaryFactory(logger *slog.Logger) app.PrimaryFactory {
	mode := c.opts.Transport
	if mode == "auto" {
		switch {
		case c.opts.RedisAddr != "":
			mode = "redis"
		case c.opts.RelayURL != "":
			mode = "ws"
		default:
			mode = "none"
		}
	}

	switch mode {
	case "redis":
		return func(ctx context.Context) (transport.Transport, error) {
			return redisbus.New(ctx, redisbus.Options{
				Addr:    c.opts.RedisAddr,
				Channel: c.opts.Channel,
			}, logger)
		}
	case "ws":
		return func(ctx context.Context) (transport.Transport, error) {
			return wsrelay.Dial(ctx, c.opts.RelayURL, c.opts.Channel, logger)
		}
	default:
		return nil
	}
}

// close flushes pending messages, keeps the relay frame for the settle time
// so that other processes can read it, then releases everything
func (s *session) close(ctx context.Context) error {
	s.tab.Flush()

	if s.settle > 0 && s.tab.Stats().Published > 0 {
		timer := time.NewTimer(s.settle)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	err := s.tab.Close()
	if cerr := s.closeStorage(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close storage: %w", cerr))
	}
	return err
}
