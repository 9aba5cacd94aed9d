// Package redisbus implements the broadcast transport over Redis pub/sub,
// letting contexts in different processes or hosts share a channel.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/models"
)

const defaultDialTimeout = 5 * time.Second

// Options описывают подключение к Redis
type Options struct {
	Addr        string
	Password    string
	Channel     string
	DB          int
	DialTimeout time.Duration
}

// Transport is a Redis pub/sub channel.
// Redis echoes frames back to the publisher; self-origin filtering is up to the caller.
type Transport struct {
	rdb      *goredis.Client
	sub      *goredis.PubSub
	logger   *slog.Logger
	cancel   context.CancelFunc
	handlers transport.Handlers
	channel  string
	wg       sync.WaitGroup
	closed   atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

// New connects, verifies the server with a ping and starts the forwarder
func New(ctx context.Context, opts Options, logger *slog.Logger) (*Transport, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("%w: missing redis address", transport.ErrUnavailable)
	}
	if opts.Channel == "" {
		opts.Channel = transport.DefaultChannel
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		MaxRetries:  1,
	})

	pingCtx, cancelPing := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", transport.ErrUnavailable, err)
	}

	sub := rdb.Subscribe(ctx, opts.Channel)
	// подписка должна быть подтверждена до возврата
	if _, err := sub.Receive(pingCtx); err != nil {
		_ = sub.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis subscribe: %v", transport.ErrUnavailable, err)
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		rdb:     rdb,
		sub:     sub,
		logger:  logger.With("transport", "redis", "channel", opts.Channel),
		cancel:  cancel,
		channel: opts.Channel,
	}

	t.wg.Add(1)
	go t.forward(fwdCtx)

	return t, nil
}

// Name returns the transport name
func (t *Transport) Name() string {
	return "redis"
}

// Publish sends msg to the channel
func (t *Transport) Publish(ctx context.Context, msg models.SyncMessage) error {
	if t.closed.Load() {
		return transport.ErrClosed
	}

	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := t.rdb.Publish(ctx, t.channel, frame).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe registers h for inbound messages
func (t *Transport) Subscribe(h transport.Handler) func() {
	return t.handlers.Add(h)
}

// Close stops the forwarder and closes the connection
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	t.cancel()
	_ = t.sub.Close()
	t.wg.Wait()

	if err := t.rdb.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

func (t *Transport) forward(ctx context.Context) {
	defer t.wg.Done()

	ch := t.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			t.deliver([]byte(m.Payload))
		}
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
		t.logger.Warn("Bad redis payload", "error", err)
		return
	}
	t.handlers.Dispatch(msg)
}
