package identity

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Provider assigns a context its tab id.
// The id is generated on first use and kept for the lifetime of the Provider.
// It is never persisted.
type Provider struct {
	now     func() time.Time
	entropy io.Reader
	logger  *slog.Logger
	id      string
	once    sync.Once
}

// Option настраивает Provider
type Option func(*Provider)

// WithClock задает источник времени для префикса идентификатора.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithEntropy задает источник случайности для суффикса идентификатора.
func WithEntropy(r io.Reader) Option {
	return func(p *Provider) {
		p.entropy = r
	}
}

// NewProvider creates a tab identity provider.
func NewProvider(logger *slog.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		now:     time.Now,
		entropy: rand.Reader,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreateTabID returns the tab id, generating it on the first call.
// It never fails: without entropy the id degrades to a timestamp-only value.
func (p *Provider) GetOrCreateTabID() string {
	p.once.Do(func() {
		p.id = p.generate()
	})
	return p.id
}

func (p *Provider) generate() string {
	ts := p.now()

	u, err := uuid.NewRandomFromReader(p.entropy)
	if err != nil {
		// Без источника случайности уникальность держится только на времени
		p.logger.Warn("Entropy unavailable, using timestamp-only tab id", "error", err)
		return fmt.Sprintf("tab-%d", ts.UnixNano())
	}

	suffix := strings.ReplaceAll(u.String(), "-", "")[:12]
	return fmt.Sprintf("tab-%d-%s", ts.UnixMilli(), suffix)
}
