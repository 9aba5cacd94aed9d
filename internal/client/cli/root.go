package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/iudanet/cartsync/internal/client/iocli"
	"github.com/iudanet/cartsync/internal/client/transport"
	"github.com/iudanet/cartsync/internal/validation"
)

// Environment variables consulted when the matching flag is not set
const (
	EnvDataDir   = "CARTSYNC_DATA_DIR"
	EnvRedisAddr = "CARTSYNC_REDIS_ADDR"
	EnvRelayURL  = "CARTSYNC_RELAY_URL"
)

// Storage backends
var ValidStores = []string{"file", "bolt", "sqlite"}

// Primary transport modes
var ValidTransports = []string{"auto", "redis", "ws", "none"}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir   string
	Store     string
	Transport string
	RedisAddr string
	RelayURL  string
	Channel   string
	Settle    time.Duration
	Verbose   bool
}

// NewRootCommand creates the root command of the cartsync CLI
func NewRootCommand(rw iocli.IO, version string) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "cartsync",
		Short:   "cartsync - shared shopping cart for every terminal",
		Long:    "Every cartsync process is a context of one cart. Changes made in one are applied in all others through a broadcast transport or the shared storage relay.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd.Flags())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(rw)

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.DataDir, "data-dir", defaultDataDir(), "directory with the shared cart storage (env "+EnvDataDir+")")
	flags.StringVar(&opts.Store, "store", "file", "storage backend (file|bolt|sqlite)")
	flags.StringVar(&opts.Transport, "transport", "auto", "primary broadcast transport (auto|redis|ws|none)")
	flags.StringVar(&opts.RedisAddr, "redis-addr", "", "redis address for the redis transport (env "+EnvRedisAddr+")")
	flags.StringVar(&opts.RelayURL, "relay-url", "", "relay server URL for the ws transport (env "+EnvRelayURL+")")
	flags.StringVar(&opts.Channel, "channel", transport.DefaultChannel, "broadcast channel name")
	flags.DurationVar(&opts.Settle, "settle", time.Second, "time to keep the storage relay frame before exit")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	c := &Cli{io: rw, opts: opts}
	cmd.AddCommand(c.newAddCommand())
	cmd.AddCommand(c.newRemoveCommand())
	cmd.AddCommand(c.newSetCommand())
	cmd.AddCommand(c.newClearCommand())
	cmd.AddCommand(c.newShowCommand())
	cmd.AddCommand(c.newWatchCommand())

	return cmd
}

// resolve применяет переменные окружения к незаданным флагам и проверяет значения
func (o *RootOptions) resolve(flags *pflag.FlagSet) error {
	fromEnv(flags, "data-dir", EnvDataDir, &o.DataDir)
	fromEnv(flags, "redis-addr", EnvRedisAddr, &o.RedisAddr)
	fromEnv(flags, "relay-url", EnvRelayURL, &o.RelayURL)

	if !contains(ValidStores, o.Store) {
		return fmt.Errorf("invalid store %q: must be one of %v", o.Store, ValidStores)
	}
	if !contains(ValidTransports, o.Transport) {
		return fmt.Errorf("invalid transport %q: must be one of %v", o.Transport, ValidTransports)
	}
	if o.Transport == "redis" && o.RedisAddr == "" {
		return fmt.Errorf("transport redis requires --redis-addr or %s", EnvRedisAddr)
	}
	if o.Transport == "ws" && o.RelayURL == "" {
		return fmt.Errorf("transport ws requires --relay-url or %s", EnvRelayURL)
	}
	if err := validation.ValidateChannelName(o.Channel); err != nil {
		return fmt.Errorf("invalid channel: %w", err)
	}
	if o.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if o.Settle < 0 {
		return fmt.Errorf("settle must not be negative")
	}
	return nil
}

// logger returns the logger selected by --verbose
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// fromEnv fills target from env when the flag was not given explicitly
func fromEnv(flags *pflag.FlagSet, name, env string, target *string) {
	if flags.Changed(name) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*target = v
	}
}

func defaultDataDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".cartsync"
	}
	return filepath.Join(dir, "cartsync")
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
