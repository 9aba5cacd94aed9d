package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iudanet/cartsync/internal/server"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	def := server.DefaultConfig()

	// Parse flags
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", envOr("CARTSYNC_RELAY_ADDR", def.Addr), "Listen address")
	origins := flag.String("origins", "", "Comma-separated allowed browser origin patterns")
	rateLimit := flag.Int("rate-limit", def.RateLimit, "Max new connections per client address per window")
	rateWindow := flag.Duration("rate-window", def.RateWindow, "Rate limit window")
	shutdownTimeout := flag.Duration("shutdown-timeout", def.ShutdownTimeout, "Graceful shutdown timeout")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := server.Config{
		Addr:            *addr,
		Version:         Version,
		OriginPatterns:  splitList(*origins),
		RateLimit:       *rateLimit,
		RateWindow:      *rateWindow,
		ShutdownTimeout: *shutdownTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := server.New(cfg, logger).Run(ctx); err != nil {
		logger.Error("Relay server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Relay server stopped", "uptime", time.Since(start).Round(time.Second))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printVersion() {
	fmt.Printf("cartsync relay\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
