// Package main provides the entry point for the session-gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/txn2/session-gateway/pkg/platform"
)

// Version is set at build time.
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	logLevel    string
	showVersion bool
}

func parseFlags(args []string) (serverOptions, error) {
	opts := serverOptions{}
	fs := flag.NewFlagSet("session-gateway", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.address, "address", "", "HTTP listen address (overrides config)")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	fs.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("parsing flags: %w", err)
	}
	return opts, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig reads the config file when given, otherwise uses defaults, and
// applies flag overrides.
func loadConfig(opts serverOptions) (*platform.Config, error) {
	cfg := platform.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = platform.LoadConfig(opts.configPath); err != nil {
			return nil, err
		}
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func run(args []string, stdout io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	if opts.showVersion {
		_, _ = fmt.Fprintf(stdout, "session-gateway version %s\n", Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := setupSignalHandler()
	defer stop()

	return serve(ctx, cfg)
}

// serve runs the gateway until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, cfg *platform.Config) error {
	p, err := platform.New(platform.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating platform: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting platform: %w", err)
	}
	slog.Info("session-gateway started", "version", Version, "address", p.Addr().String())

	<-ctx.Done()
	slog.Info("session-gateway shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stopping platform: %w", err)
	}
	return nil
}
