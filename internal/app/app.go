// Package app provides the top-level application lifecycle management for the
// swap engine. It wires together all dependencies (journal, caches, blob
// archive, quote gateway, executor and notifications) and starts the
// appropriate goroutines based on the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/swapbot/internal/config"
	"github.com/alanyoungcy/swapbot/internal/trace"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, version string) *App {
	return &App{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "app")),
		version: version,
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	if mode == "monitor" {
		// Monitor mode never signs anything and scans from the start.
		a.cfg.Executor.DryRun = true
		a.cfg.Engine.Autostart = true
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("version", a.version),
		slog.Bool("dry_run", !a.cfg.LiveTrading()),
		slog.Int("candidates", len(a.cfg.Candidates)),
	)

	if err := trace.Init(a.cfg.Telemetry.ServiceName, a.version, a.cfg.Telemetry.TracingEnabled); err != nil {
		return fmt.Errorf("app: init tracing: %w", err)
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = trace.Shutdown(ctx)
	})

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "trade", "monitor":
		return a.EngineMode(ctx, deps)
	case "scan":
		return a.ScanMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
