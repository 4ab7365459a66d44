package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/goclaw/hmem/config"
	"github.com/goclaw/hmem/pkg/logger"
	"github.com/goclaw/hmem/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with scheduled consolidation and the metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, opts, nil)
	if err != nil {
		return err
	}
	log := a.log

	log.Info("starting hmem",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", a.cfg.App.Name,
		"environment", a.cfg.App.Environment,
	)

	var ready atomic.Bool
	if a.metrics.Enabled() {
		go func() {
			log.Info("starting metrics server", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
			err := a.metrics.StartServer(ctx, a.cfg.Metrics.Port, a.cfg.Metrics.Path, func(context.Context) error {
				if !ready.Load() {
					return errors.New("memory engine not started")
				}
				return nil
			})
			if err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	if err := a.engine.Load(ctx); err != nil {
		// a partial snapshot is still usable
		log.Warn("memory snapshot not fully loaded", "error", err)
	}
	if err := a.engine.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.close(shutdownCtx)
		return fmt.Errorf("start engine: %w", err)
	}
	ready.Store(true)

	if opts.configPath != "" {
		startConfigWatcher(ctx, a, opts)
	}

	log.Info("hmem is running",
		"storage", a.cfg.Storage.Type,
		"vector", a.cfg.Vector.Type,
		"consolidation_interval", a.cfg.Memory.ConsolidationInterval,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.close(shutdownCtx); err != nil {
		return err
	}
	log.Info("hmem stopped gracefully")
	return nil
}

// startConfigWatcher hot-reloads the log level and engine tuning.
func startConfigWatcher(ctx context.Context, a *app, opts *rootOptions) {
	watcher, err := config.NewWatcher(opts.configPath,
		config.WithOverrides(opts.overrides()),
		config.WithErrorHandler(func(err error) {
			a.log.Warn("configuration reload failed", "error", err)
		}),
	)
	if err != nil {
		a.log.Warn("configuration watcher disabled", "error", err)
		return
	}

	// the watcher runs callbacks one at a time
	current := config.ExtractHotReloadable(a.cfg)
	watcher.OnChange(func(cfg *config.Config) {
		next := config.ExtractHotReloadable(cfg)
		if !next.Changed(current) {
			return
		}
		current = next
		a.log.SetLevel(logger.ParseLevel(next.LogLevel))
		a.engine.Reconfigure(next)
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("configuration watcher stopped", "error", err)
		}
	}()
}
