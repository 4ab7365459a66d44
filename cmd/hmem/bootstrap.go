package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/goclaw/hmem/config"
	"github.com/goclaw/hmem/pkg/logger"
	"github.com/goclaw/hmem/pkg/memory"
	"github.com/goclaw/hmem/pkg/metrics"
	"github.com/goclaw/hmem/pkg/storage"
	"github.com/goclaw/hmem/pkg/storage/badger"
	"github.com/goclaw/hmem/pkg/storage/inmem"
	redisstore "github.com/goclaw/hmem/pkg/storage/redis"
	"github.com/goclaw/hmem/pkg/telemetry/tracing"
	"github.com/goclaw/hmem/pkg/vectorindex"
	"github.com/goclaw/hmem/pkg/version"
)

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.Manager
	store   storage.Persister
	index   vectorindex.Index
	engine  *memory.Engine

	shutdownTracing tracing.ShutdownFunc
}

// bootstrap loads configuration and wires the engine. adjust may tweak the
// loaded configuration before anything is opened.
func bootstrap(ctx context.Context, opts *rootOptions, adjust func(*config.Config)) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.overrides())
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if adjust != nil {
		adjust(cfg)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Debug("configuration loaded", "config", cfg.String())

	a := &app{cfg: cfg, log: log}

	a.shutdownTracing, err = tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Version:     version.Version,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a.metrics = metrics.NewManager(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
		Port:      cfg.Metrics.Port,
		Path:      cfg.Metrics.Path,
	})

	a.store, err = openStore(ctx, cfg.Storage)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	log.Info("storage initialized", "type", cfg.Storage.Type)

	a.index, err = vectorindex.Open(cfg.Vector)
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	if a.index != nil {
		log.Info("vector mirror initialized", "type", cfg.Vector.Type, "collection", cfg.Vector.Collection)
	}

	engineOpts := []memory.Option{
		memory.WithLogger(log.With("component", "memory")),
		memory.WithPersister(a.store),
		memory.WithMetrics(a.metrics),
		memory.WithMirrorConfig(cfg.Vector.Mirror),
	}
	if a.index != nil {
		engineOpts = append(engineOpts, memory.WithVectorIndex(a.index))
	}
	a.engine = memory.New(&cfg.Memory, engineOpts...)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Persister, error) {
	switch cfg.Type {
	case "", "memory":
		return inmem.New(), nil
	case "badger":
		store, err := badger.NewBadgerStorage(&badger.Config{
			Path:              cfg.Badger.Path,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger storage: %w", err)
		}
		return store, nil
	case "redis":
		store, err := redisstore.NewFromConfig(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open redis storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// close stops the engine and releases every backend in reverse order.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		if err := a.engine.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop engine: %w", err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close vector index: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		a.log.Error("shutdown incomplete", "error", err)
	}
	_ = a.log.Close()
	return err
}

// oneShot disables the background loop and the metrics server for commands
// that exit after a single operation.
func oneShot(saveOnStop bool) func(*config.Config) {
	return func(cfg *config.Config) {
		cfg.Memory.ConsolidationInterval = 0
		cfg.Memory.SaveOnStop = saveOnStop
		cfg.Metrics.Enabled = false
	}
}
