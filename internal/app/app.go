// Package app assembles the trickplay service from configuration. Both the
// API server and the queue worker build their dependencies here so they
// share one permit, one catalog and one artifact layout per process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/cache"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/catalog"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/config"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/database"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/queue"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/scheduler"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/storage"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/tracing"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/trickplay"
)

const (
	// lockTTL bounds how long a replica suppresses duplicate on-demand
	// submissions for the same item.
	lockTTL = time.Minute

	// writerLockTTL is how long a crashed writer can hold its slot
	writerLockTTL = 30 * time.Second
)

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// App holds the wired service and the resources it owns
type App struct {
	Config  *config.Config
	Watcher *config.Watcher
	Logger  *logging.Logger
	Service *trickplay.Service
	Pool    *scheduler.Pool
	Batch   *trickplay.BatchTask

	// Optional, nil when disabled
	Queue   *queue.Queue
	Metrics *metrics.Server

	checks  map[string]HealthCheck
	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// New loads configPath and builds every component it enables
func New(ctx context.Context, configPath string) (*App, error) {
	watcher, cfg, err := config.NewWatcher(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &App{
		Config:  cfg,
		Watcher: watcher,
		Logger:  logger,
		checks:  make(map[string]HealthCheck),
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing.Enabled, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, tracerCloser)

	lib, err := a.buildCatalog(ctx)
	if err != nil {
		return err
	}

	var redisCache *cache.Cache
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, redisCache)
		a.checks["redis"] = redisCache.Ping
		lib = cache.NewCachedCatalog(lib, redisCache, cfg.Redis.ItemTTL, a.Logger)
		a.Logger.Info("Catalog item cache enabled")
	}

	layout := storage.NewLayout(cfg.Trickplay.MetadataDir)
	tp := cfg.Trickplay
	ffmpeg := transcoder.NewFFmpeg(tp.FFmpegPath)
	a.checks["ffmpeg"] = func(ctx context.Context) error {
		_, err := ffmpeg.Version(ctx)
		return err
	}

	permit := trickplay.NewPermit(tp.WriterPermits)
	opts := trickplay.Options{
		Catalog:        lib,
		Sampler:        ffmpeg,
		Artifacts:      storage.NewArtifactStore(layout),
		Manifests:      storage.NewManifestStore(layout),
		Config:         a.Watcher,
		Permit:         permit,
		ExtractTimeout: tp.ExtractTimeout,
		BatchPageSize:  tp.BatchPageSize,
	}

	if redisCache != nil {
		opts.WriterLock = cache.NewWriterLock(redisCache, tp.WriterPermits, writerLockTTL, a.Logger)
		a.Logger.Info("Shared writer lock enabled")
	}

	if cfg.Storage.Enabled {
		mirror, err := storage.NewMirror(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		opts.Mirror = mirror
		a.checks["storage"] = mirror.Ping
		a.Logger.WithField("bucket", cfg.Storage.BucketName).Info("Artifact mirror enabled")
	}

	a.Service = trickplay.NewService(opts, a.Logger)
	a.Batch = trickplay.NewBatchTask(a.Service)
	a.Logger.WithFields(map[string]interface{}{
		"ffmpeg":         ffmpeg.Path(),
		"metadata_dir":   tp.MetadataDir,
		"writer_permits": permit.Capacity(),
		"config":         tp.Generation().String(),
	}).Info("Trickplay service ready")

	a.Pool = scheduler.NewPool(a.Service, tp.OnDemandWorkers, tp.OnDemandQueueSize, a.Logger)
	var trigger trickplay.Trigger = a.Pool
	if redisCache != nil {
		trigger = cache.NewLockingTrigger(a.Pool, redisCache, lockTTL, a.Logger)
	}
	a.Service.SetTrigger(trigger)

	if cfg.Queue.Enabled {
		a.Queue, err = queue.New(cfg.Queue)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.Queue)
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.NewServer(cfg.Metrics.Port, a.ready, a.Logger)
	}

	a.Watcher.OnChange(func(tp config.TrickplayConfig, err error) {
		if err != nil {
			a.Logger.ErrorWithErr("Config reload rejected, keeping previous settings", err)
			return
		}
		a.Logger.WithFields(map[string]interface{}{
			"width":    tp.WidthResolution,
			"interval": tp.IntervalMs,
			"quality":  tp.Quality,
			"ondemand": tp.OnDemandGeneration,
		}).Info("Trickplay settings reloaded")
	})

	return nil
}

func (a *App) buildCatalog(ctx context.Context) (catalog.Catalog, error) {
	cfg := a.Config
	switch cfg.Catalog.Source {
	case "file":
		lib, err := catalog.LoadFile(cfg.Catalog.File)
		if err != nil {
			return nil, err
		}
		a.Logger.WithField("file", cfg.Catalog.File).Info("Using file catalog")
		return lib, nil
	default:
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(func() error {
			db.Close()
			return nil
		}))
		a.checks["database"] = db.Health
		return database.NewCatalogRepository(db, a.Logger), nil
	}
}

// Start launches the background components: config watching, the
// on-demand pool and the metrics endpoint.
func (a *App) Start() {
	a.Watcher.Start()
	a.Pool.Start()

	if a.Metrics != nil {
		go func() {
			if err := a.Metrics.Start(); err != nil {
				a.Logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
	}
}

// Health runs every dependency check and returns the failures by name
func (a *App) Health(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

func (a *App) ready(ctx context.Context) error {
	var errs []error
	for name, err := range a.Health(ctx) {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Shutdown stops accepting work, cancels running generation and releases
// every resource.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Batch != nil && a.Batch.Cancel() {
		if err := a.Batch.Wait(ctx); err != nil {
			a.Logger.WarnWithErr("Batch run did not stop before shutdown deadline", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.Metrics != nil {
		if err := a.Metrics.Shutdown(ctx); err != nil {
			a.Logger.WarnWithErr("Metrics server shutdown failed", err)
		}
	}
	return a.Close()
}

// Close releases the owned resources in reverse order of creation
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
