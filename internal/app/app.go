// Package app initializes and holds the long-lived services of a run, acting as a dependency
// injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/hk-epaper-ingest/internal/checkpoint"
	"github.com/JakeFAU/hk-epaper-ingest/internal/clock/system"
	"github.com/JakeFAU/hk-epaper-ingest/internal/config"
	"github.com/JakeFAU/hk-epaper-ingest/internal/epaper"
	collyfetcher "github.com/JakeFAU/hk-epaper-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/hk-epaper-ingest/internal/hash/sha256"
	"github.com/JakeFAU/hk-epaper-ingest/internal/id/uuid"
	"github.com/JakeFAU/hk-epaper-ingest/internal/locator"
	"github.com/JakeFAU/hk-epaper-ingest/internal/missing"
	"github.com/JakeFAU/hk-epaper-ingest/internal/pipeline"
	"github.com/JakeFAU/hk-epaper-ingest/internal/progress"
	progresssinks "github.com/JakeFAU/hk-epaper-ingest/internal/progress/sinks"
	"github.com/JakeFAU/hk-epaper-ingest/internal/render"
	"github.com/JakeFAU/hk-epaper-ingest/internal/sink"
	azurestorage "github.com/JakeFAU/hk-epaper-ingest/internal/storage/azure"
	gcsstorage "github.com/JakeFAU/hk-epaper-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/hk-epaper-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/hk-epaper-ingest/internal/storage/memory"
)

// App holds the shared services: logger, blob store and the collaborators of a run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	store     epaper.BlobStore
	sink      *sink.Sink
	gcsClient *storage.Client

	missingFile  *missing.FileLog
	ledger       *missing.PostgresLog
	hub          *progress.Hub
	pubsubClient *pubsub.Client
	registerer   prometheus.Registerer
}

// Option customises App construction.
type Option func(*App)

// WithBlobStore bypasses backend selection.
func WithBlobStore(store epaper.BlobStore) Option {
	return func(a *App) { a.store = store }
}

// WithRegisterer sets where progress collectors are registered (default: the global registry).
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// New builds the blob store and sink. Run-only collaborators are built by Runner.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(a)
	}

	clk, err := system.NewInZone(cfg.Run.TimeZone)
	if err != nil {
		return nil, err
	}
	a.clock = clk

	if a.store == nil {
		if err := a.openStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.sink, err = sink.New(a.store, cfg.Storage.Prefix, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init sink: %w", err)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	sc := a.cfg.Storage
	switch sc.Backend {
	case "gcs":
		bucket := sc.GCS.Bucket
		if bucket == "" {
			bucket = sc.Container
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: bucket, ProjectID: sc.GCS.ProjectID})
		if err != nil {
			return fmt.Errorf("init gcs store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure gcs bucket: %w", err)
		}
		a.logger.Info("using gcs blob store", zap.String("bucket", bucket))
		a.store = store
	case "azure":
		store, err := azurestorage.New(azurestorage.Config{
			ConnectionString: sc.Azure.ConnectionString,
			Container:        sc.Container,
		}, nil)
		if err != nil {
			return fmt.Errorf("init azure store: %w", err)
		}
		if err := store.EnsureContainer(ctx); err != nil {
			return fmt.Errorf("ensure azure container: %w", err)
		}
		a.logger.Info("using azure blob store", zap.String("container", sc.Container))
		a.store = store
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: sc.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("init local store: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("base_dir", sc.Local.BaseDir))
		a.store = store
	case "memory":
		a.logger.Warn("using in-memory blob store; pages are discarded on exit")
		a.store = memorystorage.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage backend: %s", sc.Backend)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Sink returns the blob sink.
func (a *App) Sink() *sink.Sink { return a.sink }

// Clock returns the publisher-zone clock.
func (a *App) Clock() epaper.Clock { return a.clock }

// Ready reports whether the blob store answers.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.store.Exists(ctx, ".readyz"); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	return nil
}

// Runner builds the full pipeline for the configured run.
func (a *App) Runner(ctx context.Context) (*pipeline.Runner, error) {
	rc, err := a.cfg.RunConfig(a.clock.Now())
	if err != nil {
		return nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.cfg.HTTP.UserAgent,
		Timeout:      a.cfg.HTTP.Timeout,
		MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
	})
	loc, err := locator.New(rc.Publisher, fetcher, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init locator: %w", err)
	}

	var cp epaper.Checkpointer
	if rc.ResumeMode != epaper.ResumeNone || !rc.DryRun {
		file, err := checkpoint.New(rc.CheckpointPath)
		if err != nil {
			return nil, fmt.Errorf("init checkpoint: %w", err)
		}
		cp = file
	}

	missingLog, err := a.openMissingLogs(ctx, rc.DryRun)
	if err != nil {
		return nil, err
	}

	hub, err := a.openProgress(ctx)
	if err != nil {
		return nil, err
	}

	runID, err := uuid.New().NewRawID()
	if err != nil {
		return nil, err
	}

	runner, err := pipeline.New(rc, pipeline.Deps{
		Locator:    loc,
		Fetcher:    fetcher,
		Renderer:   render.New(render.Config{Zoom: a.cfg.Render.Zoom, Quality: a.cfg.Render.JPEGQuality}, a.logger),
		Sink:       a.sink,
		Checkpoint: cp,
		Missing:    missingLog,
		Progress:   hub,
		Clock:      a.clock,
		Pauser:     pipeline.TimerPauser{},
		Hasher:     sha256.New(),
		RunID:      runID,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	return runner, nil
}

func (a *App) openMissingLogs(ctx context.Context, dryRun bool) (epaper.MissingLog, error) {
	if dryRun {
		return missing.Discard{}, nil
	}
	var logs missing.Multi
	if path := a.cfg.Run.MissingLogPath; path != "" {
		file, err := missing.NewFileLog(path, a.cfg.Run.TruncateMissingLog)
		if err != nil {
			return nil, fmt.Errorf("open missing-page log: %w", err)
		}
		a.missingFile = file
		logs = append(logs, file)
	}
	if dsn := a.cfg.Ledger.DSN; dsn != "" {
		ledger, err := missing.NewPostgresLog(ctx, missing.PostgresConfig{
			DSN:             dsn,
			Table:           a.cfg.Ledger.Table,
			MaxConns:        a.cfg.Ledger.MaxConns,
			MaxConnLifetime: a.cfg.Ledger.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open missing-page ledger: %w", err)
		}
		a.ledger = ledger
		logs = append(logs, ledger)
	}
	if len(logs) == 0 {
		return missing.Discard{}, nil
	}
	return logs, nil
}

func (a *App) openProgress(ctx context.Context) (*progress.Hub, error) {
	sinks := []progress.Sink{progresssinks.NewLogSink(a.logger)}

	promSink, err := progresssinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	sinks = append(sinks, promSink)

	if a.cfg.PubSub.ProjectID != "" && a.cfg.PubSub.Topic != "" {
		client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.logger.Info("publishing progress to pubsub", zap.String("topic", a.cfg.PubSub.Topic))
		sinks = append(sinks, progresssinks.NewPubSubSink(client.Topic(a.cfg.PubSub.Topic)))
	}

	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, sinks...)
	return a.hub, nil
}

// Close releases every service the App opened. It is safe to call more than once.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if a.hub != nil {
		errs = append(errs, a.hub.Close(ctx))
		a.hub = nil
	}
	if a.pubsubClient != nil {
		errs = append(errs, a.pubsubClient.Close())
		a.pubsubClient = nil
	}
	if a.missingFile != nil {
		errs = append(errs, a.missingFile.Close())
		a.missingFile = nil
	}
	if a.ledger != nil {
		a.ledger.Close()
		a.ledger = nil
	}
	if a.gcsClient != nil {
		errs = append(errs, a.gcsClient.Close())
		a.gcsClient = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
	_ = a.logger.Sync()
}
