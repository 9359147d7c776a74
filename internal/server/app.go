// Package server builds the application from configuration and runs the
// HTTP server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrapeflow/internal/api"
	"github.com/JakeFAU/scrapeflow/internal/clock/system"
	"github.com/JakeFAU/scrapeflow/internal/config"
	"github.com/JakeFAU/scrapeflow/internal/export"
	"github.com/JakeFAU/scrapeflow/internal/id/uuid"
	"github.com/JakeFAU/scrapeflow/internal/identity"
	"github.com/JakeFAU/scrapeflow/internal/logging"
	"github.com/JakeFAU/scrapeflow/internal/metrics"
	"github.com/JakeFAU/scrapeflow/internal/orchestrator"
	"github.com/JakeFAU/scrapeflow/internal/progress"
	progresssinks "github.com/JakeFAU/scrapeflow/internal/progress/sinks"
	collyprovider "github.com/JakeFAU/scrapeflow/internal/provider/colly"
	"github.com/JakeFAU/scrapeflow/internal/provider/firecrawl"
	memorypublisher "github.com/JakeFAU/scrapeflow/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/scrapeflow/internal/publisher/pubsub"
	"github.com/JakeFAU/scrapeflow/internal/status"
	gcsstorage "github.com/JakeFAU/scrapeflow/internal/storage/gcs"
	localstorage "github.com/JakeFAU/scrapeflow/internal/storage/local"
	memorystorage "github.com/JakeFAU/scrapeflow/internal/storage/memory"
	pgstore "github.com/JakeFAU/scrapeflow/internal/storage/postgres"
	"github.com/JakeFAU/scrapeflow/internal/task"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	store           task.Store
	pgStore         *pgstore.Store
	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if err := cfg.ValidateServer(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Kind),
		zap.String("provider", cfg.Provider.Kind),
		zap.String("archive", cfg.Archive.Kind),
		zap.String("pubsub", cfg.PubSub.Kind),
	)
	metrics.Init()
	clock := system.New()

	keyStore, err := setupStore(ctx, app, clock)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	provider, err := setupProvider(app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	blobs, err := setupArchive(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	notifier, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	emitter, err := setupProgress(app, reg)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	verifier, keys, err := setupAuth(app, keyStore, clock)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	opts := []orchestrator.Option{orchestrator.WithEmitter(emitter)}
	if notifier != nil {
		opts = append(opts, orchestrator.WithNotifier(notifier))
	}
	if blobs != nil {
		opts = append(opts, orchestrator.WithArchiver(export.NewArchiver(blobs, clock, logger)))
	}
	svc := orchestrator.New(
		app.store,
		app.store,
		provider,
		uuid.New(),
		clock,
		orchestrator.Config{
			Options: task.CrawlOptions{
				Limit:           cfg.Provider.Limit,
				Formats:         cfg.Provider.Formats,
				WaitForSelector: cfg.Provider.WaitForSelector,
				Timeout:         cfg.Provider.Timeout,
			},
			ItemWorkers:  cfg.Provider.ItemWorkers,
			StoreTimeout: cfg.Store.EffectiveWriteTimeout(),
			ProviderKind: cfg.Provider.Kind,
		},
		logger,
		opts...,
	)
	reader := status.NewReader(app.store, app.store, logger)

	app.apiServer = api.NewServer(svc, reader, verifier, keys, app.store, clock, cfg.Server, logger)
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until ctx is canceled or a signal
// arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every client the App opened.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func setupStore(ctx context.Context, app *App, clock task.Clock) (task.KeyStore, error) {
	if app.cfg.Store.Kind != "postgres" {
		app.logger.Info("using in-memory task store")
		app.store = memorystorage.NewTaskStore()
		return nil, nil
	}
	pg, err := pgstore.NewStore(ctx, pgstore.Config{
		DSN:             app.cfg.Store.DSN,
		TasksTable:      app.cfg.Store.TasksTable,
		ItemsTable:      app.cfg.Store.ItemsTable,
		KeysTable:       app.cfg.Store.KeysTable,
		MaxConns:        app.cfg.Store.MaxConns,
		MinConns:        app.cfg.Store.MinConns,
		MaxConnLifetime: app.cfg.Store.MaxConnLifetime,
	}, clock)
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	app.pgStore = pg
	app.store = pg
	if app.cfg.Store.AutoMigrate {
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		app.logger.Info("postgres schema ensured")
	}
	app.logger.Info("postgres store initialized", zap.String("tasks_table", app.cfg.Store.TasksTable))
	return pg, nil
}

func setupProvider(app *App) (task.Provider, error) {
	pc := app.cfg.Provider
	if pc.Kind == "colly" {
		app.logger.Info("using local colly crawl provider", zap.String("user_agent", pc.UserAgent))
		return collyprovider.New(collyprovider.Config{
			UserAgent:     pc.UserAgent,
			RespectRobots: pc.RespectRobots,
			MaxDepth:      pc.MaxDepth,
		}, app.logger), nil
	}
	client, err := firecrawl.New(firecrawl.Config{BaseURL: pc.BaseURL, APIKey: pc.APIKey}, nil, app.logger)
	if err != nil {
		return nil, fmt.Errorf("firecrawl client init failed: %w", err)
	}
	app.logger.Info("using firecrawl crawl provider", zap.String("base_url", pc.BaseURL))
	return client, nil
}

func setupArchive(ctx context.Context, app *App) (task.BlobStore, error) {
	ac := app.cfg.Archive
	switch ac.Kind {
	case "gcs":
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: ac.Bucket, Prefix: ac.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving exports to GCS", zap.String("bucket", ac.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving exports to local disk", zap.String("path", ac.BaseDir))
		return blobs, nil
	case "memory":
		app.logger.Info("archiving exports in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("export archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (task.Notifier, error) {
	pc := app.cfg.PubSub
	switch pc.Kind {
	case "gcp":
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, pc.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubPublisher = app.pubsubClient.Publisher(pc.TopicName)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", pc.ProjectID),
			zap.String("topic", pc.TopicName),
		)
		return gcppublisher.New(app.pubsubPublisher), nil
	case "memory":
		app.logger.Info("using in-memory notification publisher")
		return memorypublisher.New(), nil
	default:
		app.logger.Info("task notifications disabled")
		return nil, nil
	}
}

func setupProgress(app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	pc := app.cfg.Progress
	if !pc.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.Discard, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if pc.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.BatchSize,
		MaxBatchWait:   pc.FlushInterval,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", pc.BufferSize),
		zap.Duration("flush_interval", pc.FlushInterval),
	)
	return app.progressHub, nil
}

// setupAuth returns the bearer verifier and, when api keys are enabled, the
// key verifier for the verification route.
func setupAuth(app *App, keyStore task.KeyStore, clock task.Clock) (task.Verifier, task.Verifier, error) {
	ac := app.cfg.Auth
	var chain identity.Chain
	var keys task.Verifier
	if len(ac.Tokens) > 0 {
		chain = append(chain, identity.NewStatic(ac.Tokens))
	}
	if ac.APIKeys {
		if keyStore == nil {
			return nil, nil, errors.New("api key auth requires the postgres store")
		}
		kv := identity.NewKeys(keyStore, clock, app.logger)
		chain = append(chain, kv)
		keys = kv
	}
	if ac.Remote.BaseURL != "" {
		remote, err := identity.NewRemote(identity.RemoteConfig{
			BaseURL: ac.Remote.BaseURL,
			APIKey:  ac.Remote.APIKey,
			Timeout: ac.Remote.Timeout,
		}, nil, app.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("remote auth init failed: %w", err)
		}
		chain = append(chain, remote)
	}
	app.logger.Info("auth configured", zap.Int("verifiers", len(chain)), zap.Bool("api_keys", keys != nil))
	return chain, keys, nil
}
