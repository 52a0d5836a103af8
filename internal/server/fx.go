// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/api"
	"github.com/JakeFAU/linkcapture/internal/capture"
	"github.com/JakeFAU/linkcapture/internal/clock/system"
	"github.com/JakeFAU/linkcapture/internal/config"
	"github.com/JakeFAU/linkcapture/internal/extract"
	"github.com/JakeFAU/linkcapture/internal/extract/provider"
	"github.com/JakeFAU/linkcapture/internal/fetcher/bounded"
	headlessfetcher "github.com/JakeFAU/linkcapture/internal/fetcher/headless"
	"github.com/JakeFAU/linkcapture/internal/headless/detector"
	"github.com/JakeFAU/linkcapture/internal/id/uuid"
	"github.com/JakeFAU/linkcapture/internal/logging"
	"github.com/JakeFAU/linkcapture/internal/metrics"
	"github.com/JakeFAU/linkcapture/internal/objectstore"
	githubstore "github.com/JakeFAU/linkcapture/internal/objectstore/github"
	memorystore "github.com/JakeFAU/linkcapture/internal/objectstore/memory"
	"github.com/JakeFAU/linkcapture/internal/policy/ratelimit"
	"github.com/JakeFAU/linkcapture/internal/publish"
	memorypublisher "github.com/JakeFAU/linkcapture/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/linkcapture/internal/publisher/pubsub"
	"github.com/JakeFAU/linkcapture/internal/record"
	"github.com/JakeFAU/linkcapture/internal/service"
	archivestore "github.com/JakeFAU/linkcapture/internal/storage"
	gcsstorage "github.com/JakeFAU/linkcapture/internal/storage/gcs"
	localstorage "github.com/JakeFAU/linkcapture/internal/storage/local"
	memorystorage "github.com/JakeFAU/linkcapture/internal/storage/memory"
	pgstore "github.com/JakeFAU/linkcapture/internal/storage/postgres"
	"github.com/JakeFAU/linkcapture/internal/tagger"
	"github.com/JakeFAU/linkcapture/internal/telemetry"
	"github.com/JakeFAU/linkcapture/internal/urlsafety"
)

// App contains the application's dependencies.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	renderer       *headlessfetcher.Renderer
	pubsubClient   *pubsub.Client
	topic          *pubsub.Topic
	archive        *gcsstorage.BlobStore
	ledger         *pgstore.LedgerStore
	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		logging.Secret("api_key", cfg.Auth.APIKey),
		logging.Secret("store_token", cfg.Store.Token),
		logging.Secret("anthropic_key", cfg.Tags.APIKey),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler returns the HTTP handler of the application.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		a.logger.Error("http server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)
	if serveErr != nil {
		return fmt.Errorf("serve http: %w", serveErr)
	}
	return nil
}

// Close releases backends in reverse order of construction.
func (a *App) Close(ctx context.Context) {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.topic != nil {
		a.topic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	app.logger.Info("building application dependencies")
	clock := system.New()
	validate := urlsafety.Validate

	fetcher := bounded.New(bounded.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		MaxRedirects: cfg.Fetch.MaxRedirects,
		ResolveIPs:   cfg.Fetch.ResolveIPs,
		Validate:     validate,
		Pacer: ratelimit.NewPacer(ratelimit.PacerConfig{
			RPS:   cfg.Fetch.HostRPS,
			Burst: cfg.Fetch.HostBurst,
		}),
	}, logger)

	store, err := setupStore(ctx, app)
	if err != nil {
		return nil, app.fail(ctx, err)
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, app.fail(ctx, err)
	}
	if err = setupLedger(ctx, app); err != nil {
		return nil, app.fail(ctx, err)
	}
	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, app.fail(ctx, err)
	}
	renderer, err := setupHeadless(app, validate)
	if err != nil {
		return nil, app.fail(ctx, err)
	}
	suggester, err := setupTagger(app)
	if err != nil {
		return nil, app.fail(ctx, err)
	}

	var parser extract.Parser = extract.Lenient{}
	if cfg.Extract.Parser == "strict" {
		parser = extract.Strict{}
	}

	deps := service.Deps{
		Validate: validate,
		Fetcher:  fetcher,
		Extractor: extract.New(parser, extract.Config{
			MaxImages:        cfg.Extract.MaxImages,
			DescriptionLimit: cfg.Extract.DescriptionLimit,
			Validate:         urlsafety.Check,
		}),
		Embeds:   provider.NewClient(fetcher, cfg.FetchTimeout(), provider.WithValidator(validate)),
		Detector: detector.NewHeuristic(cfg.Headless.PromotionThresh),
		Assembler: record.NewAssembler(clock, record.Paths{
			ContentDir:        cfg.Store.ContentDir,
			ImageDir:          cfg.Store.ImageDir,
			ImagePublicPrefix: cfg.Store.ImagePublicPrefix,
		}, cfg.Store.SlugLength),
		Publisher: publish.New(store, publish.Config{
			Timeout:         cfg.CommitTimeout(),
			BlobParallelism: cfg.Store.BlobParallelism,
		}, logger),
		Archive:  archive,
		Notifier: notifier,
		IDs:      uuid.New(),
		Logger:   logger,
	}
	// Typed nils must not reach the interface fields.
	deps.Renderer = headlessfetcher.NewDisabled()
	if renderer != nil {
		deps.Renderer = renderer
	}
	if suggester != nil {
		deps.Tagger = suggester
	}
	if app.ledger != nil {
		deps.Ledger = app.ledger
		deps.Links = app.ledger
	}

	svc, err := service.New(service.Config{
		PageMaxBytes:     cfg.Fetch.MaxPageBytes,
		PageTimeout:      cfg.FetchTimeout(),
		ImageMaxBytes:    cfg.Fetch.MaxImageBytes,
		ImageTimeout:     cfg.ImageTimeout(),
		MaxImages:        cfg.Extract.MaxImages,
		DescriptionLimit: cfg.Extract.DescriptionLimit,
		ArchivePrefix:    cfg.Archive.Prefix,
		Shot: headlessfetcher.ShotOptions{
			Width:   cfg.Headless.ScreenshotWidth,
			Height:  cfg.Headless.ScreenshotHeight,
			Quality: cfg.Headless.ScreenshotQuality,
		},
	}, deps)
	if err != nil {
		return nil, app.fail(ctx, fmt.Errorf("service init failed: %w", err))
	}

	if cfg.Auth.APIKey == "" {
		app.logger.Warn("no api key configured, write routes will reject every caller")
	}
	app.apiServer = api.NewServer(
		svc,
		ratelimit.NewWindow(clock),
		api.NewKeyAuthorizer(cfg.Auth.APIKey, cfg.Auth.CookieName),
		cfg,
		logger.Named("api"),
	)

	return app, nil
}

// fail releases whatever was built before err and returns err.
func (a *App) fail(ctx context.Context, err error) error {
	a.Close(ctx)
	return err
}

func setupStore(ctx context.Context, app *App) (objectstore.Store, error) {
	switch app.cfg.Store.Backend {
	case "github":
		client, err := githubstore.New(ctx, githubstore.Config{
			BaseURL:    app.cfg.Store.APIBaseURL,
			Repository: app.cfg.Store.Repository,
			Token:      app.cfg.Store.Token,
			Timeout:    app.cfg.CommitTimeout(),
		}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("github store init failed: %w", err)
		}
		app.logger.Info("using github content store", zap.String("repository", app.cfg.Store.Repository))
		return client, nil
	default:
		app.logger.Warn("using in-memory content store, published links are lost on restart")
		return memorystore.New("main"), nil
	}
}

func setupArchive(ctx context.Context, app *App) (capture.ArchiveStore, error) {
	switch app.cfg.Archive.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.archive, err = gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Archive.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS snapshot archive", zap.String("bucket", app.cfg.Archive.Bucket))
		return app.archive, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local snapshot archive", zap.String("path", app.cfg.Archive.BaseDir))
		return blobs, nil
	case "memory":
		app.logger.Info("using in-memory snapshot archive")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("snapshot archive disabled")
		return archivestore.Disabled{}, nil
	}
}

func setupLedger(ctx context.Context, app *App) error {
	if app.cfg.Ledger.DSN == "" {
		app.logger.Warn("no DSN specified for ledger, skipping capture ledger initialization")
		return nil
	}
	var err error
	app.ledger, err = pgstore.NewLedgerStore(ctx, pgstore.LedgerStoreConfig{
		DSN:             app.cfg.Ledger.DSN,
		Table:           app.cfg.Ledger.Table,
		MaxConns:        app.cfg.Ledger.MaxConns,
		MinConns:        app.cfg.Ledger.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.Ledger.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("ledger store init failed: %w", err)
	}
	app.logger.Info("capture ledger initialized", zap.String("table", app.cfg.Ledger.Table))
	return nil
}

func setupNotifier(ctx context.Context, app *App) (capture.Notifier, error) {
	if app.cfg.Notify.Topic == "" || app.cfg.Notify.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.Notify.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.topic = app.pubsubClient.Topic(app.cfg.Notify.Topic)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.Notify.ProjectID),
		zap.String("topic", app.cfg.Notify.Topic),
	)
	return gcppublisher.New(app.topic), nil
}

func setupHeadless(app *App, validate urlsafety.Func) (*headlessfetcher.Renderer, error) {
	if !app.cfg.Headless.Enabled {
		app.logger.Info("headless rendering disabled")
		return nil, nil
	}
	var err error
	app.renderer, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       app.cfg.Headless.MaxParallel,
		UserAgent:         app.cfg.Fetch.UserAgent,
		NavigationTimeout: app.cfg.NavTimeout(),
		Validate:          validate,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("headless renderer init failed: %w", err)
	}
	app.logger.Info("using headless renderer", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	return app.renderer, nil
}

func setupTagger(app *App) (*tagger.Tagger, error) {
	if app.cfg.Tags.APIKey == "" {
		app.logger.Info("tag suggestions disabled")
		return nil, nil
	}
	t, err := tagger.New(tagger.Config{
		APIKey:     app.cfg.Tags.APIKey,
		BaseURL:    app.cfg.Tags.BaseURL,
		Model:      app.cfg.Tags.Model,
		MaxTokens:  app.cfg.Tags.MaxTokens,
		Vocabulary: app.cfg.Tags.Vocabulary,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("tagger init failed: %w", err)
	}
	app.logger.Info("tag suggestions enabled", zap.String("model", app.cfg.Tags.Model))
	return t, nil
}
