// Package server assembles the service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/opensyndicate/syndicate/internal/api"
	"github.com/opensyndicate/syndicate/internal/auth"
	"github.com/opensyndicate/syndicate/internal/blob"
	blobgcs "github.com/opensyndicate/syndicate/internal/blob/gcs"
	bloblocal "github.com/opensyndicate/syndicate/internal/blob/local"
	blobmemory "github.com/opensyndicate/syndicate/internal/blob/memory"
	"github.com/opensyndicate/syndicate/internal/broadcast"
	"github.com/opensyndicate/syndicate/internal/clock/system"
	"github.com/opensyndicate/syndicate/internal/config"
	"github.com/opensyndicate/syndicate/internal/docstore"
	docmemory "github.com/opensyndicate/syndicate/internal/docstore/memory"
	docpostgres "github.com/opensyndicate/syndicate/internal/docstore/postgres"
	docsqlite "github.com/opensyndicate/syndicate/internal/docstore/sqlite"
	"github.com/opensyndicate/syndicate/internal/events"
	"github.com/opensyndicate/syndicate/internal/events/sinks"
	"github.com/opensyndicate/syndicate/internal/files"
	"github.com/opensyndicate/syndicate/internal/hash/sha256"
	"github.com/opensyndicate/syndicate/internal/id/uuid"
	"github.com/opensyndicate/syndicate/internal/logging"
	"github.com/opensyndicate/syndicate/internal/metrics"
	"github.com/opensyndicate/syndicate/internal/platform"
	"github.com/opensyndicate/syndicate/internal/platform/bluesky"
	"github.com/opensyndicate/syndicate/internal/platform/mastodon"
	"github.com/opensyndicate/syndicate/internal/platform/rss"
	"github.com/opensyndicate/syndicate/internal/platform/twitter"
	"github.com/opensyndicate/syndicate/internal/preview"
	memorypublisher "github.com/opensyndicate/syndicate/internal/publisher/memory"
	gcppublisher "github.com/opensyndicate/syndicate/internal/publisher/pubsub"
	"github.com/opensyndicate/syndicate/internal/ratelimit"
)

// App contains the assembled service and the resources that need closing.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	hub             *events.Hub
	renderer        preview.Renderer
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gcsClient       *storage.Client
	docs            docstore.Store
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	// Define a struct for logging only non-sensitive config fields
	type SanitizedConfig struct {
		ServerPort       int    `json:"server_port"`
		DocstoreProvider string `json:"docstore_provider"`
		BlobProvider     string `json:"blob_provider"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:       cfg.Server.Port,
		DocstoreProvider: cfg.Docstore.Provider,
		BlobProvider:     cfg.Blob.Provider,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability()
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		if err := a.renderer.Close(ctx); err != nil {
			a.logger.Warn("headless renderer close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		if err := a.pubsubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.docs != nil {
		if err := a.docs.Close(); err != nil {
			a.logger.Warn("document store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability() {
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New("syndicate", cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.logger.Info("building application dependencies")

	if err = setupDocstore(ctx, app); err != nil {
		return nil, err
	}

	blobStore, err := setupBlob(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	emitter, err := setupEvents(ctx, app)
	if err != nil {
		return nil, err
	}

	cardBuilder, err := setupPreview(app)
	if err != nil {
		return nil, err
	}
	var cards bluesky.CardSource
	if cardBuilder != nil {
		cards = cardBuilder
	}

	fileSvc := setupFiles(app, blobStore)
	tokens := twitter.NewTokenStore(app.docs)

	posters, feed, err := setupPlatforms(app, fileSvc, cards, tokens)
	if err != nil {
		return nil, err
	}

	authMgr, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init failed: %w", err)
	}

	var limiter broadcast.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", cfg.RateLimit.DefaultBurst),
		)
	}

	broadcaster := broadcast.New(
		posters,
		limiter,
		emitter,
		publisher,
		uuid.New(),
		system.New(),
		broadcast.Config{
			MaxContentLength: cfg.Broadcast.MaxContentLength,
			CompletionTopic:  cfg.PubSub.TopicName,
		},
		logger.Named("broadcast"),
	)

	app.apiServer = api.NewServer(api.Deps{
		Broadcaster: broadcaster,
		Files:       fileSvc,
		Feed:        feed,
		Auth:        authMgr,
		OAuth:       twitter.NewOAuthConfig(cfg.Platforms.Twitter.OAuth2),
		Tokens:      tokens,
		Docs:        app.docs,
	}, cfg, logger.Named("api"))

	return app, nil
}

func setupDocstore(ctx context.Context, app *App) error {
	switch app.cfg.Docstore.Provider {
	case "postgres":
		app.logger.Info("using postgres document store")
		store, err := docpostgres.New(ctx, docpostgres.Config{
			DSN:             app.cfg.Docstore.Postgres.DSN,
			Table:           app.cfg.Docstore.Postgres.Table,
			MaxConns:        app.cfg.Docstore.Postgres.MaxConns,
			MinConns:        app.cfg.Docstore.Postgres.MinConns,
			MaxConnLifetime: app.cfg.Docstore.Postgres.MaxConnLifetime(),
		})
		if err != nil {
			return fmt.Errorf("postgres docstore init failed: %w", err)
		}
		app.docs = store
		app.logger.Debug("postgres document store", zap.String("table", app.cfg.Docstore.Postgres.Table))
	case "sqlite":
		app.logger.Info("using sqlite document store")
		store, err := docsqlite.Open(ctx, docsqlite.Config{
			Path:     app.cfg.Docstore.SQLite.Path,
			PoolSize: app.cfg.Docstore.SQLite.PoolSize,
		}, app.logger.Named("sqlite"))
		if err != nil {
			return fmt.Errorf("sqlite docstore init failed: %w", err)
		}
		app.docs = store
		app.logger.Debug("sqlite document store", zap.String("path", app.cfg.Docstore.SQLite.Path))
	default:
		app.logger.Info("using in-memory document store")
		app.docs = docmemory.New()
	}
	return nil
}

func setupBlob(ctx context.Context, app *App) (blob.Store, error) {
	switch app.cfg.Blob.Provider {
	case "gcs":
		app.logger.Info("using GCS blob store")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := blobgcs.New(client, blobgcs.Config{
			Bucket: app.cfg.Blob.GCS.Bucket,
			Prefix: app.cfg.Blob.GCS.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS blob store", zap.String("bucket", app.cfg.Blob.GCS.Bucket))
		return store, nil
	case "local":
		app.logger.Info("using local blob store")
		store, err := bloblocal.New(bloblocal.Config{BaseDir: app.cfg.Blob.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local blob store", zap.String("path", app.cfg.Blob.Local.BaseDir))
		return store, nil
	default:
		app.logger.Info("using in-memory blob store")
		return blobmemory.New(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (broadcast.Publisher, error) {
	switch app.cfg.PubSub.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		publisher, err := gcppublisher.New(ctx, client, app.cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.pubsubPublisher = publisher
		app.logger.Info(
			"completion publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
		return publisher, nil
	case "memory":
		app.logger.Info("using in-memory completion publisher")
		return memorypublisher.New(), nil
	default:
		app.logger.Info("completion publishing disabled")
		return nil, nil
	}
}

func setupEvents(ctx context.Context, app *App) (events.Emitter, error) {
	if !app.cfg.Events.Enabled {
		app.logger.Info("delivery events disabled")
		return nil, nil
	}
	var sinkList []events.Sink
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	app.logger.Debug("Added delivery metrics sink")
	if app.cfg.Events.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(app.logger.Named("events_log")))
		app.logger.Debug("Added delivery log sink")
	}

	hubCfg := events.Config{
		BufferSize:     app.cfg.Events.BufferSize,
		MaxBatchEvents: app.cfg.Events.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Events.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Events.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         app.logger.Named("events_hub"),
	}
	app.hub = events.NewHub(hubCfg, sinkList...)
	app.logger.Info("delivery event hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.hub, nil
}

func setupPreview(app *App) (*preview.Builder, error) {
	if !app.cfg.Preview.Enabled {
		app.logger.Info("link previews disabled")
		return nil, nil
	}
	fetchCfg := preview.Config{
		UserAgent:     app.cfg.Preview.UserAgent,
		Timeout:       app.cfg.Preview.Timeout(),
		MaxBodyBytes:  app.cfg.Preview.MaxBodyBytes,
		MaxImageBytes: app.cfg.Preview.MaxImageBytes,
		NavTimeout:    time.Duration(app.cfg.Preview.Headless.NavTimeoutSeconds) * time.Second,
	}
	fetcher, err := preview.NewCollyFetcher(fetchCfg, app.logger.Named("preview"))
	if err != nil {
		return nil, fmt.Errorf("preview fetcher init failed: %w", err)
	}
	app.logger.Info("using colly preview fetcher", zap.String("user_agent", app.cfg.Preview.UserAgent))

	var renderer preview.Renderer
	if app.cfg.Preview.Headless.Enabled {
		chromedpRenderer, err := preview.NewChromedpRenderer(fetchCfg, true, app.logger.Named("headless"))
		if err != nil {
			app.logger.Warn("headless renderer init failed", zap.Error(err))
		} else {
			renderer = chromedpRenderer
			app.renderer = chromedpRenderer
			app.logger.Info("using headless preview renderer",
				zap.Duration("nav_timeout", fetchCfg.NavTimeout))
		}
	}

	return preview.NewBuilder(
		fetcher,
		preview.NewDefaultDetector(),
		renderer,
		app.cfg.Preview.MaxImageBytes,
		app.logger.Named("preview"),
	), nil
}

func setupFiles(app *App, blobs blob.Store) *files.Service {
	var resizer files.Resizer
	if strings.TrimSpace(app.cfg.Files.Resize.Command) != "" {
		cliResizer, err := files.NewCLIResizer(
			app.cfg.Files.Resize.Command,
			app.cfg.Files.Resize.Timeout(),
			app.logger.Named("resize"),
		)
		if err != nil {
			app.logger.Warn("resizer init failed, serving originals", zap.Error(err))
		} else {
			resizer = cliResizer
			app.logger.Info("image resizer enabled", zap.String("command", app.cfg.Files.Resize.Command))
		}
	}
	return files.NewService(blobs, app.docs, resizer, sha256.New(), files.Config{
		MaxUploadBytes: app.cfg.Files.MaxUploadBytes(),
		MaxWidth:       app.cfg.Files.Resize.MaxWidth,
		MaxHeight:      app.cfg.Files.Resize.MaxHeight,
	}, app.logger.Named("files"))
}

//nolint:gocognit // Wiring is linear but covers four platforms, ignoring complexity check
func setupPlatforms(
	app *App,
	images broadcast.ImageSource,
	cards bluesky.CardSource,
	tokens *twitter.TokenStore,
) ([]broadcast.Poster, *rss.Client, error) {
	cfg := app.cfg.Platforms
	posters := make([]broadcast.Poster, 0, len(broadcast.AllTargets))

	if cfg.Mastodon.Enabled && len(cfg.Mastodon.Missing()) == 0 {
		client, err := mastodon.New(cfg.Mastodon, images, app.logger.Named("mastodon"))
		if err != nil {
			return nil, nil, fmt.Errorf("mastodon client init failed: %w", err)
		}
		posters = append(posters, client)
		app.logger.Info("mastodon client enabled", zap.String("server", cfg.Mastodon.Server))
	} else {
		posters = append(posters, platform.NewDisabled(broadcast.TargetMastodon,
			disabledReason(cfg.Mastodon.Enabled, cfg.Mastodon.Missing())))
		app.logger.Info("mastodon posting disabled")
	}

	if cfg.Bluesky.Enabled && len(cfg.Bluesky.Missing()) == 0 {
		client, err := bluesky.New(cfg.Bluesky, images, cards, app.logger.Named("bluesky"))
		if err != nil {
			return nil, nil, fmt.Errorf("bluesky client init failed: %w", err)
		}
		posters = append(posters, client)
		app.logger.Info("bluesky client enabled",
			zap.String("host", cfg.Bluesky.Host),
			zap.String("handle", cfg.Bluesky.Handle),
		)
	} else {
		posters = append(posters, platform.NewDisabled(broadcast.TargetBluesky,
			disabledReason(cfg.Bluesky.Enabled, cfg.Bluesky.Missing())))
		app.logger.Info("bluesky posting disabled")
	}

	if cfg.Twitter.Enabled && len(cfg.Twitter.Missing()) == 0 {
		client, err := twitter.New(cfg.Twitter, tokens, images, app.logger.Named("twitter"))
		if err != nil {
			return nil, nil, fmt.Errorf("twitter client init failed: %w", err)
		}
		posters = append(posters, client)
		app.logger.Info("twitter client enabled")
	} else {
		posters = append(posters, platform.NewDisabled(broadcast.TargetTwitter,
			disabledReason(cfg.Twitter.Enabled, cfg.Twitter.Missing())))
		app.logger.Info("twitter posting disabled")
	}

	var feed *rss.Client
	if cfg.RSS.Enabled && len(cfg.RSS.Missing()) == 0 {
		client, err := rss.New(cfg.RSS, app.docs, images, system.New(), app.logger.Named("rss"))
		if err != nil {
			return nil, nil, fmt.Errorf("rss client init failed: %w", err)
		}
		feed = client
		posters = append(posters, client)
		app.logger.Info("rss feed enabled", zap.String("base_url", cfg.RSS.BaseURL))
	} else {
		posters = append(posters, platform.NewDisabled(broadcast.TargetRSS,
			disabledReason(cfg.RSS.Enabled, cfg.RSS.Missing())))
		app.logger.Info("rss feed disabled")
	}

	return posters, feed, nil
}

// disabledReason explains why a platform cannot accept posts right now.
func disabledReason(enabled bool, missing []string) string {
	if !enabled {
		return "platform disabled in configuration"
	}
	return fmt.Sprintf("missing configuration: %s", strings.Join(missing, ", "))
}
