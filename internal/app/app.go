// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/proxy-harvester/internal/api"
	"github.com/JakeFAU/proxy-harvester/internal/clock/system"
	"github.com/JakeFAU/proxy-harvester/internal/config"
	"github.com/JakeFAU/proxy-harvester/internal/export"
	collyfetcher "github.com/JakeFAU/proxy-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/proxy-harvester/internal/fetcher/retry"
	"github.com/JakeFAU/proxy-harvester/internal/harvest"
	uuidgen "github.com/JakeFAU/proxy-harvester/internal/id/uuid"
	"github.com/JakeFAU/proxy-harvester/internal/pipeline"
	"github.com/JakeFAU/proxy-harvester/internal/progress"
	"github.com/JakeFAU/proxy-harvester/internal/progress/sinks"
	"github.com/JakeFAU/proxy-harvester/internal/proxy"
	pubsubpublisher "github.com/JakeFAU/proxy-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/proxy-harvester/internal/resolve"
	"github.com/JakeFAU/proxy-harvester/internal/storage"
	"github.com/JakeFAU/proxy-harvester/internal/storage/gcs"
	"github.com/JakeFAU/proxy-harvester/internal/storage/local"
	"github.com/JakeFAU/proxy-harvester/internal/storage/memory"
	"github.com/JakeFAU/proxy-harvester/internal/storage/postgres"
	"github.com/JakeFAU/proxy-harvester/internal/storage/sqlite"
	"github.com/JakeFAU/proxy-harvester/internal/telemetry"
	"github.com/JakeFAU/proxy-harvester/internal/validate"
)

const discoverTimeout = 10 * time.Second

// Options overrides process-wide defaults, mainly for tests.
type Options struct {
	// Registerer receives the progress metrics; defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Store replaces the configured storage driver.
	Store proxy.Store
}

// App holds all the shared, long-lived services for the application.
// It is built once at startup from Config and closed on exit.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      proxy.Store
	hub        *progress.Hub
	events     *sinks.WebSocketSink
	exporter   *export.Exporter
	controller *pipeline.Controller
	closers    []func(context.Context) error
}

// New builds every service named by cfg. It fails fast and releases whatever
// it already opened when a service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx, opts); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg, logger := a.cfg, a.logger

	logger.Info("initializing application services")

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.addCloser(tp.Shutdown)
	}

	store, err := a.openStore(ctx, opts.Store)
	if err != nil {
		return err
	}
	a.store = store

	country, err := a.countryResolver()
	if err != nil {
		return err
	}
	anonymity, err := a.anonymityResolver(ctx)
	if err != nil {
		return err
	}

	prober, err := validate.NewHTTPProber(validate.ProberConfig{
		EchoURL:   a.echoURL(),
		UserAgent: cfg.Harvest.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize prober: %w", err)
	}
	fetcher := retry.New(
		collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Harvest.UserAgent,
			Timeout:   time.Duration(cfg.Harvest.FetchTimeoutSeconds) * time.Second,
		}),
		retry.NewExponentialPolicy(cfg.Harvest.MaxAttempts),
		logger.Named("fetch"),
	)

	if err := a.startHub(ctx, opts.Registerer); err != nil {
		return err
	}

	blobs, err := a.blobStore(ctx)
	if err != nil {
		return err
	}
	a.exporter = export.NewExporter(blobs)

	a.controller, err = pipeline.New(pipeline.Dependencies{
		Harvester: harvest.New(fetcher, logger.Named("harvest")),
		Validator: validate.New(prober, country, anonymity, logger.Named("validate")),
		Store:     a.store,
		Events:    a.hub,
		IDs:       uuidgen.New(),
		Clock:     system.New(),
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("country_resolver", cfg.Resolve.Country),
		zap.String("anonymity_resolver", cfg.Resolve.Anonymity),
	)
	return nil
}

func (a *App) openStore(ctx context.Context, override proxy.Store) (proxy.Store, error) {
	if override != nil {
		return override, nil
	}
	cfg := a.cfg.Storage
	var (
		store proxy.Store
		err   error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		store = memory.NewProxyStore()
	case config.DriverSQLite:
		a.logger.Info("opening sqlite store", zap.String("path", cfg.SQLitePath))
		store, err = sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath, Table: cfg.Table})
	case config.DriverPostgres:
		a.logger.Info("connecting to postgres")
		store, err = postgres.NewStore(ctx, postgres.StoreConfig{
			DSN:      cfg.PostgresDSN,
			Table:    cfg.Table,
			MaxConns: int32(min(cfg.MaxConns, 1<<16)), //nolint:gosec // bounded above
		})
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.addCloser(func(context.Context) error { return store.Close() })
	return store, nil
}

func (a *App) countryResolver() (proxy.CountryResolver, error) {
	switch a.cfg.Resolve.Country {
	case config.ResolverGeoIP:
		geo, err := resolve.OpenGeoIP(a.cfg.Resolve.GeoIPDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize country resolver: %w", err)
		}
		a.addCloser(func(context.Context) error { return geo.Close() })
		return geo, nil
	default:
		return resolve.NewRandomCountry(nil), nil
	}
}

func (a *App) anonymityResolver(ctx context.Context) (proxy.AnonymityResolver, error) {
	if a.cfg.Resolve.Anonymity != config.ResolverHeaders {
		return resolve.NewRandomAnonymity(nil), nil
	}
	publicIP := a.cfg.Resolve.PublicIP
	if publicIP == "" {
		discoverCtx, cancel := context.WithTimeout(ctx, discoverTimeout)
		defer cancel()
		ip, err := resolve.DiscoverPublicIP(discoverCtx, &http.Client{Timeout: discoverTimeout}, a.echoURL())
		if err != nil {
			return nil, fmt.Errorf("failed to discover public ip: %w", err)
		}
		publicIP = ip
	}
	a.logger.Info("header anonymity resolver ready", zap.String("public_ip", publicIP))
	return resolve.HeaderAnonymity{PublicIP: publicIP}, nil
}

// echoURL switches the default endpoint to one that echoes request headers
// when the header resolver needs them. An explicitly configured URL is kept.
func (a *App) echoURL() string {
	if a.cfg.Resolve.Anonymity == config.ResolverHeaders && a.cfg.Validation.EchoURL == validate.DefaultEchoURL {
		return validate.HeaderEchoURL
	}
	return a.cfg.Validation.EchoURL
}

func (a *App) startHub(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("failed to initialize prometheus sink: %w", err)
	}
	a.events = sinks.NewWebSocketSink(a.logger.Named("events"))
	hubSinks := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress")), promSink, a.events}

	if a.cfg.PubSub.ProjectID != "" {
		client, err := pubsubv2.NewClient(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to initialize pubsub: %w", err)
		}
		a.addCloser(func(context.Context) error { return client.Close() })
		publisher := pubsubpublisher.New(client.Publisher(a.cfg.PubSub.Topic))
		a.addCloser(func(context.Context) error {
			publisher.Stop()
			return nil
		})
		pubSink, err := sinks.NewPubSubSink(publisher)
		if err != nil {
			return fmt.Errorf("failed to initialize pubsub sink: %w", err)
		}
		a.logger.Info("publishing validated proxies to pubsub", zap.String("topic", a.cfg.PubSub.Topic))
		hubSinks = append(hubSinks, pubSink)
	}

	a.hub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         a.logger.Named("hub"),
	}, hubSinks...)
	a.addCloser(a.hub.Close)
	return nil
}

func (a *App) blobStore(ctx context.Context) (storage.BlobStore, error) {
	if a.cfg.Export.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gcs client: %w", err)
		}
		a.addCloser(func(context.Context) error { return client.Close() })
		blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Export.GCSBucket, Prefix: a.cfg.Export.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gcs export: %w", err)
		}
		return blobs, nil
	}
	blobs, err := local.New(local.Config{BaseDir: a.cfg.Export.Dir})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize export dir: %w", err)
	}
	return blobs, nil
}

func (a *App) addCloser(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Controller returns the pipeline controller.
func (a *App) Controller() *pipeline.Controller {
	return a.controller
}

// Exporter returns the configured export uploader.
func (a *App) Exporter() *export.Exporter {
	return a.exporter
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Server builds the HTTP API over the controller.
func (a *App) Server() *api.Server {
	format, _ := export.ParseFormat(a.cfg.Export.Format)
	return api.NewServer(a.controller, api.Options{
		Exporter:     a.exporter,
		Events:       a.events,
		Defaults:     a.cfg.RunSettings(),
		ExportFormat: format,
		Logger:       a.logger.Named("api"),
	})
}

// Close stops any active run, flushes progress sinks, and releases
// connections in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	if a.controller != nil {
		if err := a.controller.Stop(); err == nil {
			if err := a.controller.Wait(ctx); err != nil {
				a.logger.Warn("run did not finish before shutdown", zap.Error(err))
			}
		}
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
