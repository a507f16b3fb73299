package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/catalogindex/internal/config"
	"github.com/utafrali/catalogindex/internal/cores"
	"github.com/utafrali/catalogindex/internal/engine"
	"github.com/utafrali/catalogindex/internal/event"
	handler "github.com/utafrali/catalogindex/internal/handler/http"
	"github.com/utafrali/catalogindex/internal/index"
	"github.com/utafrali/catalogindex/internal/repository"
	"github.com/utafrali/catalogindex/internal/repository/postgres"
	"github.com/utafrali/catalogindex/internal/repository/yamlfields"
	"github.com/utafrali/catalogindex/pkg/database"
	"github.com/utafrali/catalogindex/pkg/health"
	pkgkafka "github.com/utafrali/catalogindex/pkg/kafka"
	"github.com/utafrali/catalogindex/pkg/middleware"
	"github.com/utafrali/catalogindex/pkg/tracing"
)

// ServiceName identifies the indexer in logs, metrics, traces and events.
const ServiceName = "catalog-indexer"

// Version is reported to the tracer; overridden at link time.
var Version = "dev"

const (
	lockPrefix  = "catalogindex:rebuild:"
	eventPrefix = "catalogindex:events:"
)

// DB is the database surface the indexer needs.
type DB interface {
	database.DBTX
	database.Beginner
}

// Infra holds the connections the application is assembled from. Redis and
// Publisher are optional.
type Infra struct {
	DB        DB
	Redis     redis.Cmdable
	Publisher event.Publisher
	Backend   engine.Backend
	Registry  *prometheus.Registry
}

// App wires together all dependencies and runs the catalog indexer.
type App struct {
	logger      *slog.Logger
	coordinator *index.Coordinator
	index       *handler.IndexHandler
	health      *health.Handler
	consumer    *pkgkafka.Consumer
	httpServer  *http.Server

	cancelBackground context.CancelFunc
	closers          []func() error
}

// NewApp connects to every configured dependency and assembles the
// application. Close releases what NewApp opened.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			closeAll(closers, logger)
		}
	}()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing(ServiceName, Version))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	closers = append(closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracer(sctx)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	closers = append(closers, func() error { pool.Close(); return nil })
	if err := database.RegisterPoolMetrics(registry, pool, ServiceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	if cfg.DBMigrate {
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			return nil, err
		}
	}

	infra := Infra{DB: pool, Registry: registry}

	if rc, ok := cfg.Redis(); ok {
		client, err := database.NewRedisClient(ctx, rc, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		closers = append(closers, client.Close)
		infra.Redis = client
	}

	var producer *pkgkafka.Producer
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.ProducerConfig{Brokers: cfg.KafkaBrokers}, logger)
		closers = append(closers, producer.Close)
		infra.Publisher = producer
	}

	be, closeBackend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeBackend)
	infra.Backend = be

	a, err := Assemble(cfg, logger, infra)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closers...)

	if err := a.coordinator.SyncCores(ctx); err != nil {
		return nil, fmt.Errorf("sync search cores: %w", err)
	}

	a.health.Register("postgres", pool.Ping)
	if cfg.KafkaEnabled {
		a.health.Register("kafka", producer.Ping)
		consumer, closeConsumer, err := newEventConsumer(cfg, logger, infra, a.coordinator)
		if err != nil {
			return nil, err
		}
		a.consumer = consumer
		a.closers = append(a.closers, closeConsumer)
	}

	return a, nil
}

// Assemble builds the indexing pipeline and HTTP surface on top of infra.
func Assemble(cfg *config.Config, logger *slog.Logger, infra Infra) (*App, error) {
	registry, err := cores.NewRegistry(cfg.CorePrimary, cfg.CoreReindex)
	if err != nil {
		return nil, err
	}

	metrics, err := index.NewMetrics(infra.Registry)
	if err != nil {
		return nil, err
	}
	breakerMetrics, err := engine.NewBreakerMetrics(infra.Registry)
	if err != nil {
		return nil, err
	}
	httpMetrics := middleware.NewHTTPMetrics(infra.Registry, ServiceName)

	compiler, err := repository.NewCompiler(cfg.ResolverCacheSize, logger)
	if err != nil {
		return nil, err
	}
	fields, err := newFieldCatalog(cfg, infra.DB, compiler, logger)
	if err != nil {
		return nil, err
	}

	deps := index.Dependencies{
		Catalog:   postgres.NewCatalogReader(infra.DB),
		Structure: postgres.NewStructureReader(infra.DB),
		Fields:    fields,
		Locales:   postgres.NewLocaleProvider(infra.DB),
		Tx:        postgres.NewTxManager(infra.DB, logger),
		Backend:   engine.NewBreaker(infra.Backend, cfg.Breaker(), breakerMetrics, logger),
		Cores:     registry,
		Extension: index.NopExtension{},
		Metrics:   metrics,
		Logger:    logger,
	}

	opts := []index.CoordinatorOption{}
	if infra.Redis != nil {
		opts = append(opts, index.WithGuard(index.NewRedisGuard(infra.Redis, lockPrefix, cfg.RedisLockTTL, logger)))
	}
	if infra.Publisher != nil {
		opts = append(opts, index.WithNotifier(event.NewNotifier(infra.Publisher, ServiceName)))
	}
	coordinator := index.NewCoordinator(index.CoordinatorConfig{
		Namespace: cfg.Namespace,
		PageSize:  cfg.PageSize,
		UseSku:    cfg.UseSku,
	}, deps, opts...)

	healthHandler := health.NewHandler()
	healthHandler.Register("search_engine", infra.Backend.Ping)
	if infra.Redis != nil {
		healthHandler.Register("redis", func(ctx context.Context) error {
			return infra.Redis.Ping(ctx).Err()
		})
	}

	background, cancel := context.WithCancel(context.Background())
	indexHandler := handler.NewIndexHandler(background, coordinator, coordinator.Indexer(), logger)
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: ServiceName,
		Index:       indexHandler,
		Health:      healthHandler,
		Metrics:     httpMetrics,
		Gatherer:    infra.Registry,
		Logger:      logger,
		PprofCIDRs:  cfg.PprofAllowedCIDRs,
	})

	logger.Info("indexing pipeline assembled",
		slog.String("namespace", cfg.Namespace),
		slog.String("kind", string(coordinator.Indexer().Kind())),
		slog.Int("page_size", cfg.PageSize),
		slog.Bool("single_core", cfg.SingleCoreMode()),
	)

	return &App{
		logger:      logger,
		coordinator: coordinator,
		index:       indexHandler,
		health:      healthHandler,
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		cancelBackground: cancel,
	}, nil
}

// newEventConsumer builds the Kafka consumer feeding catalog events to the
// coordinator. Redeliveries are skipped by event id, remembered in Redis when
// configured; failed messages go to the dead-letter topics.
func newEventConsumer(cfg *config.Config, logger *slog.Logger, infra Infra, coordinator *index.Coordinator) (*pkgkafka.Consumer, func() error, error) {
	metrics, err := pkgkafka.NewConsumerMetrics(infra.Registry)
	if err != nil {
		return nil, nil, err
	}

	var store pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(cfg.EventDedupTTL)
	if infra.Redis != nil {
		store = pkgkafka.NewRedisIdempotencyStore(infra.Redis, eventPrefix, cfg.EventDedupTTL)
	}
	handle := pkgkafka.IdempotentHandler(store,
		event.NewConsumer(coordinator, coordinator.Indexer(), logger).Handle, logger, metrics)

	opts := []pkgkafka.ConsumerOption{pkgkafka.WithConsumerMetrics(metrics)}
	closeFn := func() error { return nil }
	if cfg.KafkaDLQ {
		dl := pkgkafka.NewDeadLetter(cfg.KafkaBrokers, cfg.KafkaGroupID, logger)
		opts = append(opts, pkgkafka.WithDeadLetter(dl))
		closeFn = dl.Close
	}

	consumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topics:   event.Topics(),
		MinBytes: 1,
		MaxBytes: 10e6, // 10 MB
	}, handle, logger, opts...)
	logger.Info("kafka consumer initialized",
		slog.Any("brokers", cfg.KafkaBrokers),
		slog.Any("topics", event.Topics()),
		slog.Bool("dead_letter", cfg.KafkaDLQ),
	)
	return consumer, closeFn, nil
}

// newFieldCatalog reads field definitions from FIELD_CATALOG_FILE when set
// and from the database otherwise.
func newFieldCatalog(cfg *config.Config, db database.DBTX, compiler *repository.Compiler, logger *slog.Logger) (repository.FieldCatalog, error) {
	if cfg.FieldCatalogFile == "" {
		return postgres.NewFieldCatalog(db, compiler), nil
	}
	catalog, err := yamlfields.Load(cfg.FieldCatalogFile, compiler)
	if err != nil {
		return nil, err
	}
	logger.Info("search fields loaded from file", slog.String("path", cfg.FieldCatalogFile))
	return catalog, nil
}

// Coordinator returns the rebuild coordinator.
func (a *App) Coordinator() *index.Coordinator {
	return a.coordinator
}

// Handler returns the HTTP handler serving the indexer API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and the Kafka consumer, blocking until ctx is
// canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.consumer != nil {
		g.Go(func() error {
			if err := a.consumer.Start(gctx); err != nil {
				return fmt.Errorf("kafka consumer: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.shutdown()
	})

	return g.Wait()
}

// Rebuild runs one full rebuild outside the HTTP server and returns its run.
func (a *App) Rebuild(ctx context.Context) (index.Run, error) {
	return a.coordinator.RebuildRun(ctx)
}

// shutdown stops the HTTP server and waits for background rebuilds, which
// are canceled first.
func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.cancelBackground()
	a.index.Wait()
	return errors.Join(errs...)
}

// Close releases every connection opened by NewApp.
func (a *App) Close() error {
	a.cancelBackground()
	a.index.Wait()
	err := closeAll(a.closers, a.logger)
	a.logger.Info("application shutdown complete")
	return err
}

// closeAll runs closers in reverse order of acquisition.
func closeAll(closers []func() error, logger *slog.Logger) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Error("close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
