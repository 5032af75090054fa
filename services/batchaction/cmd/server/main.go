package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DhavalThkkar/langfuse/pkg/cache"
	"github.com/DhavalThkkar/langfuse/pkg/config"
	"github.com/DhavalThkkar/langfuse/pkg/database"
	"github.com/DhavalThkkar/langfuse/pkg/grpcutil"
	"github.com/DhavalThkkar/langfuse/pkg/metrics"
	"github.com/DhavalThkkar/langfuse/pkg/queue"
	"github.com/DhavalThkkar/langfuse/pkg/telemetry"
	"github.com/DhavalThkkar/langfuse/services/batchaction"
)

const (
	serviceName    = "batchaction"
	defaultPort    = 9010
	healthInterval = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if os.Getenv("LANGFUSE_GRPC_PORT") == "" {
		cfg.GRPCPort = defaultPort
	}

	tp, err := telemetry.Setup(ctx, telemetry.FromBase(cfg))
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tp.Shutdown(context.Background())

	logger := tp.Logger()
	m := metrics.New(nil)

	deps, cleanup, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	jobs, err := batchaction.NewJobStore(batchaction.StoreOptions{Backend: cfg.StorageBackend, DB: deps.db})
	if err != nil {
		return fmt.Errorf("failed to create job store: %w", err)
	}
	configs, err := batchaction.NewConfigStore(batchaction.StoreOptions{Backend: cfg.StorageBackend, DB: deps.db})
	if err != nil {
		return fmt.Errorf("failed to create config store: %w", err)
	}

	targeting, err := batchaction.NewTargeting()
	if err != nil {
		return err
	}

	resolver := batchaction.NewResolver(configs, deps.negCache, logger).WithMetrics(m)
	scheduler := batchaction.NewQueueScheduler(deps.execQueue, targeting, logger)
	processor := batchaction.NewProcessor(jobs, scheduler,
		telemetry.NewSpanExceptionTracker(logger), logger,
		batchaction.ProcessorConfigFrom(cfg.Batch)).WithMetrics(m)
	worker := batchaction.NewWorker(deps.actionQueue, jobs, resolver, deps.rows, processor,
		cfg.Batch.PollTimeout, logger).WithNormalizer(deps.normalizer)

	svc := batchaction.NewService(jobs, configs, resolver, deps.rows, deps.actionQueue,
		batchaction.ServiceConfig{
			EventsTable:      cfg.Batch.EventsTable,
			MaxHistoricEvals: cfg.Batch.MaxHistoricEvals,
		}, logger)
	handler := batchaction.NewHandler(svc, logger, m.Handler(), deps.health)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	grpcServer := grpcutil.NewServer(grpcutil.DefaultServerConfig(cfg.GRPCPort, serviceName), logger)

	logger.Info("starting batchaction service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage", cfg.StorageBackend,
		"env", cfg.Environment,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		return grpcServer.Run(ctx)
	})
	g.Go(func() error {
		grpcServer.WatchHealth(ctx, healthInterval, deps.health)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// dependencies are the backend-specific collaborators of the service.
type dependencies struct {
	db          *database.DB
	actionQueue queue.Queue
	execQueue   queue.Queue
	negCache    batchaction.NegativeConfigCache
	rows        batchaction.RowSource
	normalizer  batchaction.Normalizer
	health      batchaction.HealthFunc
}

// connect builds Postgres and Redis backed collaborators for the postgres
// backend and in-process ones otherwise.
func connect(ctx context.Context, cfg *config.Base, logger *slog.Logger) (*dependencies, func(), error) {
	if !cfg.UsePostgresStorage() {
		return connectMemory(cfg, logger), func() {}, nil
	}

	db, err := database.Connect(ctx, database.FromBase(cfg))
	if err != nil {
		return nil, nil, err
	}
	db.WithLogger(logger)

	migrator, err := database.NewMigrator(cfg.DatabaseURL(), batchaction.Migrations, batchaction.MigrationsDir, serviceName)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	migrator.WithLogger(logger)
	if err := migrator.Up(); err != nil {
		migrator.Close()
		db.Close()
		return nil, nil, err
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("failed to close migrator", "error", err)
	}

	redisCfg, err := cache.ConfigFromURL(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	redisClient, err := cache.Connect(ctx, redisCfg)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	redisClient.WithLogger(logger).WithKeyPrefix(cfg.Batch.CacheKeyPrefix)

	deps := &dependencies{
		db:          db,
		actionQueue: queue.NewRedisQueue(redisClient, cfg.Batch.ActionQueue),
		execQueue:   queue.NewRedisQueue(redisClient, cfg.Batch.ExecutionQueue),
		negCache:    batchaction.NewRedisNegativeCache(redisClient, cfg.Batch.NoConfigCacheTTL),
		rows:        batchaction.NewPostgresEventsSource(db.DB),
		normalizer:  batchaction.EventsRowNormalizer{},
		health: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	}
	cleanup := func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed to close redis", "error", err)
		}
		if err := db.Close(); err != nil {
			logger.Warn("failed to close database", "error", err)
		}
	}
	return deps, cleanup, nil
}

func connectMemory(cfg *config.Base, logger *slog.Logger) *dependencies {
	deps := &dependencies{
		actionQueue: queue.NewMemoryQueue(),
		execQueue:   queue.NewMemoryQueue(),
		negCache:    batchaction.NewMemoryNegativeCache(cfg.Batch.NoConfigCacheTTL),
		rows:        &batchaction.SliceSource{},
		normalizer:  batchaction.EventsRowNormalizer{},
	}
	if cfg.Batch.EventsFile != "" {
		logger.Info("reading observations from export file", "path", cfg.Batch.EventsFile)
		deps.rows = batchaction.NewJSONLinesFile(cfg.Batch.EventsFile)
		deps.normalizer = batchaction.ExportRowNormalizer{}
	}
	return deps
}
