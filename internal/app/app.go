package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"ImageSync/internal/config"
	"ImageSync/internal/domain"
	"ImageSync/internal/infrastructure/catalog"
	"ImageSync/internal/infrastructure/lock"
	"ImageSync/internal/infrastructure/objstore"
	"ImageSync/internal/infrastructure/source"
	"ImageSync/internal/logging"
	"ImageSync/internal/ports"
	"ImageSync/internal/usecase"
)

// Options are the per-invocation knobs the CLI layers over the config file.
type Options struct {
	Concurrency int
	Limit       int
	DryRun      bool
}

// Application wires config to adapters and the run orchestrator.
type Application struct {
	cfg          config.Config
	orchestrator *usecase.Orchestrator
	catalog      *catalog.PostgresCatalog
	redisClient  *redis.Client
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, opts Options, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	cat, err := catalog.NewPostgresCatalog(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}

	app := &Application{cfg: cfg, catalog: cat}

	store, err := buildStore(ctx, cfg.Store)
	if err != nil {
		app.Close()
		return nil, err
	}

	locks, err := app.buildLocks(ctx, cfg.Lock)
	if err != nil {
		app.Close()
		return nil, err
	}

	fetcher, err := source.NewHTTPFetcher(nil, source.Config{
		UserAgent:      cfg.Source.UserAgent,
		ProxyURL:       cfg.Source.ProxyURL,
		Timeout:        cfg.Source.Timeout(),
		MaxAttempts:    cfg.Source.MaxAttempts,
		MaxBodyBytes:   cfg.Source.MaxBodyBytes,
		CanonicalHosts: cfg.Source.CanonicalHosts,
	}, baseLogger.With("component", "source"))
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	concurrency := cfg.Run.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}
	limit := cfg.Run.Limit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	app.orchestrator = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Catalog: cat,
		Store:   store,
		Locks:   locks,
		Fetcher: fetcher,
		Logger:  baseLogger.With("component", "orchestrator"),
	}, usecase.RunConfig{
		Concurrency:   concurrency,
		QueueSize:     cfg.Run.QueueSize,
		Limit:         limit,
		DryRun:        opts.DryRun,
		StorePrefix:   cfg.Store.Prefix,
		LockTTL:       cfg.Lock.TTL(),
		RenewLocks:    cfg.Lock.RenewEnabled(),
		ItemTimeout:   cfg.Run.ItemTimeout(),
		BatchSize:     cfg.Run.BatchSize,
		FailureSample: cfg.Run.FailureSample,
	})

	return app, nil
}

// Run executes one full pipeline pass and returns its report.
func (a *Application) Run(ctx context.Context) (domain.Report, error) {
	return a.orchestrator.Run(ctx)
}

// Close releases held connections.
func (a *Application) Close() {
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (ports.ObjectStore, error) {
	switch cfg.Provider {
	case "", "s3":
		store, err := objstore.NewS3Store(ctx, objstore.S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("build object store: %w", err)
		}
		return store, nil
	case "memory":
		return objstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Provider)
	}
}

func (a *Application) buildLocks(ctx context.Context, cfg config.LockConfig) (ports.LockManager, error) {
	switch cfg.Backend {
	case "", "postgres":
		locks, err := lock.NewPostgresLocks(ctx, a.catalog.Pool())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrLockStoreUnavailable, err)
		}
		return locks, nil
	case "redis":
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return lock.NewRedisLocks(a.redisClient), nil
	case "memory":
		return lock.NewMemoryLocks(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
