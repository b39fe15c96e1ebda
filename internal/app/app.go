// Package app initializes and holds the long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ytakeda/staffwatch/internal/aggregate"
	"github.com/ytakeda/staffwatch/internal/api"
	"github.com/ytakeda/staffwatch/internal/cache"
	"github.com/ytakeda/staffwatch/internal/config"
	"github.com/ytakeda/staffwatch/internal/extract"
	"github.com/ytakeda/staffwatch/internal/fetcher"
	"github.com/ytakeda/staffwatch/internal/fetcher/detect"
	"github.com/ytakeda/staffwatch/internal/fetcher/headless"
	"github.com/ytakeda/staffwatch/internal/fetcher/probe"
	"github.com/ytakeda/staffwatch/internal/id/uuid"
	"github.com/ytakeda/staffwatch/internal/logging"
	"github.com/ytakeda/staffwatch/internal/metrics"
	"github.com/ytakeda/staffwatch/internal/notify"
	"github.com/ytakeda/staffwatch/internal/orchestrator"
	"github.com/ytakeda/staffwatch/internal/pool"
	"github.com/ytakeda/staffwatch/internal/staffing"
	"github.com/ytakeda/staffwatch/internal/storage/memory"
	"github.com/ytakeda/staffwatch/internal/storage/postgres"
	"github.com/ytakeda/staffwatch/internal/storage/sqlite"

	systemclock "github.com/ytakeda/staffwatch/internal/clock/system"
)

// App holds the shared, long-lived services of the process. It is built
// once at startup and torn down in reverse order on shutdown.
type App struct {
	Logger       *zap.Logger
	Store        staffing.Store
	Cache        *cache.Cache
	Engine       *aggregate.Engine
	Orchestrator *orchestrator.Orchestrator
	Server       *api.Server
	Publisher    *notify.Memory

	headless *headless.Fetcher
}

// New wires every service from the configuration. It fails fast when a
// critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	logger.Info("initializing services",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	metrics.Init()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	clock := systemclock.New()

	headlessFetcher, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Headless.UserAgent,
		NavigationTimeout: cfg.Headless.NavTimeout(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize headless fetcher: %w", err)
	}

	var probeFetcher staffing.Fetcher
	var detector staffing.PromotionDetector
	if cfg.Probe.Enabled {
		probeFetcher = probe.New(probe.Config{
			UserAgent: cfg.Probe.UserAgent,
			Timeout:   cfg.Probe.Timeout(),
		})
		detector = detect.NewHeuristic(0)
	}
	chain := fetcher.NewChain(probeFetcher, headlessFetcher, detector, logger)

	workers := pool.New(chain,
		staffing.NewExponentialRetryPolicy(cfg.Crawler.MaxRetries),
		pool.Config{
			Concurrency:  cfg.Crawler.Concurrency,
			FetchTimeout: cfg.Crawler.FetchTimeout(),
		},
		logger,
	)

	resultCache := cache.New(cache.Config{
		CurrentTTL: cfg.Cache.CurrentTTL(),
		HistoryTTL: cfg.Cache.HistoryTTL(),
		RollupTTL:  cfg.Cache.RollupTTL(),
	}, clock)

	publisher := notify.NewMemory()

	orch := orchestrator.New(
		store,
		workers,
		extract.New(),
		resultCache,
		publisher,
		clock,
		uuid.NewGenerator(),
		orchestrator.Config{
			Interval:     cfg.Crawler.Interval(),
			Retention:    cfg.Crawler.Retention(),
			StartupDelay: cfg.Crawler.StartupDelay(),
		},
		logger,
	)

	engine := aggregate.New(store, clock)
	server := api.NewServer(engine, resultCache, store, orch, clock, logger)

	return &App{
		Logger:       logger,
		Store:        store,
		Cache:        resultCache,
		Engine:       engine,
		Orchestrator: orch,
		Server:       server,
		Publisher:    publisher,
		headless:     headlessFetcher,
	}, nil
}

// Close releases every held resource.
func (a *App) Close() {
	a.Orchestrator.Wait()
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Error("closing publisher failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("closing store failed", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

func openStore(ctx context.Context, cfg config.StorageConfig) (staffing.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "postgres":
		return postgres.Open(ctx, postgres.Config{DSN: cfg.DSN})
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
