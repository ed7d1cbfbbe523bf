package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"kanon/internal/canon"
	"kanon/internal/cli"
	"kanon/internal/config"
	"kanon/internal/db"
	"kanon/internal/events"
	"kanon/internal/locks"
	"kanon/internal/logging"
	"kanon/internal/match"
	"kanon/internal/provider"
	"kanon/internal/queue"
	"kanon/internal/resolve"
)

// runtime bundles the wired service graph behind a command.
type runtime struct {
	cfg         *config.Config
	logger      zerolog.Logger
	pool        *db.Pool
	locker      *locks.Locker
	coordinator *resolve.Coordinator
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	if r.locker != nil {
		_ = r.locker.Close()
	}
	if r.pool != nil {
		_ = r.pool.Close()
	}
}

// bootstrap loads env and config, then wires the full coordinator graph.
// Commands that only need the database should use connectPool instead.
func bootstrap(envLoader *cli.EnvLoader, connectTimeout time.Duration) (*runtime, error) {
	cfg, logger, err := loadConfigAndLogger(envLoader)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	locker, err := locks.NewLocker(cfg.RedisAddr, logger)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	cache := provider.NewCache(cfg.ProviderCacheTTL)
	client := provider.NewClient(cfg.ProviderName, cfg.ProviderBaseURL, cfg.ProviderTimeout, cache, logger)
	catalog := match.NewCatalogDB(pool)
	policy := match.Policy{
		ReviewMinConfidence: cfg.ReviewMinConfidence,
		YearDriftTolerance:  cfg.YearDriftTolerance,
	}
	matcher := match.NewMatcher(client, catalog, policy, logger)

	store := canon.NewStore(logger)
	jobs := queue.New(pool, logger)
	bus := events.NewBus(locker.Redis(), cfg.RedisChannel, logger)

	coordinator := resolve.NewCoordinator(pool, matcher, client, store, jobs, locker, bus, cfg, logger)

	return &runtime{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		locker:      locker,
		coordinator: coordinator,
	}, nil
}

func loadConfigAndLogger(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			// Absent .env is fine when the environment is already set.
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// connectPool is the light path for commands that only touch the database.
func connectPool(envLoader *cli.EnvLoader, connectTimeout time.Duration) (*config.Config, zerolog.Logger, *db.Pool, error) {
	cfg, logger, err := loadConfigAndLogger(envLoader)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("connect to database: %w", err)
	}
	return cfg, logger, pool, nil
}
