package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/config"
	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/extract"
	"github.com/hpungsan/glean/internal/logging"
	"github.com/hpungsan/glean/internal/metrics"
	"github.com/hpungsan/glean/internal/ops"
	"github.com/hpungsan/glean/internal/project"
)

const cachePingTimeout = 2 * time.Second

// appEnv holds the long-lived collaborators shared by every command.
type appEnv struct {
	store    *db.Store
	cfg      *config.Config
	log      *logging.Logger
	metrics  *metrics.Metrics
	resolver *project.Resolver
}

// openEnv opens the store under baseDir and wires the project resolver.
// The returned cleanup closes the cache client and the database.
func openEnv(baseDir string, cfg *config.Config, log *logging.Logger) (*appEnv, func(), error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	cache, closeCache, err := newProjectCache(cfg, log)
	if err != nil {
		database.Close()
		return nil, nil, err
	}

	store := db.NewStore(database)
	m := metrics.NewMetrics()
	env := &appEnv{
		store:    store,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		resolver: project.NewResolver(store, cache, log.Named("project"), m),
	}

	cleanup := func() {
		closeCache()
		database.Close()
	}
	return env, cleanup, nil
}

// newProjectCache picks Redis when an address is configured, else process memory.
// An unreachable Redis is logged; the resolver then loads projects directly.
func newProjectCache(cfg *config.Config, log *logging.Logger) (project.Cache, func(), error) {
	ttl := cfg.CacheTTL()
	if cfg.ProjectCache.RedisAddr == "" {
		return project.NewMemoryCache(ttl), func() {}, nil
	}

	rc, err := project.NewRedisCache(&redis.Options{
		Addr: cfg.ProjectCache.RedisAddr,
		DB:   cfg.ProjectCache.RedisDB,
	}, cfg.ProjectCache.KeyPrefix, ttl, log.Named("project_cache"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create project cache: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cachePingTimeout)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		log.Warn(ctx, "project cache unreachable",
			zap.String("addr", cfg.ProjectCache.RedisAddr),
			zap.Error(err))
	}

	return rc, func() { _ = rc.Close() }, nil
}

// runDeps assembles the collaborators for an extraction run.
func (e *appEnv) runDeps() ops.Deps {
	return ops.Deps{
		Store:     e.store,
		Resolver:  e.resolver,
		Extractor: extract.New(),
		Log:       e.log,
		Metrics:   e.metrics,
	}
}
