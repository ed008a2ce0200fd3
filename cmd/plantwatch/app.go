package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/plantwatch/pkg/auth"
	"github.com/Sternrassler/plantwatch/pkg/config"
	"github.com/Sternrassler/plantwatch/pkg/coordinator"
	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/export"
	"github.com/Sternrassler/plantwatch/pkg/logging"
	"github.com/Sternrassler/plantwatch/pkg/quota"
	"github.com/Sternrassler/plantwatch/pkg/rangefetch"
	"github.com/Sternrassler/plantwatch/pkg/server"
	"github.com/Sternrassler/plantwatch/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	location *time.Location

	redis    *redis.Client
	store    *daycache.Store
	tracker  *quota.Tracker
	client   *telemetry.Client
	coord    *coordinator.Coordinator
	ranges   *rangefetch.Fetcher
	exporter *export.Exporter
}

// newApp builds the cache, upstream client and coordinator from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, location: loc}

	backend, err := a.newBackend(ctx)
	if err != nil {
		return nil, err
	}

	a.store = daycache.NewStore(backend, daycache.Policy{
		TodayFreshness: cfg.Cache.TodayFreshness,
		PastFreshness:  cfg.Cache.PastFreshness,
		RetentionDays:  cfg.Cache.RetentionDays,
		Location:       loc,
	}, daycache.WithLogger(logging.NewLogger("daycache")))

	a.tracker = quota.NewTracker(logger)

	a.client, err = telemetry.New(telemetry.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		APIKey:    cfg.Upstream.APIKey,
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.Upstream.Timeout,
		Location:  loc,
	}, a.tracker, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.coord = coordinator.New(a.store, a.client, coordinator.Config{
		FetchTimeout:    cfg.Cache.FetchTimeout,
		PrefetchTimeout: cfg.Cache.FetchTimeout,
		DisablePrefetch: !cfg.PrefetchEnabled(),
	}, logger)

	a.ranges = rangefetch.New(a.coord, rangefetch.Config{
		MaxConcurrency: cfg.Export.Concurrency,
		MaxDays:        cfg.Export.MaxDays,
	}, logger)

	a.exporter = export.New(
		export.WithLocation(loc),
		export.WithLogger(logging.NewLogger("export")),
	)
	return a, nil
}

func (a *app) newBackend(ctx context.Context) (daycache.Backend, error) {
	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Cache.RedisAddr,
			Password: a.cfg.Cache.RedisPassword,
			DB:       a.cfg.Cache.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.redis.Close()
			a.redis = nil
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Cache.RedisAddr, err)
		}
		a.logger.Info().Str("addr", a.cfg.Cache.RedisAddr).Msg("Connected to Redis")
		return daycache.NewRedisBackend(a.redis, a.cfg.Cache.KeyPrefix), nil
	case config.BackendMemory, "":
		return daycache.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
}

// newServer opens the user database and wires the HTTP server. The returned
// close function releases the database.
func (a *app) newServer() (*server.Server, func() error, error) {
	store, err := auth.OpenStore(a.cfg.Auth.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	issuer, err := auth.NewIssuer([]byte(a.cfg.Auth.JWTSecret), a.cfg.Auth.Issuer, a.cfg.Auth.TokenTTL)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	svc := auth.NewService(store, issuer, auth.WithLogger(logging.NewLogger("auth")))

	srv, err := server.New(server.Deps{
		Auth:        svc,
		Upstream:    a.client,
		Coordinator: a.coord,
		Sessions:    coordinator.NewSessions(a.coord),
		Ranges:      a.ranges,
		Exporter:    a.exporter,
		Quota:       a.tracker,
		Logger:      a.logger,
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return srv, store.Close, nil
}

// Close waits for background prefetches and releases connections.
func (a *app) Close() {
	if a.coord != nil {
		a.coord.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
}
