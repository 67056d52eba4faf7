// Command catalog-api serves the product listing API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/catalog-cache/pkg/breaker"
	"github.com/Sternrassler/catalog-cache/pkg/cache"
	"github.com/Sternrassler/catalog-cache/pkg/config"
	"github.com/Sternrassler/catalog-cache/pkg/logging"
	"github.com/Sternrassler/catalog-cache/pkg/products"
	"github.com/Sternrassler/catalog-cache/pkg/ratelimit"
	"github.com/Sternrassler/catalog-cache/pkg/storage"
	"github.com/Sternrassler/catalog-cache/pkg/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Pretty = cfg.Log.Pretty
	logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger("http")

	redisClient, err := newRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	dbCfg := storage.DefaultConfig()
	dbCfg.Driver = cfg.Database.Driver
	dbCfg.DSN = cfg.Database.DSN
	db, err := storage.Open(ctx, dbCfg, logging.NewLogger("storage"))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := products.CreateSchema(ctx, db); err != nil {
		return err
	}
	if cfg.Database.SeedRows > 0 {
		n, err := products.Seed(ctx, db, cfg.Database.SeedRows, time.Now())
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info().Int("rows", n).Msg("Seeded products")
		}
	}

	cacheLogger := logging.NewLogger("cache")
	storeCfg := cache.DefaultConfig()
	storeCfg.LockTTL = cfg.Cache.LockTTL
	storeCfg.MaxWait = cfg.Cache.MaxWait

	service := products.NewService(
		products.NewRepository(db),
		cache.NewStore(redisClient, storeCfg, cacheLogger),
		cache.NewVersioner(redisClient, cache.DefaultVersionKey, cacheLogger),
		products.ServiceConfig{ListTTL: cfg.Cache.ListTTL, StatsTTL: cfg.Cache.StatsTTL},
		logging.NewLogger("products"),
	)

	upCfg := upstream.DefaultConfig(cfg.External.URL)
	upCfg.Enabled = cfg.External.Enabled
	upCfg.Timeout = cfg.External.Timeout
	upCfg.Breaker = breaker.Settings{
		Name:             "external_api",
		FailureThreshold: cfg.External.FailureThreshold,
		Cooldown:         cfg.External.Cooldown,
	}
	upstreamLogger := logging.NewLogger("upstream")
	external, err := upstream.New(upCfg, upstreamLogger)
	if err != nil {
		return err
	}

	refresher := upstream.NewRefresher(external, cfg.External.RefreshInterval, upstreamLogger)
	refresher.Start(ctx)
	defer refresher.Stop()

	srv := &server{
		products: service,
		external: external,
		limiter: ratelimit.NewLimiter(redisClient, ratelimit.Config{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}, logging.NewLogger("ratelimit")),
		redis:      redisClient,
		db:         db,
		production: cfg.IsProduction(),
		listTTL:    cfg.Cache.ListTTL,
		statsTTL:   cfg.Cache.StatsTTL,
		logger:     logger,
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("env", cfg.Env).
			Bool("redis", redisClient != nil).
			Msg("Starting catalog API")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newRedis returns nil when Redis is disabled. A failed initial ping is
// logged but not fatal; the cache then bypasses and the limiter fails open.
func newRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		log.Warn().Msg("Redis disabled, caching and rate limiting are off")
		return nil, nil
	}

	opts, err := redisOptions(cfg.URL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis not reachable, continuing degraded")
	} else {
		log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}
	return client, nil
}

// redisOptions accepts redis:// URLs and bare host:port addresses.
func redisOptions(raw string) (*redis.Options, error) {
	if raw == "" {
		return nil, errors.New("redis url is empty")
	}
	opts, err := redis.ParseURL(raw)
	if err == nil {
		return opts, nil
	}
	if hasScheme(raw) {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &redis.Options{Addr: raw}, nil
}

func hasScheme(raw string) bool {
	for _, scheme := range []string{"redis://", "rediss://", "unix://"} {
		if strings.HasPrefix(raw, scheme) {
			return true
		}
	}
	return false
}
