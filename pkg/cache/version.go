package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultVersionKey holds the products cache version counter.
const DefaultVersionKey = "products:cache_version"

// Versioner owns the shared cache version counter. Bumping the counter
// makes every key issued under the previous version unreachable; the old
// entries are left to expire by TTL.
type Versioner struct {
	redis  *redis.Client
	key    string
	logger zerolog.Logger
}

// NewVersioner creates a Versioner. A nil client disables versioning and
// CacheKey reports caching as unavailable.
func NewVersioner(redisClient *redis.Client, key string, logger zerolog.Logger) *Versioner {
	if key == "" {
		key = DefaultVersionKey
	}
	return &Versioner{
		redis:  redisClient,
		key:    key,
		logger: logger,
	}
}

// Enabled reports whether a Redis backend is configured.
func (v *Versioner) Enabled() bool {
	return v != nil && v.redis != nil
}

// Current returns the version, initializing the counter to 1 if absent.
func (v *Versioner) Current(ctx context.Context) (int64, error) {
	if !v.Enabled() {
		return 0, ErrUnavailable
	}

	n, err := v.redis.Get(ctx, v.key).Int64()
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, redis.Nil) {
		CacheErrors.WithLabelValues("version_get").Inc()
		return 0, fmt.Errorf("redis get version: %w", err)
	}

	if err := v.init(ctx); err != nil {
		return 0, err
	}

	// Another process may have won the SETNX or bumped already.
	n, err = v.redis.Get(ctx, v.key).Int64()
	if err != nil {
		CacheErrors.WithLabelValues("version_get").Inc()
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return n, nil
}

// Bump atomically increments the version and returns the new value.
func (v *Versioner) Bump(ctx context.Context) (int64, error) {
	if !v.Enabled() {
		return 0, ErrUnavailable
	}

	// INCR on a missing key would yield 1, the implicit initial version.
	if err := v.init(ctx); err != nil {
		return 0, err
	}

	n, err := v.redis.Incr(ctx, v.key).Result()
	if err != nil {
		CacheErrors.WithLabelValues("version_bump").Inc()
		return 0, fmt.Errorf("redis incr version: %w", err)
	}

	VersionBumps.Inc()
	v.logger.Info().Int64("version", n).Msg("Cache version bumped")
	return n, nil
}

func (v *Versioner) init(ctx context.Context) error {
	if err := v.redis.SetNX(ctx, v.key, 1, 0).Err(); err != nil {
		CacheErrors.WithLabelValues("version_init").Inc()
		return fmt.Errorf("redis init version: %w", err)
	}
	return nil
}

// CacheKey returns "{namespace}:v{version}:{hash(params)}". ok is false
// when caching is unavailable; callers then skip the cache entirely.
func (v *Versioner) CacheKey(ctx context.Context, namespace string, params any) (key string, ok bool) {
	version, err := v.Current(ctx)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			v.logger.Warn().Err(err).Str("namespace", namespace).Msg("Cache version unavailable, bypassing cache")
		}
		return "", false
	}
	return CacheKey{Namespace: namespace, Version: version, Params: params}.String(), true
}
