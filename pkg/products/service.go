package products

import (
	"context"
	"time"

	"github.com/Sternrassler/catalog-cache/pkg/cache"
	"github.com/Sternrassler/catalog-cache/pkg/dedupe"
	"github.com/rs/zerolog"
)

const (
	listNamespace  = "products:list"
	statsNamespace = "products:stats"
)

// statsParams is the stats key payload. Stats have one global entry.
var statsParams = map[string]any{"v": 1}

// Meta describes how a read was served.
type Meta struct {
	CacheStatus cache.Status
	Deduped     bool
}

// ServiceConfig holds read-path TTLs.
type ServiceConfig struct {
	ListTTL  time.Duration
	StatsTTL time.Duration

	// QueryTimeout bounds a shared computation. Computations are detached
	// from the leader's cancellation since followers depend on them.
	QueryTimeout time.Duration
}

// DefaultServiceConfig returns 60s list and stats TTLs.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListTTL:      60 * time.Second,
		StatsTTL:     60 * time.Second,
		QueryTimeout: 10 * time.Second,
	}
}

type outcome[T any] struct {
	value  T
	status cache.Status
}

// Service serves list and stats reads through
// hash → version → in-flight dedupe → cache-with-lock → repository.
type Service struct {
	repo     Repository
	store    *cache.Store
	versions *cache.Versioner
	config   ServiceConfig
	logger   zerolog.Logger

	lists *dedupe.Group[outcome[ListResult]]
	stats *dedupe.Group[outcome[Stats]]
}

// NewService creates a Service. store and versions may be disabled
// (nil Redis client); reads then bypass the cache.
func NewService(repo Repository, store *cache.Store, versions *cache.Versioner, cfg ServiceConfig, logger zerolog.Logger) *Service {
	def := DefaultServiceConfig()
	if cfg.ListTTL <= 0 {
		cfg.ListTTL = def.ListTTL
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = def.StatsTTL
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	return &Service{
		repo:     repo,
		store:    store,
		versions: versions,
		config:   cfg,
		logger:   logger,
		lists:    dedupe.New[outcome[ListResult]]("products_list"),
		stats:    dedupe.New[outcome[Stats]]("products_stats"),
	}
}

// List validates params and returns one page. Validation errors are
// *ValidationError; storage errors are wrapped and propagate.
func (s *Service) List(ctx context.Context, params ListParams) (ListResult, Meta, error) {
	q, normalized, err := params.Validate()
	if err != nil {
		return ListResult{}, Meta{}, err
	}

	compute := func(ctx context.Context) (ListResult, error) {
		return s.repo.ListPage(ctx, q)
	}
	return read(ctx, s, s.lists, listNamespace, normalized, s.config.ListTTL, compute)
}

// Stats returns table-wide aggregates under a single cache key.
func (s *Service) Stats(ctx context.Context) (Stats, Meta, error) {
	return read(ctx, s, s.stats, statsNamespace, statsParams, s.config.StatsTTL, s.repo.Stats)
}

// Invalidate bumps the cache version. Entries under the old version are
// never read again and expire by TTL.
func (s *Service) Invalidate(ctx context.Context) (int64, error) {
	return s.versions.Bump(ctx)
}

func read[T any](ctx context.Context, s *Service, group *dedupe.Group[outcome[T]], namespace string, params any, ttl time.Duration, compute func(context.Context) (T, error)) (T, Meta, error) {
	key, cacheable := s.versions.CacheKey(ctx, namespace, params)

	// Without a version the request is still deduplicated in-process.
	flightKey := key
	if !cacheable {
		flightKey = namespace + ":nocache:" + cache.StableHash(params)
	}

	out, deduped, err := group.Do(ctx, flightKey, func(ctx context.Context) (outcome[T], error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.QueryTimeout)
		defer cancel()

		v, status, err := cache.WithCache(ctx, s.store, key, ttl, compute)
		return outcome[T]{value: v, status: status}, err
	})

	meta := Meta{CacheStatus: out.status, Deduped: deduped}
	if err != nil {
		s.logger.Error().Err(err).Str("namespace", namespace).Msg("Product read failed")
		return out.value, meta, err
	}

	s.logger.Debug().
		Str("namespace", namespace).
		Str("cache", string(out.status)).
		Bool("deduped", deduped).
		Msg("Product read served")
	return out.value, meta, nil
}
