package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrUnavailable indicates no cache backend is configured
	ErrUnavailable = errors.New("cache unavailable")
)

// Status describes how a WithCache call was served.
type Status string

const (
	// StatusHit means the value was read from cache.
	StatusHit Status = "HIT"

	// StatusMiss means this caller held the lock and computed the value.
	StatusMiss Status = "MISS"

	// StatusWait means another caller computed the value while this one polled.
	StatusWait Status = "WAIT"

	// StatusBypass means the value was computed without the cache.
	StatusBypass Status = "BYPASS"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config tunes locking and follower polling.
type Config struct {
	// LockTTL bounds how long a crashed holder can block recomputation.
	LockTTL time.Duration

	// MaxWait caps follower polling; the effective budget is min(MaxWait, LockTTL).
	MaxWait time.Duration

	// PollInitial is the first poll delay; it doubles up to PollMax.
	PollInitial time.Duration
	PollMax     time.Duration
}

// DefaultConfig returns the lock/poll settings used by the products service.
func DefaultConfig() Config {
	return Config{
		LockTTL:     5 * time.Second,
		MaxWait:     time.Second,
		PollInitial: 50 * time.Millisecond,
		PollMax:     250 * time.Millisecond,
	}
}

// waitBudget is min(MaxWait, LockTTL).
func (c Config) waitBudget() time.Duration {
	if c.LockTTL > 0 && c.LockTTL < c.MaxWait {
		return c.LockTTL
	}
	return c.MaxWait
}

// Store is a read-through cache over Redis with per-key recompute locks.
type Store struct {
	redis    *redis.Client
	config   Config
	logger   zerolog.Logger
	newToken func() string
}

// NewStore creates a Store. A nil client yields a disabled store whose
// WithCache calls always compute directly with StatusBypass.
func NewStore(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Store {
	def := DefaultConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.PollInitial <= 0 {
		cfg.PollInitial = def.PollInitial
	}
	if cfg.PollMax <= 0 {
		cfg.PollMax = def.PollMax
	}
	if cfg.PollMax < cfg.PollInitial {
		cfg.PollMax = cfg.PollInitial
	}
	return &Store{
		redis:    redisClient,
		config:   cfg,
		logger:   logger,
		newToken: uuid.NewString,
	}
}

// Enabled reports whether a Redis backend is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.redis != nil
}

// Get retrieves an entry and its remaining TTL.
// Returns ErrCacheMiss if the key doesn't exist.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	if !s.Enabled() {
		return nil, ErrUnavailable
	}

	pipe := s.redis.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := getCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	if !json.Valid(data) {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, ErrInvalidEntry
	}

	entry := &Entry{Key: key, Value: data}
	if ttl := ttlCmd.Val(); ttl > 0 {
		entry.TTL = ttl
	}
	return entry, nil
}

// Set stores value under key for ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.Enabled() {
		return ErrUnavailable
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	BytesWritten.Add(float64(len(value)))
	return nil
}

// Acquire tries to take the recompute lock for key. It returns the token
// to pass to Release when acquired.
func (s *Store) Acquire(ctx context.Context, key string) (token string, acquired bool, err error) {
	if !s.Enabled() {
		return "", false, ErrUnavailable
	}

	token = s.newToken()
	acquired, err = s.redis.SetNX(ctx, LockKey(key), token, s.config.LockTTL).Result()
	if err != nil {
		CacheErrors.WithLabelValues("lock").Inc()
		return "", false, fmt.Errorf("redis lock: %w", err)
	}
	if !acquired {
		LockContention.Inc()
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lock for key if it is still held by token.
// It reports whether the lock was deleted; false means it expired and
// possibly belongs to another holder now.
func (s *Store) Release(ctx context.Context, key, token string) (bool, error) {
	if !s.Enabled() {
		return false, ErrUnavailable
	}

	n, err := releaseScript.Run(ctx, s.redis, []string{LockKey(key)}, token).Int64()
	if err != nil {
		CacheErrors.WithLabelValues("unlock").Inc()
		return false, fmt.Errorf("redis unlock: %w", err)
	}
	return n == 1, nil
}

// WithCache returns the cached value for key, computing and storing it on
// a miss. At most one caller per key computes while holding the lock;
// others poll for up to min(MaxWait, LockTTL) and then compute directly.
//
// Compute errors are never cached and the lock is always released.
// Redis failures degrade to StatusBypass rather than failing the call.
func WithCache[T any](ctx context.Context, s *Store, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, Status, error) {
	var zero T

	if !s.Enabled() || key == "" {
		return bypass(ctx, compute)
	}

	v, err := lookup[T](ctx, s, key)
	switch {
	case err == nil:
		observe(StatusHit)
		s.logger.Debug().Str("key", key).Msg("Cache hit")
		return v, StatusHit, nil
	case errors.Is(err, ErrCacheMiss), errors.Is(err, ErrInvalidEntry):
	default:
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed, bypassing cache")
		return bypass(ctx, compute)
	}

	token, acquired, err := s.Acquire(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache lock failed, bypassing cache")
		return bypass(ctx, compute)
	}

	if acquired {
		defer func() {
			// Release even if the caller's ctx is already done.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			released, err := s.Release(releaseCtx, key, token)
			if err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("Cache lock release failed")
			} else if !released {
				s.logger.Debug().Str("key", key).Msg("Cache lock expired before release")
			}
		}()

		v, err := compute(ctx)
		if err != nil {
			observe(StatusMiss)
			return zero, StatusMiss, err
		}

		data, err := json.Marshal(v)
		if err != nil {
			CacheErrors.WithLabelValues("marshal").Inc()
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache marshal failed")
		} else if err := s.Set(ctx, key, data, ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
		}

		observe(StatusMiss)
		s.logger.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cache miss, computed and stored")
		return v, StatusMiss, nil
	}

	v, found, err := wait[T](ctx, s, key)
	if err != nil {
		return zero, StatusWait, err
	}
	if found {
		observe(StatusWait)
		s.logger.Debug().Str("key", key).Msg("Cache filled by concurrent holder")
		return v, StatusWait, nil
	}

	s.logger.Debug().Str("key", key).Msg("Cache wait budget exhausted, computing directly")
	return bypass(ctx, compute)
}

func bypass[T any](ctx context.Context, compute func(ctx context.Context) (T, error)) (T, Status, error) {
	observe(StatusBypass)
	v, err := compute(ctx)
	return v, StatusBypass, err
}

func lookup[T any](ctx context.Context, s *Store, key string) (T, error) {
	var v T
	entry, err := s.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := entry.Decode(&v); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("Cached value could not be decoded")
		return v, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return v, nil
}

// wait polls key with doubling delays until a value appears or the
// budget is spent. Only ctx cancellation is returned as an error.
func wait[T any](ctx context.Context, s *Store, key string) (T, bool, error) {
	var zero T
	deadline := time.Now().Add(s.config.waitBudget())
	delay := s.config.PollInitial

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return zero, false, nil
		}
		if delay > remaining {
			delay = remaining
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, false, ctx.Err()
		case <-timer.C:
		}

		v, err := lookup[T](ctx, s, key)
		if err == nil {
			return v, true, nil
		}
		if !errors.Is(err, ErrCacheMiss) && !errors.Is(err, ErrInvalidEntry) {
			// Redis trouble: stop waiting and let the caller compute.
			return zero, false, nil
		}

		delay *= 2
		if delay > s.config.PollMax {
			delay = s.config.PollMax
		}
	}
}
