package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limiting.
var (
	rejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter",
	})

	failOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_rate_limit_fail_open_total",
		Help: "Total number of requests allowed because Redis was unavailable",
	})
)

// Config holds the limiter configuration.
type Config struct {
	// Max is the number of requests allowed per window. Zero disables limiting.
	Max int

	// Window is the fixed window length.
	Window time.Duration
}

// DefaultConfig allows 100 requests per minute.
func DefaultConfig() Config {
	return Config{Max: 100, Window: time.Minute}
}

// Limiter counts requests per client in fixed windows.
type Limiter struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewLimiter creates a Limiter. A nil client or Max <= 0 allows everything.
func NewLimiter(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether requests are being counted.
func (l *Limiter) Enabled() bool {
	return l != nil && l.redis != nil && l.config.Max > 0
}

// windowKey returns the counter key for id in the window containing now,
// and the time left in that window.
func (l *Limiter) windowKey(id string, now time.Time) (string, time.Duration) {
	windowMs := l.config.Window.Milliseconds()
	nowMs := now.UnixMilli()
	index := nowMs / windowMs
	resetIn := time.Duration(windowMs-nowMs%windowMs) * time.Millisecond
	return fmt.Sprintf("%s:%s:%d", KeyPrefix, id, index), resetIn
}

// Allow counts one request for id and reports whether it is within the
// limit. Redis errors are logged and the request is allowed.
func (l *Limiter) Allow(ctx context.Context, id string) Decision {
	if !l.Enabled() {
		return Decision{Allowed: true, Limit: 0, Remaining: 0}
	}

	key, resetIn := l.windowKey(id, l.now())

	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Keys are per window; the expiry only reclaims them.
	pipe.PExpire(ctx, key, l.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		failOpenTotal.Inc()
		l.logger.Warn().Err(err).Str("client", id).Msg("Rate limit check failed, allowing request")
		return Decision{Allowed: true, Limit: l.config.Max, Remaining: l.config.Max, ResetIn: resetIn, Degraded: true}
	}

	count := int(incr.Val())
	d := Decision{
		Allowed:   count <= l.config.Max,
		Limit:     l.config.Max,
		Remaining: max(0, l.config.Max-count),
		ResetIn:   resetIn,
	}

	if !d.Allowed {
		rejectionsTotal.Inc()
		l.logger.Debug().
			Str("client", id).
			Int("count", count).
			Dur("reset_in", resetIn).
			Msg("Request rejected by rate limiter")
	}
	return d
}
