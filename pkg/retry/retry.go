// Package retry provides bounded retry with exponential backoff and jitter.
// It is shared by storage connection setup and upstream HTTP calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Common errors returned by Do.
var (
	// ErrRetryExhausted is returned when all attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_retry_backoff_seconds",
		Help:    "Backoff duration before a retry by operation",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

// Options configures Do.
type Options struct {
	// Name labels metrics and log lines (e.g. "db_connect", "upstream").
	Name string

	// Retries is the number of retries after the first attempt.
	// Do makes at most Retries+1 attempts.
	Retries int

	// BaseDelay is the backoff unit. Attempt n waits BaseDelay*2^n plus
	// a jitter in [0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps a single backoff.
	MaxDelay time.Duration

	// ShouldRetry classifies failures. Nil means every error is retryable.
	ShouldRetry func(err error) bool
}

// DefaultOptions returns the defaults used for upstream calls.
func DefaultOptions() Options {
	return Options{
		Name:      "default",
		Retries:   2,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	}
}

// jitter is replaced in tests.
var jitter = func(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(base)))
}

// Backoff returns the delay before retry number attempt (0-based):
// min(maxDelay, base*2^attempt + jitter).
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := base<<attempt + jitter(base)
	if maxDelay > 0 && (d > maxDelay || d < 0) {
		d = maxDelay
	}
	return d
}

// Do runs op until it succeeds, ShouldRetry rejects the error, or
// Retries+1 attempts have been made. Non-retryable errors are returned
// unchanged. Exhaustion wraps both ErrRetryExhausted and the last error.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := opts.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info().
					Str("operation", opts.Name).
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return v, nil
		}
		lastErr = err

		if opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return zero, err
		}

		if attempt == attempts-1 {
			break
		}

		delay := Backoff(attempt, opts.BaseDelay, opts.MaxDelay)
		retriesTotal.WithLabelValues(opts.Name).Inc()
		retryBackoffSeconds.WithLabelValues(opts.Name).Observe(delay.Seconds())

		log.Debug().
			Err(err).
			Str("operation", opts.Name).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying after backoff")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().
				Str("operation", opts.Name).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return zero, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(opts.Name).Inc()
	log.Warn().
		Err(lastErr).
		Str("operation", opts.Name).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}

// DoErr is Do for operations without a result.
func DoErr(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := Do(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
