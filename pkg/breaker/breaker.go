// Package breaker wraps a single external dependency in a circuit breaker
// that substitutes the last successful payload while the dependency is
// failing.
//
// State transitions are delegated to sony/gobreaker: closed trips to open
// after FailureThreshold consecutive failures, open moves to half-open once
// Cooldown has elapsed, and the first half-open call decides between closed
// and a fresh open period.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// State is the externally reported breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Reason explains why a Result carries a fallback value.
type Reason string

const (
	// ReasonCircuitOpen means the call was short-circuited without reaching the dependency.
	ReasonCircuitOpen Reason = "circuit_open"

	// ReasonUpstreamError means the dependency was called and failed.
	ReasonUpstreamError Reason = "upstream_error"

	// ReasonDisabled means the dependency is switched off by configuration.
	ReasonDisabled Reason = "disabled"
)

// Settings configures a Breaker.
type Settings struct {
	// Name identifies the dependency in logs and metrics.
	Name string

	// Enabled=false turns every call into a ReasonDisabled fallback.
	Enabled bool

	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int

	// Cooldown is how long the breaker stays open before a half-open probe.
	Cooldown time.Duration
}

// DefaultSettings returns the settings used for the external sync dependency.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:             name,
		Enabled:          true,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// Result is the outcome of Call. Call never returns an error; failures are
// reported through Fallback, Reason and Err.
type Result[T any] struct {
	Value    T
	Fallback bool
	Reason   Reason
	Err      error
}

// Health is the observable breaker state.
type Health struct {
	Enabled             bool   `json:"enabled"`
	State               State  `json:"state"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	CooldownRemainingMs int64  `json:"cooldownRemainingMs"`
	HasFallback         bool   `json:"hasFallback"`
	Name                string `json:"name"`
}

// Breaker guards one dependency. It is safe for concurrent use.
type Breaker[T any] struct {
	settings    Settings
	cb          *gobreaker.CircuitBreaker[T]
	placeholder func(reason Reason) T
	logger      zerolog.Logger
	now         func() time.Time

	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
	lastGood            T
	hasLastGood         bool
}

// New creates a Breaker. placeholder builds the payload returned when no
// successful value has been seen yet (or the dependency is disabled).
func New[T any](settings Settings, placeholder func(reason Reason) T, logger zerolog.Logger) *Breaker[T] {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 1
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = DefaultSettings(settings.Name).Cooldown
	}

	b := &Breaker[T]{
		settings:    settings,
		placeholder: placeholder,
		logger:      logger.With().Str("breaker", settings.Name).Logger(),
		now:         time.Now,
	}

	threshold := uint32(settings.FailureThreshold)
	b.cb = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up says nothing about the dependency.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: b.onStateChange,
	})

	breakerState.WithLabelValues(settings.Name).Set(stateValue(StateClosed))
	return b
}

// onStateChange runs inside gobreaker's lock and must not call back into b.cb.
func (b *Breaker[T]) onStateChange(name string, _, to gobreaker.State) {
	state := fromGobreaker(to)
	breakerState.WithLabelValues(name).Set(stateValue(state))

	if state == StateOpen {
		b.mu.Lock()
		b.openedAt = b.now()
		b.mu.Unlock()
	}

	switch state {
	case StateHalfOpen:
		b.logger.Info().Msg("Circuit breaker half-open, probing dependency")
	case StateClosed:
		b.logger.Info().Msg("Circuit breaker closed")
	}
}

// Call runs fn through the breaker. While open, fn is not invoked and the
// last good value (or the placeholder) is returned.
func (b *Breaker[T]) Call(ctx context.Context, fn func(ctx context.Context) (T, error)) Result[T] {
	if !b.settings.Enabled {
		return Result[T]{Value: b.placeholder(ReasonDisabled), Fallback: true, Reason: ReasonDisabled}
	}

	v, err := b.cb.Execute(func() (T, error) {
		return fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		shortCircuitsTotal.WithLabelValues(b.settings.Name).Inc()
		b.logger.Debug().Msg("Circuit open, serving fallback")
		return b.fallback(ReasonCircuitOpen, err)
	}

	if errors.Is(err, context.Canceled) {
		b.logger.Debug().Err(err).Msg("Dependency call cancelled by caller")
		return b.fallback(ReasonUpstreamError, err)
	}

	if err != nil {
		b.mu.Lock()
		b.consecutiveFailures++
		failures := b.consecutiveFailures
		b.mu.Unlock()

		if b.State() == StateOpen {
			b.logger.Warn().
				Err(err).
				Int("consecutive_failures", failures).
				Dur("cooldown", b.settings.Cooldown).
				Msg("Circuit breaker opened")
		} else {
			b.logger.Warn().
				Err(err).
				Int("consecutive_failures", failures).
				Msg("Dependency call failed")
		}
		return b.fallback(ReasonUpstreamError, err)
	}

	b.mu.Lock()
	b.consecutiveFailures = 0
	b.lastGood = v
	b.hasLastGood = true
	b.mu.Unlock()

	return Result[T]{Value: v}
}

func (b *Breaker[T]) fallback(reason Reason, err error) Result[T] {
	fallbacksTotal.WithLabelValues(b.settings.Name, string(reason)).Inc()

	b.mu.Lock()
	v, ok := b.lastGood, b.hasLastGood
	b.mu.Unlock()

	if !ok {
		v = b.placeholder(reason)
	}
	return Result[T]{Value: v, Fallback: true, Reason: reason, Err: err}
}

// State returns the current breaker state.
func (b *Breaker[T]) State() State {
	return fromGobreaker(b.cb.State())
}

// Health reports the breaker state for observability endpoints.
func (b *Breaker[T]) Health() Health {
	// cb.State may fire onStateChange, which takes b.mu.
	state := b.State()

	b.mu.Lock()
	defer b.mu.Unlock()

	h := Health{
		Enabled:             b.settings.Enabled,
		State:               state,
		ConsecutiveFailures: b.consecutiveFailures,
		HasFallback:         b.hasLastGood,
		Name:                b.settings.Name,
	}
	if state == StateOpen {
		remaining := b.settings.Cooldown - b.now().Sub(b.openedAt)
		if remaining > 0 {
			h.CooldownRemainingMs = remaining.Milliseconds()
		}
	}
	return h
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
