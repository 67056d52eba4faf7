// Package ratelimit implements a Redis-backed fixed-window request limiter.
// Counters are shared by every process using the same Redis, and the
// limiter fails open when Redis is unavailable.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"
)

// KeyPrefix namespaces limiter counters in Redis.
const KeyPrefix = "ratelimit"

// Decision is the outcome of one Allow call.
type Decision struct {
	// Allowed is false when the caller exceeded Limit in the current window.
	Allowed bool `json:"allowed"`

	// Limit is the maximum number of requests per window.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetIn is the time until the current window ends.
	ResetIn time.Duration `json:"reset_in"`

	// Degraded is true when Redis could not be consulted and the request
	// was let through.
	Degraded bool `json:"degraded"`
}

// RetryAfterSeconds returns ResetIn rounded up to whole seconds, at least 1.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.ResetIn.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// WriteHeaders sets the X-RateLimit-* headers, plus Retry-After when the
// request was rejected. Degraded decisions write nothing.
func (d Decision) WriteHeaders(h http.Header) {
	if d.Degraded || d.Limit <= 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(d.RetryAfterSeconds()))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
	}
}
