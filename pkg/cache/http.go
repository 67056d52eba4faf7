package cache

import (
	"fmt"
	"net/http"
	"time"
)

const (
	// HeaderCache reports the WithCache status of a response.
	HeaderCache = "X-Cache"

	// HeaderDedupe reports whether the response was shared with a concurrent request.
	HeaderDedupe = "X-Dedupe"
)

// WriteHeaders sets X-Cache and X-Dedupe on h. X-Dedupe is HIT when the
// request joined an in-flight computation and MISS otherwise.
func WriteHeaders(h http.Header, status Status, deduped bool) {
	if h == nil {
		return
	}
	if status != "" {
		h.Set(HeaderCache, string(status))
	}
	if deduped {
		h.Set(HeaderDedupe, "HIT")
	} else {
		h.Set(HeaderDedupe, "MISS")
	}
}

// WriteMaxAge sets a private Cache-Control header matching ttl.
// Responses not served from a shared cache entry get no-store.
func WriteMaxAge(h http.Header, status Status, ttl time.Duration) {
	if h == nil {
		return
	}
	if status == StatusBypass || ttl <= 0 {
		h.Set("Cache-Control", "no-store")
		return
	}
	h.Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(ttl/time.Second)))
}

// ParseStatus reads the X-Cache header. Unknown values return "".
func ParseStatus(h http.Header) Status {
	switch s := Status(h.Get(HeaderCache)); s {
	case StatusHit, StatusMiss, StatusWait, StatusBypass:
		return s
	default:
		return ""
	}
}
