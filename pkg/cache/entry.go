package cache

import (
	"encoding/json"
	"time"
)

// Entry is a cached value as stored in Redis.
type Entry struct {
	// Key is the full Redis key, including namespace and version segment.
	Key string `json:"key"`

	// Value is the serialized JSON payload.
	Value json.RawMessage `json:"value"`

	// TTL is the remaining time to live reported by PTTL.
	// Zero when the key has no expiry or the TTL is unknown.
	TTL time.Duration `json:"ttl"`
}

// Decode unmarshals the cached payload into dst.
func (e *Entry) Decode(dst any) error {
	return json.Unmarshal(e.Value, dst)
}

// Expiring reports whether the entry has a positive remaining TTL.
func (e *Entry) Expiring() bool {
	return e.TTL > 0
}
