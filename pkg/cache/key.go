package cache

import (
	"fmt"
	"strings"
)

// CacheKey identifies a cached computation: a namespace, the cache version
// it was issued under and the request parameters.
type CacheKey struct {
	// Namespace groups related keys (e.g. "products:list").
	Namespace string

	// Version is the value of the shared version counter at issue time.
	Version int64

	// Params is any JSON-like value describing the request. It is reduced
	// to a digest with StableHash.
	Params any
}

// String generates the Redis key.
// Format: {namespace}:v{version}:{hash(params)}
//
// Example:
//
//	products:list:v3:9f86d081884c7d65
func (k CacheKey) String() string {
	ns := strings.Trim(k.Namespace, ":")
	return fmt.Sprintf("%s:v%d:%s", ns, k.Version, StableHash(k.Params))
}

// LockKey returns the key guarding recomputation of key.
func LockKey(key string) string {
	return key + ":lock"
}
