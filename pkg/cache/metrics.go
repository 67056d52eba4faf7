package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups tracks WithCache outcomes by status
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_lookups_total",
			Help: "Total number of cache lookups by outcome",
		},
		[]string{"status"}, // "HIT", "MISS", "WAIT", "BYPASS"
	)

	// LockContention counts lock attempts that found the lock already held
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_lock_contention_total",
			Help: "Total number of recompute lock attempts that lost to another holder",
		},
	)

	// BytesWritten tracks the payload volume stored in Redis
	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_written_bytes_total",
			Help: "Total number of bytes written to the cache",
		},
	)

	// VersionBumps counts cache version increments
	VersionBumps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_cache_version_bumps_total",
			Help: "Total number of cache version bumps",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "lock", "unlock", "decode", "marshal", "version_*"
	)
)

func observe(status Status) {
	CacheLookups.WithLabelValues(string(status)).Inc()
}
