// Package cache provides a Redis-backed read-through cache with
// stampede protection and versioned keys.
//
// Features:
//
// - Per-key recompute lock (SET NX PX) so one caller computes a cold key
// - Followers poll with doubling delays and fall back to direct compute
// - Lock release by compare-and-delete, never removing a foreign lock
// - Cache version counter for global invalidation without key scans
// - Order-independent parameter hashing (xxhash over canonical JSON)
// - Graceful degradation: Redis failures never fail a request
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	store := cache.NewStore(redisClient, cache.DefaultConfig(), logger)
//	versions := cache.NewVersioner(redisClient, cache.DefaultVersionKey, logger)
//
//	key, ok := versions.CacheKey(ctx, "products:list", filters)
//	if !ok {
//		key = "" // WithCache computes directly with StatusBypass
//	}
//
//	page, status, err := cache.WithCache(ctx, store, key, 60*time.Second,
//		func(ctx context.Context) (Page, error) {
//			return repo.ListPage(ctx, filters)
//		})
//
// # Invalidation
//
// Bump increments products:cache_version. Keys built under the previous
// version are never read again and expire through their TTL.
//
//	if _, err := versions.Bump(ctx); err != nil {
//		return err
//	}
//
// # Metrics
//
//   - catalog_cache_lookups_total{status} - WithCache outcomes
//   - catalog_cache_lock_contention_total - Lost lock attempts
//   - catalog_cache_written_bytes_total - Bytes stored
//   - catalog_cache_version_bumps_total - Version increments
//   - catalog_cache_errors_total{operation} - Cache operation errors
package cache
