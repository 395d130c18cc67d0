// Package cache stores LingQ discovery listings (languages and user contexts)
// in Redis so repeated exports against the same account skip those lookups.
//
// Only small, slowly changing listing resources are cached. Paginated card
// pages are never cached: every export must observe the live collection.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.CacheKey{
//		Endpoint: "/languages/",
//		Account:  cache.AccountFingerprint(apiKey),
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then:
//		entry, _ = cache.ResponseToEntry(resp, cache.DefaultTTL)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - lingq_cache_hits_total - Cache hits
//   - lingq_cache_misses_total - Cache misses
//   - lingq_cache_size_bytes - Bytes written to the cache
//   - lingq_cache_errors_total{operation} - Cache operation errors
package cache
