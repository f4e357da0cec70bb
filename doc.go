// Package sourcecache implements an in-process caching subsystem for
// expensive, repeatable computations (search, preprocessing, financial
// aggregation, embeddings, conversation state), organized around fixed
// namespaces called sources.
//
// Components:
//   - keygen: deterministic key derivation (hashed identifiers, normalized
//     filters, coarse time-window bucketing, safe wildcard patterns).
//   - backend: one uniform get/set/delete/stats contract; backend/memory is
//     an exact LRU+TTL store, backend/kv adapts durable stores (sqlite,
//     redis, bigcache).
//   - Manager: one lazily-built, hot-reconfigurable backend per source.
//   - Typed wrappers: SearchCache, PreprocessCache, FinancialCache,
//     ConversationCache - semantic APIs with per-user and per-function
//     invalidation.
//
// The cache is a pure optimization: hot-path failures are logged and
// surface as misses, so a broken cache can slow callers down but never
// break them. Only administrative operations (config changes, stats
// queries) return errors.
//
// Typical wiring:
//
//	m, _ := sourcecache.NewManager(sourcecache.Options{
//		Logger:     zapadapter.Logger{L: zl},
//		SQLitePath: "/var/lib/app/cache.db",
//	})
//	defer m.Close(ctx)
//
//	search := sourcecache.NewSearchCache[SearchResult](m, codec.JSON[SearchResult]{})
//	if hit, ok := search.Get(ctx, query, userID, filters); ok {
//		return hit, nil
//	}
//	res := runSearch(query)
//	search.Set(ctx, query, userID, filters, res)
package sourcecache
