package sourcecache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/sourcecache/codec"
	"github.com/unkn0wn-root/sourcecache/keygen"
)

// Cache is the typed convenience layer over one source: it hides key
// construction and serialization behind semantic parameters.
//
// Hot-path policy: Get and Set never return errors. A failing cache must
// never fail a request - callers treat it as a pure optimization and fall
// back to recomputing. Failures are logged and surface as misses.
type Cache[V any] struct {
	m      *Manager
	source Source
	codec  codec.Codec[V]
	log    Logger
}

// NewCache builds a typed layer for source. Use the named wrappers
// (NewSearchCache etc.) where one exists; NewCache serves the remaining
// sources (ui-state, embeddings, reranking, user preferences).
func NewCache[V any](m *Manager, source Source, c codec.Codec[V]) *Cache[V] {
	return &Cache[V]{m: m, source: source, codec: c, log: m.log}
}

// Get looks up the value cached for (query, userID, filters). A miss, an
// expired entry, or any backend failure all come back as (zero, false).
func (c *Cache[V]) Get(ctx context.Context, query, userID string, filters map[string]string) (V, bool) {
	return c.getKey(ctx, c.key(query, userID, filters, "", time.Time{}))
}

// Set caches v for (query, userID, filters) with the source's default TTL.
func (c *Cache[V]) Set(ctx context.Context, query, userID string, filters map[string]string, v V) {
	c.SetTTL(ctx, query, userID, filters, v, 0)
}

// SetTTL is Set with an explicit TTL override. The override does not change
// the key's time-window bucket, which is always derived from the source TTL.
func (c *Cache[V]) SetTTL(ctx context.Context, query, userID string, filters map[string]string, v V, ttl time.Duration) {
	c.setKey(ctx, c.key(query, userID, filters, "", time.Time{}), v, ttl)
}

// InvalidateUser removes every entry this source holds for userID and
// reports how many were dropped. Administrative: errors propagate.
func (c *Cache[V]) InvalidateUser(ctx context.Context, userID string) (int, error) {
	if !c.m.Enabled() {
		return 0, nil
	}
	b, err := c.m.Backend(ctx, c.source)
	if err != nil {
		return 0, err
	}
	return b.InvalidatePattern(ctx, c.m.KeyGen().Pattern(string(c.source), userID))
}

// Clear drops every entry in this source.
func (c *Cache[V]) Clear(ctx context.Context) error {
	if !c.m.Enabled() {
		return nil
	}
	b, err := c.m.Backend(ctx, c.source)
	if err != nil {
		return err
	}
	return b.Clear(ctx)
}

func (c *Cache[V]) key(query, userID string, filters map[string]string, op string, ts time.Time) string {
	return c.m.KeyGen().Generate(keygen.Params{
		Source:    string(c.source),
		UserID:    userID,
		Query:     query,
		Filters:   filters,
		Op:        op,
		Timestamp: ts,
	})
}

func (c *Cache[V]) getKey(ctx context.Context, key string) (V, bool) {
	var zero V
	if !c.m.Enabled() {
		return zero, false
	}
	b, err := c.m.Backend(ctx, c.source)
	if err != nil {
		c.log.Warn("cache get: backend unavailable", Fields{"source": string(c.source), "err": err})
		return zero, false
	}
	raw, ok, err := b.Get(ctx, key)
	if err != nil {
		c.log.Debug("cache get failed", Fields{"source": string(c.source), "key": key, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		// Self-heal: drop the entry we can no longer read.
		_ = b.Delete(ctx, key)
		c.log.Warn("cache entry undecodable, dropped", Fields{"source": string(c.source), "key": key, "err": err})
		return zero, false
	}
	return v, true
}

func (c *Cache[V]) setKey(ctx context.Context, key string, v V, ttl time.Duration) {
	if !c.m.Enabled() {
		return
	}
	b, err := c.m.Backend(ctx, c.source)
	if err != nil {
		c.log.Warn("cache set: backend unavailable", Fields{"source": string(c.source), "err": err})
		return
	}
	raw, err := c.codec.Encode(v)
	if err != nil {
		c.log.Warn("cache set: value not serializable, skipped", Fields{"source": string(c.source), "key": key, "err": err})
		return
	}
	if err := b.Set(ctx, key, raw, ttl); err != nil {
		c.log.Debug("cache set failed", Fields{"source": string(c.source), "key": key, "err": err})
	}
}
