package sourcecache

import (
	"context"
	"strings"
	"time"

	"github.com/unkn0wn-root/sourcecache/codec"
	"github.com/unkn0wn-root/sourcecache/keygen"
)

// FinancialCache memoizes financial aggregation results. Keys carry the
// aggregation function name in plaintext (sanitized) and a time-window
// bucket, so volatile figures roll over to a fresh bucket on a coarse
// cadence without per-call bookkeeping.
type FinancialCache[V any] struct {
	*Cache[V]
	// now is swappable in tests to pin the bucket.
	now func() time.Time
}

func NewFinancialCache[V any](m *Manager, c codec.Codec[V]) *FinancialCache[V] {
	return &FinancialCache[V]{
		Cache: NewCache[V](m, SourceFinancialAgg, c),
		now:   time.Now,
	}
}

// Get looks up the result of function fn for (query, userID, filters) in the
// current time window.
func (c *FinancialCache[V]) Get(ctx context.Context, fn, query, userID string, filters map[string]string) (V, bool) {
	return c.getKey(ctx, c.key(query, userID, filters, fn, c.now()))
}

// Set caches the result of fn in the current time window.
func (c *FinancialCache[V]) Set(ctx context.Context, fn, query, userID string, filters map[string]string, v V) {
	c.setKey(ctx, c.key(query, userID, filters, fn, c.now()), v, 0)
}

// InvalidateFunction removes the user's entries produced by fn, leaving the
// user's other functions cached. With an empty userID it clears the whole
// source - an administrative reset.
func (c *FinancialCache[V]) InvalidateFunction(ctx context.Context, fn, userID string) (int, error) {
	if !c.m.Enabled() {
		return 0, nil
	}
	b, err := c.m.Backend(ctx, c.source)
	if err != nil {
		return 0, err
	}
	if userID == "" {
		if err := b.Clear(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}

	// Keys for a function with no representable name carry no op segment,
	// so there is nothing an op needle could match.
	op := keygen.SanitizeOp(fn)
	if op == "" {
		return 0, nil
	}

	keys, err := b.Keys(ctx, c.m.KeyGen().Pattern(string(c.source), userID))
	if err != nil {
		return 0, err
	}
	needle := ":op:" + op + ":"
	removed := 0
	for _, k := range keys {
		if !strings.Contains(k+":", needle) {
			continue
		}
		if err := b.Delete(ctx, k); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
