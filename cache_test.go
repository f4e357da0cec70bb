package sourcecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unkn0wn-root/sourcecache/codec"
)

type result struct {
	IDs []string `json:"ids"`
}

// jsonCodec avoids repeating the generic instantiation in every test.
type jsonCodec = codec.JSON[result]

func TestSearchRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	sc := NewSearchCache[result](m, jsonCodec{})

	filters := map[string]string{"lang": "en"}
	if _, ok := sc.Get(ctx, "q", "u1", filters); ok {
		t.Fatalf("unexpected hit on empty cache")
	}

	want := result{IDs: []string{"a", "b"}}
	sc.Set(ctx, "q", "u1", filters, want)

	got, ok := sc.Get(ctx, "q", "u1", filters)
	if !ok || len(got.IDs) != 2 || got.IDs[0] != "a" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	// Different user, same query: separate entry.
	if _, ok := sc.Get(ctx, "q", "u2", filters); ok {
		t.Fatalf("entry leaked across users")
	}
}

func TestSourcesIsolated(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	sc := NewSearchCache[result](m, jsonCodec{})
	fc := NewFinancialCache[result](m, jsonCodec{})
	fc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	// Identical raw parameters under two sources.
	sc.Set(ctx, "q", "u1", nil, result{IDs: []string{"search"}})
	fc.Set(ctx, "agg", "q", "u1", nil, result{IDs: []string{"fin"}})

	s, ok := sc.Get(ctx, "q", "u1", nil)
	if !ok || s.IDs[0] != "search" {
		t.Fatalf("search entry = %+v, %v", s, ok)
	}
	f, ok := fc.Get(ctx, "agg", "q", "u1", nil)
	if !ok || f.IDs[0] != "fin" {
		t.Fatalf("financial entry = %+v, %v", f, ok)
	}

	// Invalidating the user in one source leaves the other source alone.
	n, err := sc.InvalidateUser(ctx, "u1")
	if err != nil || n != 1 {
		t.Fatalf("InvalidateUser = %d, %v", n, err)
	}
	if _, ok := sc.Get(ctx, "q", "u1", nil); ok {
		t.Fatalf("search entry survived its own invalidation")
	}
	if _, ok := fc.Get(ctx, "agg", "q", "u1", nil); !ok {
		t.Fatalf("financial entry lost to another source's invalidation")
	}
}

func TestFinancialWindowRollover(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	fc := NewFinancialCache[result](m, jsonCodec{})

	// 7,500,000 is a multiple of the source's 75s bucket width, so the test
	// starts exactly on a window boundary.
	at := time.Unix(7_500_000, 0)
	fc.now = func() time.Time { return at }
	fc.Set(ctx, "spending", "q", "u1", nil, result{IDs: []string{"x"}})

	// Same window: hit. financial-aggregation buckets at TTL/4 = 75s.
	at = at.Add(30 * time.Second)
	if _, ok := fc.Get(ctx, "spending", "q", "u1", nil); !ok {
		t.Fatalf("lookup within the window missed")
	}

	// Next window: clean miss, no invalidation needed.
	at = at.Add(2 * time.Minute)
	if _, ok := fc.Get(ctx, "spending", "q", "u1", nil); ok {
		t.Fatalf("lookup crossed a window boundary and still hit")
	}
}

func TestInvalidateFunction(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	fc := NewFinancialCache[result](m, jsonCodec{})
	fc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	fc.Set(ctx, "getPortfolio", "q1", "u1", nil, result{IDs: []string{"p"}})
	fc.Set(ctx, "getPortfolio", "q2", "u1", nil, result{IDs: []string{"p2"}})
	fc.Set(ctx, "getSpending", "q1", "u1", nil, result{IDs: []string{"s"}})
	fc.Set(ctx, "getPortfolio", "q1", "u2", nil, result{IDs: []string{"other"}})

	n, err := fc.InvalidateFunction(ctx, "getPortfolio", "u1")
	if err != nil {
		t.Fatalf("InvalidateFunction: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed %d entries, want 2", n)
	}
	if _, ok := fc.Get(ctx, "getPortfolio", "q1", "u1", nil); ok {
		t.Fatalf("invalidated entry still readable")
	}
	if _, ok := fc.Get(ctx, "getSpending", "q1", "u1", nil); !ok {
		t.Fatalf("sibling function caught by the invalidation")
	}
	if _, ok := fc.Get(ctx, "getPortfolio", "q1", "u2", nil); !ok {
		t.Fatalf("other user's entry caught by the invalidation")
	}

	// Empty user: administrative reset of the whole source.
	if _, err := fc.InvalidateFunction(ctx, "getPortfolio", ""); err != nil {
		t.Fatalf("InvalidateFunction(all): %v", err)
	}
	if _, ok := fc.Get(ctx, "getPortfolio", "q1", "u2", nil); ok {
		t.Fatalf("source reset left entries behind")
	}
}

func TestInvalidateFunctionUnrepresentableName(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	fc := NewFinancialCache[result](m, jsonCodec{})
	fc.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	// "!!!" sanitizes to nothing, so the entry is keyed without an op segment.
	fc.Set(ctx, "!!!", "q", "u1", nil, result{IDs: []string{"x"}})
	if _, ok := fc.Get(ctx, "!!!", "q", "u1", nil); !ok {
		t.Fatalf("entry with unrepresentable function name not readable")
	}

	// Function-scoped invalidation has no segment to match; it must report
	// zero rather than deleting everything under the user.
	if n, err := fc.InvalidateFunction(ctx, "!!!", "u1"); n != 0 || err != nil {
		t.Fatalf("InvalidateFunction = %d, %v", n, err)
	}
	if _, ok := fc.Get(ctx, "!!!", "q", "u1", nil); !ok {
		t.Fatalf("unrelated entry removed")
	}

	// User-scoped invalidation still catches it.
	if n, err := fc.InvalidateUser(ctx, "u1"); n != 1 || err != nil {
		t.Fatalf("InvalidateUser = %d, %v", n, err)
	}
}

func TestInvalidateUserCatchesUserOnlyEntries(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	pc := NewCache[result](m, SourceUserPreferences, jsonCodec{})

	// Empty query and nil filters: the key carries the user hash and nothing
	// after it.
	pc.Set(ctx, "", "u1", nil, result{IDs: []string{"prefs"}})
	if _, ok := pc.Get(ctx, "", "u1", nil); !ok {
		t.Fatalf("user-only entry not readable")
	}

	n, err := pc.InvalidateUser(ctx, "u1")
	if err != nil || n != 1 {
		t.Fatalf("InvalidateUser = %d, %v", n, err)
	}
	if _, ok := pc.Get(ctx, "", "u1", nil); ok {
		t.Fatalf("user-only entry survived invalidation")
	}
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	cc := NewConversationCache[result](m, jsonCodec{})

	cc.Set(ctx, "c1", "u1", result{IDs: []string{"m1"}})
	cc.Set(ctx, "c2", "u1", result{IDs: []string{"m2"}})
	cc.Set(ctx, "c3", "u2", result{IDs: []string{"m3"}})

	convs, err := cc.UserConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("UserConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("u1 has %d conversations, want 2", len(convs))
	}

	if err := cc.Delete(ctx, "c1", "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := cc.Get(ctx, "c1", "u1"); ok {
		t.Fatalf("deleted conversation still readable")
	}
	convs, _ = cc.UserConversations(ctx, "u1")
	if len(convs) != 1 || convs[0].IDs[0] != "m2" {
		t.Fatalf("after delete: %+v", convs)
	}
	if convs, _ := cc.UserConversations(ctx, "u3"); convs != nil {
		t.Fatalf("unknown user returned %+v", convs)
	}
}

func TestCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	sc := NewSearchCache[result](m, jsonCodec{})

	sc.Set(ctx, "q", "u1", nil, result{IDs: []string{"a"}})

	// Corrupt the raw bytes underneath the typed layer.
	key := sc.key("q", "u1", nil, "", time.Time{})
	b, err := m.Backend(ctx, SourceUnifiedSearch)
	if err != nil {
		t.Fatalf("Backend: %v", err)
	}
	if err := b.Set(ctx, key, []byte("{not json"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, ok := sc.Get(ctx, "q", "u1", nil); ok {
		t.Fatalf("corrupt entry reported as hit")
	}
	if ok, _ := b.Has(ctx, key); ok {
		t.Fatalf("corrupt entry not dropped")
	}
}

// brokenCodec fails every encode so the hot path has something to swallow.
type brokenCodec struct{}

func (brokenCodec) Encode(result) ([]byte, error) { return nil, errors.New("no") }
func (brokenCodec) Decode([]byte) (result, error) { return result{}, errors.New("no") }

func TestSetSwallowsEncodeFailure(t *testing.T) {
	ctx := context.Background()
	log := &captureLogger{}
	m := newTestManager(t, Options{Logger: log})
	sc := NewSearchCache[result](m, brokenCodec{})

	sc.Set(ctx, "q", "u1", nil, result{IDs: []string{"a"}})
	if _, ok := sc.Get(ctx, "q", "u1", nil); ok {
		t.Fatalf("unserializable value was cached")
	}
	if !log.warned("not serializable") {
		t.Fatalf("skip not logged: %v", log.warns)
	}
}

func TestDisabledManagerNoops(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Disabled: true})
	sc := NewSearchCache[result](m, jsonCodec{})

	sc.Set(ctx, "q", "u1", nil, result{IDs: []string{"a"}})
	if _, ok := sc.Get(ctx, "q", "u1", nil); ok {
		t.Fatalf("disabled cache returned a hit")
	}
	if n, err := sc.InvalidateUser(ctx, "u1"); n != 0 || err != nil {
		t.Fatalf("InvalidateUser = %d, %v", n, err)
	}
	if err := sc.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}
