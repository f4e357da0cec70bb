package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/unkn0wn-root/sourcecache/backend"
)

func newTestBackend(t *testing.T, cfg Config) *Backend {
	t.Helper()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = -1 // keep tests deterministic unless sweeping is the point
	}
	b := New(cfg)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func mustSet(t *testing.T, b *Backend, key, val string) {
	t.Helper()
	if err := b.Set(context.Background(), key, []byte(val), 0); err != nil {
		t.Fatalf("Set(%q): %v", key, err)
	}
}

func keysAlive(t *testing.T, b *Backend) map[string]bool {
	t.Helper()
	ks, err := b.Keys(context.Background(), "*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	out := make(map[string]bool, len(ks))
	for _, k := range ks {
		out[k] = true
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})

	if err := b.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := b.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}

	// Returned slice must be a copy.
	got[0] = 'X'
	again, _, _ := b.Get(ctx, "k")
	if string(again) != "v" {
		t.Fatalf("caller mutation leaked into stored value: %q", again)
	}
}

func TestMissIsNotAnError(t *testing.T) {
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})
	v, ok, err := b.Get(context.Background(), "absent")
	if err != nil || ok || v != nil {
		t.Fatalf("miss = %q, %v, %v; want nil, false, nil", v, ok, err)
	}
}

// TestExpiry covers set at t=0, live read inside the TTL, miss past it, and
// counter cleanup - without sleeping, by rolling the backend clock.
func TestExpiry(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})

	base := time.Now()
	now := base
	b.now = func() time.Time { return now }

	if err := b.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = base.Add(500 * time.Millisecond)
	if _, ok, _ := b.Get(ctx, "k"); !ok {
		t.Fatalf("t=500ms: expected hit")
	}

	now = base.Add(1500 * time.Millisecond)
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Fatalf("t=1500ms: expected miss")
	}

	n, _ := b.EntryCount(ctx)
	sz, _ := b.Size(ctx)
	if n != 0 || sz != 0 {
		t.Fatalf("expired entry left counters: entries=%d size=%d", n, sz)
	}
	if r := b.DetailedStats(); r.Expired != 1 {
		t.Fatalf("expired removals = %d, want 1", r.Expired)
	}
}

func TestHasLazilyEvictsExpired(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})

	base := time.Now()
	now := base
	b.now = func() time.Time { return now }

	mustSet(t, b, "k", "v")
	b.mu.Lock()
	b.items["k"].Value.(*entry).ttl = time.Second
	b.mu.Unlock()

	now = base.Add(2 * time.Second)
	if ok, _ := b.Has(ctx, "k"); ok {
		t.Fatalf("Has on expired entry = true")
	}
	if n, _ := b.EntryCount(ctx); n != 0 {
		t.Fatalf("Has did not evict expired entry")
	}
}

// Capacity 3, insert A..D with no reads: A (the oldest) goes.
func TestLRUEvictsOldest(t *testing.T) {
	b := newTestBackend(t, Config{DefaultTTL: time.Minute, MaxEntries: 3})
	for _, k := range []string{"A", "B", "C", "D"} {
		mustSet(t, b, k, "v")
	}
	alive := keysAlive(t, b)
	if alive["A"] || !alive["B"] || !alive["C"] || !alive["D"] {
		t.Fatalf("after A,B,C,D: alive=%v, want B,C,D", alive)
	}
	if r := b.DetailedStats(); r.Evicted != 1 {
		t.Fatalf("evicted = %d, want 1", r.Evicted)
	}
}

// Capacity 3 holding A,B,C; reading A promotes it, so the next insert evicts
// B instead.
func TestLRUReadPromotes(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute, MaxEntries: 3})
	for _, k := range []string{"A", "B", "C"} {
		mustSet(t, b, k, "v")
	}
	if _, ok, _ := b.Get(ctx, "A"); !ok {
		t.Fatalf("read A: miss")
	}
	mustSet(t, b, "D", "v")

	alive := keysAlive(t, b)
	if alive["B"] {
		t.Fatalf("B should have been evicted after A was promoted: %v", alive)
	}
	if !alive["A"] || !alive["C"] || !alive["D"] {
		t.Fatalf("want A,C,D alive, got %v", alive)
	}
}

func TestSizeEviction(t *testing.T) {
	b := newTestBackend(t, Config{DefaultTTL: time.Minute, MaxSize: 10})
	mustSet(t, b, "a", "12345")
	mustSet(t, b, "b", "12345")
	mustSet(t, b, "c", "12345") // pushes total to 15, evicts from the tail

	sz, _ := b.Size(context.Background())
	if sz > 10 {
		t.Fatalf("size %d exceeds cap 10", sz)
	}
	if alive := keysAlive(t, b); alive["a"] {
		t.Fatalf("oldest entry survived size eviction: %v", alive)
	}
}

func TestHitRateArithmetic(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})
	mustSet(t, b, "k", "v")

	for i := 0; i < 3; i++ {
		b.Get(ctx, "k") // hits
	}
	for i := 0; i < 2; i++ {
		b.Get(ctx, "nope") // misses
	}

	s, err := b.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.HitCount != 3 || s.MissCount != 2 {
		t.Fatalf("counters = %d/%d", s.HitCount, s.MissCount)
	}
	if math.Abs(s.HitRate-0.6) > 1e-9 {
		t.Fatalf("hitRate = %v, want 0.6", s.HitRate)
	}
}

func TestSizeAccountingReturnsToZero(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})
	for _, k := range []string{"a", "b", "c"} {
		mustSet(t, b, k, "some value")
	}
	mustSet(t, b, "a", "resized value") // overwrite adjusts, not double-counts

	for _, k := range []string{"a", "b", "c"} {
		if err := b.Delete(ctx, k); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	}
	n, _ := b.EntryCount(ctx)
	sz, _ := b.Size(ctx)
	if n != 0 || sz != 0 {
		t.Fatalf("after deleting everything: entries=%d size=%d", n, sz)
	}
}

func TestPatternInvalidationExact(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})
	mustSet(t, b, "sc:v1:ui-state:user:aa:1", "v")
	mustSet(t, b, "sc:v1:ui-state:user:aa:2", "v")
	mustSet(t, b, "sc:v1:ui-state:user:bb:1", "v")
	mustSet(t, b, "sc:v1:reranking:user:aa:1", "v")

	n, err := b.InvalidatePattern(ctx, "sc:v1:ui-state:user:aa:*")
	if err != nil || n != 2 {
		t.Fatalf("InvalidatePattern = %d, %v; want 2", n, err)
	}
	alive := keysAlive(t, b)
	if !alive["sc:v1:ui-state:user:bb:1"] || !alive["sc:v1:reranking:user:aa:1"] {
		t.Fatalf("non-matching keys were removed: %v", alive)
	}
	if len(alive) != 2 {
		t.Fatalf("want exactly 2 survivors, got %v", alive)
	}
}

func TestTouchRefreshesWithoutRewrite(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})

	base := time.Now()
	now := base
	b.now = func() time.Time { return now }

	if err := b.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}

	now = base.Add(900 * time.Millisecond)
	ok, err := b.Touch(ctx, "k", 0)
	if err != nil || !ok {
		t.Fatalf("Touch = %v, %v", ok, err)
	}

	// Past the original deadline but inside the refreshed one.
	now = base.Add(1500 * time.Millisecond)
	v, ok, _ := b.Get(ctx, "k")
	if !ok || string(v) != "v" {
		t.Fatalf("touched entry should still be live with original value, got %q ok=%v", v, ok)
	}

	if ok, _ := b.Touch(ctx, "missing", 0); ok {
		t.Fatalf("Touch on absent key = true")
	}
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})

	n, err := b.Increment(ctx, "ctr", 2)
	if err != nil || n != 2 {
		t.Fatalf("Increment from absent = %d, %v", n, err)
	}
	n, err = b.Increment(ctx, "ctr", -5)
	if err != nil || n != -3 {
		t.Fatalf("Increment = %d, %v", n, err)
	}

	mustSet(t, b, "text", "not a number")
	var ite *backend.IncrementTypeError
	if _, err := b.Increment(ctx, "text", 1); !errors.As(err, &ite) {
		t.Fatalf("Increment on non-numeric value = %v, want *backend.IncrementTypeError", err)
	}
}

func TestSweepRemovesColdEntries(t *testing.T) {
	ctx := context.Background()
	b := New(Config{DefaultTTL: time.Minute, SweepInterval: 10 * time.Millisecond})
	t.Cleanup(func() { _ = b.Close(ctx) })

	if err := b.Set(ctx, "cold", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := b.EntryCount(ctx); n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweep never removed the cold entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if r := b.DetailedStats(); r.Expired == 0 {
		t.Fatalf("sweep removal not recorded as expiry")
	}
}

func TestClearResetsAndStamps(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t, Config{DefaultTTL: time.Minute})
	mustSet(t, b, "a", "v")
	mustSet(t, b, "b", "v")

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	s, _ := b.Stats(ctx)
	if s.TotalEntries != 0 || s.TotalSize != 0 {
		t.Fatalf("clear left entries: %+v", s)
	}
	if s.LastCleared.IsZero() {
		t.Fatalf("LastCleared not stamped")
	}
}

func TestCloseIdempotent(t *testing.T) {
	b := New(Config{DefaultTTL: time.Minute})
	ctx := context.Background()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
