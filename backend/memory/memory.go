// Package memory implements the in-memory cache backend: a map for O(1)
// lookup plus a doubly-linked list for exact recency order, with lazy TTL
// expiry on access and a periodic sweep for cold entries.
//
// Removal paths are recorded by cause (expired, evicted, deleted) so capacity
// pressure is distinguishable from staleness in diagnostics.
package memory

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/sourcecache/backend"
	"github.com/unkn0wn-root/sourcecache/internal/match"
)

const maxSweep = 60 * time.Second

// Config tunes one backend instance. A zero MaxEntries/MaxSize means
// unbounded on that axis. A zero SweepInterval derives min(DefaultTTL/4, 60s);
// a negative one disables the sweep (lazy expiry still applies).
type Config struct {
	DefaultTTL    time.Duration
	MaxEntries    int64
	MaxSize       int64
	SweepInterval time.Duration
}

// Removals counts entries removed per cause since construction.
type Removals struct {
	Expired int64
	Evicted int64
	Deleted int64
}

type entry struct {
	key        string
	value      []byte
	createdAt  time.Time
	ttl        time.Duration
	size       int64
	hits       int64
	lastAccess time.Time
}

func (e *entry) expiredAt(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Backend is the exact-LRU in-memory store. Front of the list is the most
// recently used entry, back is the eviction candidate.
type Backend struct {
	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List

	defaultTTL time.Duration
	maxEntries int64
	maxSize    int64

	// Aggregates. totalSize/entry count are maintained incrementally and
	// always equal the sum over live entries; list and map mutations happen
	// before counter updates so a panic mid-operation can only leave
	// counters readable-stale, never a dangling list node.
	totalSize   int64
	hits        int64
	misses      int64
	hitTime     time.Duration // cumulative lookup time across hits
	removals    Removals
	lastCleared time.Time

	sweepEvery time.Duration
	ticker     *time.Ticker
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     bool

	// now is swappable for expiry tests.
	now func() time.Time
}

var _ backend.Backend = (*Backend)(nil)

func New(cfg Config) *Backend {
	b := &Backend{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		defaultTTL: cfg.DefaultTTL,
		maxEntries: cfg.MaxEntries,
		maxSize:    cfg.MaxSize,
		now:        time.Now,
	}
	if b.defaultTTL <= 0 {
		b.defaultTTL = 10 * time.Minute
	}

	b.sweepEvery = cfg.SweepInterval
	if b.sweepEvery == 0 {
		b.sweepEvery = b.defaultTTL / 4
		if b.sweepEvery > maxSweep {
			b.sweepEvery = maxSweep
		}
	}
	if b.sweepEvery > 0 {
		b.ticker = time.NewTicker(b.sweepEvery)
		b.stopCh = make(chan struct{})
		b.wg.Add(1)
		go b.sweepLoop()
	}
	return b
}

func (b *Backend) sweepLoop() {
	defer b.wg.Done()
	for {
		select {
		case now := <-b.ticker.C:
			b.mu.Lock()
			b.removeExpiredLocked(now)
			b.mu.Unlock()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	start := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	el, ok := b.items[key]
	if !ok {
		b.misses++
		return nil, false, nil
	}
	e := el.Value.(*entry)
	if e.expiredAt(start) {
		b.removeLocked(el, &b.removals.Expired)
		b.misses++
		return nil, false, nil
	}

	b.lru.MoveToFront(el)
	e.hits++
	e.lastAccess = b.now()
	b.hits++
	b.hitTime += b.now().Sub(start)
	return cloneBytes(e.value), true, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	now := b.now()
	val := cloneBytes(value)
	size := int64(len(val))

	b.mu.Lock()
	defer b.mu.Unlock()

	if el, ok := b.items[key]; ok {
		// Overwrite in place; counts as use.
		e := el.Value.(*entry)
		b.totalSize += size - e.size
		e.value = val
		e.size = size
		e.createdAt = now
		e.ttl = ttl
		b.lru.MoveToFront(el)
	} else {
		e := &entry{key: key, value: val, createdAt: now, ttl: ttl, size: size, lastAccess: now}
		el := b.lru.PushFront(e)
		b.items[key] = el
		b.totalSize += size
	}

	b.evictLocked(now)
	return nil
}

// evictLocked enforces capacity from the tail. Expired entries found at the
// tail count as expirations, not evictions.
func (b *Backend) evictLocked(now time.Time) {
	for b.overCapacityLocked() {
		el := b.lru.Back()
		if el == nil {
			return
		}
		if el.Value.(*entry).expiredAt(now) {
			b.removeLocked(el, &b.removals.Expired)
		} else {
			b.removeLocked(el, &b.removals.Evicted)
		}
	}
}

func (b *Backend) overCapacityLocked() bool {
	if b.maxEntries > 0 && int64(len(b.items)) > b.maxEntries {
		return true
	}
	return b.maxSize > 0 && b.totalSize > b.maxSize
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if el, ok := b.items[key]; ok {
		b.removeLocked(el, &b.removals.Deleted)
	}
	return nil
}

func (b *Backend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removals.Deleted += int64(len(b.items))
	b.items = make(map[string]*list.Element)
	b.lru.Init()
	b.totalSize = 0
	b.lastCleared = b.now()
	return nil
}

func (b *Backend) Has(_ context.Context, key string) (bool, error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[key]
	if !ok {
		return false, nil
	}
	if el.Value.(*entry).expiredAt(now) {
		b.removeLocked(el, &b.removals.Expired)
		return false, nil
	}
	return true, nil
}

func (b *Backend) Touch(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.items[key]
	if !ok {
		return false, nil
	}
	e := el.Value.(*entry)
	if e.expiredAt(now) {
		b.removeLocked(el, &b.removals.Expired)
		return false, nil
	}
	e.createdAt = now
	if ttl > 0 {
		e.ttl = ttl
	}
	e.lastAccess = now
	b.lru.MoveToFront(el)
	return true, nil
}

func (b *Backend) Increment(_ context.Context, key string, delta int64) (int64, error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	var cur int64
	ttl := b.defaultTTL
	if el, ok := b.items[key]; ok {
		e := el.Value.(*entry)
		if e.expiredAt(now) {
			b.removeLocked(el, &b.removals.Expired)
		} else {
			n, err := strconv.ParseInt(string(e.value), 10, 64)
			if err != nil {
				return 0, &backend.IncrementTypeError{Key: key, Err: err}
			}
			cur = n
			ttl = e.ttl
		}
	}

	next := cur + delta
	val := []byte(strconv.FormatInt(next, 10))
	size := int64(len(val))

	if el, ok := b.items[key]; ok {
		e := el.Value.(*entry)
		b.totalSize += size - e.size
		e.value = val
		e.size = size
		e.createdAt = now
		b.lru.MoveToFront(el)
	} else {
		e := &entry{key: key, value: val, createdAt: now, ttl: ttl, size: size, lastAccess: now}
		b.items[key] = b.lru.PushFront(e)
		b.totalSize += size
	}
	b.evictLocked(now)
	return next, nil
}

func (b *Backend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, _ := b.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out, nil
}

func (b *Backend) SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for k, v := range items {
		if err := b.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) DeleteMulti(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := b.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Keys(_ context.Context, pattern string) ([]string, error) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	for k, el := range b.items {
		if el.Value.(*entry).expiredAt(now) {
			continue
		}
		if match.Glob(pattern, k) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (b *Backend) InvalidatePattern(_ context.Context, pattern string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for k, el := range b.items {
		if match.Glob(pattern, k) {
			b.removeLocked(el, &b.removals.Deleted)
			removed++
		}
	}
	return removed, nil
}

func (b *Backend) Stats(_ context.Context) (backend.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := backend.Stats{
		HitCount:     b.hits,
		MissCount:    b.misses,
		HitRate:      backend.Rate(b.hits, b.misses),
		TotalEntries: int64(len(b.items)),
		TotalSize:    b.totalSize,
		LastCleared:  b.lastCleared,
	}
	if b.hits > 0 {
		s.AvgResponseTime = b.hitTime / time.Duration(b.hits)
	}
	return s, nil
}

// DetailedStats exposes removal-cause counters beyond the uniform contract.
func (b *Backend) DetailedStats() Removals {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removals
}

func (b *Backend) Size(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize, nil
}

func (b *Backend) EntryCount(_ context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.items)), nil
}

// Close stops the sweep goroutine. Safe to call more than once.
func (b *Backend) Close(_ context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.stopCh != nil {
		close(b.stopCh)
		b.ticker.Stop()
		b.wg.Wait()
	}
	return nil
}

// removeLocked unlinks el from both structures and bumps the given cause
// counter. Deleting a key that is already gone is a no-op at the call sites
// (they only pass elements read under the same lock).
func (b *Backend) removeLocked(el *list.Element, cause *int64) {
	e := el.Value.(*entry)
	delete(b.items, e.key)
	b.lru.Remove(el)
	b.totalSize -= e.size
	*cause++
}

func (b *Backend) removeExpiredLocked(now time.Time) int {
	removed := 0
	for _, el := range b.items {
		if el.Value.(*entry).expiredAt(now) {
			b.removeLocked(el, &b.removals.Expired)
			removed++
		}
	}
	return removed
}

func cloneBytes(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
