// Package kv adapts a minimal key-value Store into the full backend
// contract. Hit/miss/latency accounting lives here so stores stay dumb;
// batch, touch and increment operations are composed from the Store's
// single-key primitives.
package kv

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/sourcecache/backend"
)

// Store is the narrow contract a concrete store must provide. Get and Keys
// must never surface expired entries; how expiry is enforced (native TTL,
// read-time check, global window) is the store's business.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Len(ctx context.Context) (int64, error)
	Size(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// Sweepable is implemented by stores that need periodic pruning of expired
// rows (e.g. sqlite). Stores with native expiry simply don't implement it.
type Sweepable interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Config tunes the adapter. SweepInterval only matters when the store is
// Sweepable; zero derives min(DefaultTTL/4, 60s), negative disables.
type Config struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

const maxSweep = 60 * time.Second

// Backend wraps a Store into a backend.Backend.
type Backend struct {
	store      Store
	defaultTTL time.Duration

	hits     atomic.Int64
	misses   atomic.Int64
	hitNanos atomic.Int64

	mu          sync.Mutex
	lastCleared time.Time

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ backend.Backend = (*Backend)(nil)

func New(store Store, cfg Config) *Backend {
	b := &Backend{store: store, defaultTTL: cfg.DefaultTTL}
	if b.defaultTTL <= 0 {
		b.defaultTTL = 10 * time.Minute
	}

	if sw, ok := store.(Sweepable); ok {
		every := cfg.SweepInterval
		if every == 0 {
			every = b.defaultTTL / 4
			if every > maxSweep {
				every = maxSweep
			}
		}
		if every > 0 {
			b.ticker = time.NewTicker(every)
			b.stopCh = make(chan struct{})
			b.wg.Add(1)
			go b.sweepLoop(sw)
		}
	}
	return b
}

func (b *Backend) sweepLoop(sw Sweepable) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_, _ = sw.DeleteExpired(ctx)
			cancel()
		case <-b.stopCh:
			return
		}
	}
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, ok, err := b.store.Get(ctx, key)
	if err != nil {
		// An erroring read is still a miss from the caller's perspective.
		b.misses.Add(1)
		return nil, false, err
	}
	if !ok {
		b.misses.Add(1)
		return nil, false, nil
	}
	b.hits.Add(1)
	b.hitNanos.Add(int64(time.Since(start)))
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	return b.store.Set(ctx, key, value, ttl)
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.store.Delete(ctx, key)
}

func (b *Backend) Clear(ctx context.Context) error {
	if err := b.store.Clear(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.lastCleared = time.Now()
	b.mu.Unlock()
	return nil
}

func (b *Backend) Has(ctx context.Context, key string) (bool, error) {
	// Store.Get hides (and may prune) expired entries; no hit/miss recorded
	// for a bare existence probe.
	_, ok, err := b.store.Get(ctx, key)
	return ok, err
}

func (b *Backend) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	v, ok, err := b.store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	if err := b.store.Set(ctx, key, v, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Backend) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	v, ok, err := b.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	var cur int64
	if ok {
		n, perr := strconv.ParseInt(string(v), 10, 64)
		if perr != nil {
			return 0, &backend.IncrementTypeError{Key: key, Err: perr}
		}
		cur = n
	}
	next := cur + delta
	if err := b.store.Set(ctx, key, []byte(strconv.FormatInt(next, 10)), b.defaultTTL); err != nil {
		return 0, err
	}
	return next, nil
}

func (b *Backend) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := b.Get(ctx, k)
		if err != nil {
			return out, err
		}
		if ok {
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
		if err := b.store.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	return b.store.Keys(ctx, pattern)
}

func (b *Backend) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := b.store.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		if err := b.store.Delete(ctx, k); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (b *Backend) Stats(ctx context.Context) (backend.Stats, error) {
	n, err := b.store.Len(ctx)
	if err != nil {
		return backend.Stats{}, err
	}
	sz, err := b.store.Size(ctx)
	if err != nil {
		return backend.Stats{}, err
	}

	hits, misses := b.hits.Load(), b.misses.Load()
	s := backend.Stats{
		HitCount:     hits,
		MissCount:    misses,
		HitRate:      backend.Rate(hits, misses),
		TotalEntries: n,
		TotalSize:    sz,
	}
	if hits > 0 {
		s.AvgResponseTime = time.Duration(b.hitNanos.Load() / hits)
	}
	b.mu.Lock()
	s.LastCleared = b.lastCleared
	b.mu.Unlock()
	return s, nil
}

func (b *Backend) Size(ctx context.Context) (int64, error) {
	return b.store.Size(ctx)
}

func (b *Backend) EntryCount(ctx context.Context) (int64, error) {
	return b.store.Len(ctx)
}

func (b *Backend) Close(ctx context.Context) error {
	if b.closed.Swap(true) {
		return nil
	}
	if b.stopCh != nil {
		close(b.stopCh)
		b.ticker.Stop()
		b.wg.Wait()
	}
	return b.store.Close(ctx)
}
