// Package backend defines the storage contract every cache backend satisfies.
//
// Backends are byte stores: value typing and serialization live above them in
// the codec layer. Implementations MUST be byte-for-byte transparent - Get
// returns exactly the []byte previously passed to Set for the same key - and
// MUST treat an expired entry as absent even before any sweep has removed it.
package backend

import (
	"context"
	"fmt"
	"time"
)

// IncrementTypeError reports an Increment against a value that does not hold
// a decimal int64.
type IncrementTypeError struct {
	Key string
	Err error
}

func (e *IncrementTypeError) Error() string {
	return fmt.Sprintf("backend: increment on non-numeric value at %q: %v", e.Key, e.Err)
}

func (e *IncrementTypeError) Unwrap() error { return e.Err }

// Stats is a point-in-time snapshot of one backend's counters.
//
// HitRate is HitCount / (HitCount + MissCount) when the denominator is
// nonzero, else 0. TotalEntries and TotalSize cover live entries only.
// AvgResponseTime is a running average over hit lookups; misses short-circuit
// and are not timed.
type Stats struct {
	HitCount        int64
	MissCount       int64
	HitRate         float64
	TotalEntries    int64
	TotalSize       int64
	AvgResponseTime time.Duration
	LastCleared     time.Time // zero if never cleared
}

// Rate computes a hit rate from raw counters.
func Rate(hits, misses int64) float64 {
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Backend is the uniform cache contract. All methods are safe for concurrent
// use.
//
// Semantics every implementation must honor:
//   - Get on a missing or expired key is (nil, false, nil), never an error.
//   - Has returns false for an expired entry and lazily evicts it.
//   - Touch refreshes TTL and recency without changing the stored value.
//   - Set with ttl <= 0 applies the backend's configured default TTL.
type Backend interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	Has(ctx context.Context, key string) (bool, error)
	Touch(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Increment atomically adds delta to the decimal int64 stored at key,
	// creating it from zero when absent, and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMulti(ctx context.Context, items map[string][]byte, ttl time.Duration) error
	DeleteMulti(ctx context.Context, keys []string) error

	// Keys returns all live keys matching the glob pattern ('*' wildcard).
	Keys(ctx context.Context, pattern string) ([]string, error)
	// InvalidatePattern deletes every key matching pattern and reports how
	// many were removed.
	InvalidatePattern(ctx context.Context, pattern string) (int, error)

	Stats(ctx context.Context) (Stats, error)
	Size(ctx context.Context) (int64, error)
	EntryCount(ctx context.Context) (int64, error)

	Close(ctx context.Context) error
}
