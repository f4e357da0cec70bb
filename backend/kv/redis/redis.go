// Package redis implements a kv.Store on go-redis. Keys are prefixed with
// the namespace so Len/Size/Clear stay scoped when several namespaces share
// one logical database. Expiry is native (per-key TTL).
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/sourcecache/backend/kv"
)

var ErrNilClient = errors.New("redis store: nil client")

type Store struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ kv.Store = (*Store)(nil)

type Config struct {
	Client    goredis.UniversalClient
	Namespace string
	// CloseClient should be true only when this store exclusively owns the
	// client.
	CloseClient bool
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{
		rdb:         cfg.Client,
		prefix:      cfg.Namespace + ":",
		closeClient: cfg.CloseClient,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis store: get: %w", err)
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0 // non-positive => no expiry, same convention as the server
	}
	if err := s.rdb.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis store: set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis store: del: %w", err)
	}
	return nil
}

// Keys walks the namespace with SCAN; MATCH shares the '*' glob grammar the
// backends use, so server-side filtering is exact.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(s.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis store: scan: %w", err)
	}
	return out, nil
}

func (s *Store) Len(ctx context.Context) (int64, error) {
	keys, err := s.Keys(ctx, "*")
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Size sums value lengths with pipelined STRLEN over one SCAN pass.
func (s *Store) Size(ctx context.Context) (int64, error) {
	keys, err := s.Keys(ctx, "*")
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	cmds := make([]*goredis.IntCmd, len(keys))
	_, err = s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.StrLen(ctx, s.prefix+k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis store: size: %w", err)
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx, "*")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.rdb.Del(ctx, s.prefix+k).Err(); err != nil {
			return fmt.Errorf("redis store: clear: %w", err)
		}
	}
	return nil
}

// Close releases the client only when this store owns it. Repeated calls
// are no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
