// Package sqlite implements a durable kv.Store on modernc.org/sqlite.
// Entries survive process restarts; expiry is enforced at read time and
// swept by DeleteExpired. Multiple namespaces share one database file, one
// Store per namespace.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/sourcecache/backend/kv"
	"github.com/unkn0wn-root/sourcecache/internal/match"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	ns TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	created_at_ns INTEGER NOT NULL,
	ttl_ns INTEGER NOT NULL,
	PRIMARY KEY (ns, key)
);
`

// Open opens (or creates) the cache database and runs migrations. The
// returned handle is shared by every namespace Store; the caller owns it.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return db, nil
}

// Store reads and writes one namespace. It does not own the *sql.DB.
type Store struct {
	db *sql.DB
	ns string
}

var _ kv.Store = (*Store)(nil)
var _ kv.Sweepable = (*Store)(nil)

func New(db *sql.DB, namespace string) *Store {
	return &Store{db: db, ns: namespace}
}

// liveCond selects rows whose TTL has not elapsed. Callers append the now
// argument (unix nanos).
const liveCond = `created_at_ns + ttl_ns > ?`

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var createdAt, ttl int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, created_at_ns, ttl_ns FROM cache_entries WHERE ns = ? AND key = ?`,
		s.ns, key,
	).Scan(&value, &createdAt, &ttl)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: get: %w", err)
	}
	if time.Now().UnixNano() >= createdAt+ttl {
		// Lazy eviction: the row is dead, remove it on discovery.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE ns = ? AND key = ?`, s.ns, key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (ns, key, value, created_at_ns, ttl_ns) VALUES (?, ?, ?, ?, ?)`,
		s.ns, key, value, time.Now().UnixNano(), int64(ttl),
	)
	if err != nil {
		return fmt.Errorf("sqlite: set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE ns = ? AND key = ?`, s.ns, key)
	if err != nil {
		return fmt.Errorf("sqlite: delete: %w", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM cache_entries WHERE ns = ? AND `+liveCond,
		s.ns, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite: keys scan: %w", err)
		}
		if match.Glob(pattern, k) {
			out = append(out, k)
		}
	}
	return out, rows.Err()
}

func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE ns = ? AND `+liveCond,
		s.ns, time.Now().UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: len: %w", err)
	}
	return n, nil
}

func (s *Store) Size(ctx context.Context) (int64, error) {
	var sz sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(LENGTH(value)) FROM cache_entries WHERE ns = ? AND `+liveCond,
		s.ns, time.Now().UnixNano(),
	).Scan(&sz)
	if err != nil {
		return 0, fmt.Errorf("sqlite: size: %w", err)
	}
	return sz.Int64, nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE ns = ?`, s.ns)
	if err != nil {
		return fmt.Errorf("sqlite: clear: %w", err)
	}
	return nil
}

// DeleteExpired prunes dead rows in this namespace so cold keys that are
// never re-read cannot grow the file without bound.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE ns = ? AND created_at_ns + ttl_ns <= ?`,
		s.ns, time.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close is a no-op: the *sql.DB is shared across namespaces and owned by
// whoever opened it.
func (s *Store) Close(context.Context) error { return nil }
