package sourcecache

import (
	"context"
	"database/sql"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/sourcecache/backend"
	"github.com/unkn0wn-root/sourcecache/backend/kv"
	bcstore "github.com/unkn0wn-root/sourcecache/backend/kv/bigcache"
	redisstore "github.com/unkn0wn-root/sourcecache/backend/kv/redis"
	sqlitestore "github.com/unkn0wn-root/sourcecache/backend/kv/sqlite"
	"github.com/unkn0wn-root/sourcecache/backend/memory"
	"github.com/unkn0wn-root/sourcecache/keygen"
)

// Stats is re-exported so callers rarely need the backend package directly.
type Stats = backend.Stats

// Health summarizes all sources' counters into one go/no-go signal.
type Health struct {
	Healthy     bool
	HitRate     float64
	TotalHits   int64
	TotalMisses int64
	// Sources is the number of instantiated backends that answered.
	Sources int
}

// Options configure a Manager. Only set what the deployment provides: a
// missing RedisClient or SQLitePath downgrades the affected kinds to memory
// with a warning rather than failing construction.
type Options struct {
	Logger Logger

	// SQLitePath locates the durable cache database. Empty disables the
	// sqlite kind.
	SQLitePath string

	// RedisClient, when set, enables the redis kind. The manager never
	// closes it.
	RedisClient goredis.UniversalClient

	// Configs overrides per-source defaults. Sources absent here use
	// DefaultConfig.
	Configs map[Source]Config

	// KeyVersion is stamped into every generated key; bump it to orphan all
	// previously written entries at once. Empty means "v1".
	KeyVersion string

	// Disabled turns every cache operation into a miss/no-op.
	Disabled bool
}

// Manager owns one backend instance per source, built lazily from that
// source's config. It is an explicitly constructed registry passed by
// reference - there is no package-level singleton, so tests can build
// isolated, disposable instances.
type Manager struct {
	// mu guards configs, backends, db and closed. Backend instances are
	// internally synchronized; operations on them happen outside mu.
	mu       sync.Mutex
	log      Logger
	opts     Options
	gen      *keygen.Generator
	configs  map[Source]Config
	backends map[Source]backend.Backend
	db       *sql.DB // lazily opened sqlite handle, shared across sources
	closed   bool
}

// NewManager validates opts and builds a registry. No backends are
// constructed until first use.
func NewManager(opts Options) (*Manager, error) {
	m := &Manager{
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		opts:     opts,
		configs:  make(map[Source]Config, len(Sources)),
		backends: make(map[Source]backend.Backend),
	}
	for _, s := range Sources {
		m.configs[s] = DefaultConfig(s)
	}
	for s, c := range opts.Configs {
		if !s.Valid() {
			return nil, &ConfigError{Source: s, Kind: c.Kind, Reason: "unknown source"}
		}
		if !c.Kind.valid() {
			return nil, &ConfigError{Source: s, Kind: c.Kind, Reason: "unknown backend kind"}
		}
		m.configs[s] = c
	}
	m.gen = keygen.New(coalesce(opts.KeyVersion, "v1"), func(src string) time.Duration {
		return m.Config(Source(src)).DefaultTTL
	})
	return m, nil
}

func (m *Manager) Enabled() bool { return !m.opts.Disabled }

// KeyGen exposes the manager's key generator, configured with this
// manager's key version and per-source TTLs.
func (m *Manager) KeyGen() *keygen.Generator { return m.gen }

// Config returns the current configuration for source.
func (m *Manager) Config(s Source) Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[s]
}

// Backend returns the backend instance for source, building and memoizing
// it on first use.
func (m *Manager) Backend(ctx context.Context, s Source) (backend.Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if !s.Valid() {
		return nil, &ConfigError{Source: s, Reason: "unknown source"}
	}
	if b, ok := m.backends[s]; ok {
		return b, nil
	}
	b, err := m.buildLocked(s, m.configs[s])
	if err != nil {
		return nil, err
	}
	m.backends[s] = b
	return b, nil
}

// buildLocked constructs a backend for cfg.Kind. Unavailable or unknown
// kinds fall back to memory with a warning; the caller asked for a cache,
// and a slower cache beats none.
func (m *Manager) buildLocked(s Source, cfg Config) (backend.Backend, error) {
	switch cfg.Kind {
	case KindMemory, "":
		return m.memoryBackend(cfg), nil

	case KindSQLite:
		if m.opts.SQLitePath == "" {
			m.warnFallback(s, cfg.Kind, "no sqlite path configured")
			return m.memoryBackend(cfg), nil
		}
		if m.db == nil {
			db, err := sqlitestore.Open(m.opts.SQLitePath)
			if err != nil {
				m.warnFallback(s, cfg.Kind, err.Error())
				return m.memoryBackend(cfg), nil
			}
			m.db = db
		}
		st := sqlitestore.New(m.db, string(s))
		return kv.New(st, kv.Config{DefaultTTL: cfg.DefaultTTL, SweepInterval: cfg.SweepInterval}), nil

	case KindRedis:
		if m.opts.RedisClient == nil {
			m.warnFallback(s, cfg.Kind, "no redis client configured")
			return m.memoryBackend(cfg), nil
		}
		st, err := redisstore.New(redisstore.Config{Client: m.opts.RedisClient, Namespace: string(s)})
		if err != nil {
			m.warnFallback(s, cfg.Kind, err.Error())
			return m.memoryBackend(cfg), nil
		}
		return kv.New(st, kv.Config{DefaultTTL: cfg.DefaultTTL, SweepInterval: cfg.SweepInterval}), nil

	case KindBigCache:
		st, err := bcstore.New(bcstore.Config{
			LifeWindow:         cfg.DefaultTTL,
			HardMaxCacheSizeMB: int(cfg.MaxSize >> 20),
		})
		if err != nil {
			m.warnFallback(s, cfg.Kind, err.Error())
			return m.memoryBackend(cfg), nil
		}
		return kv.New(st, kv.Config{DefaultTTL: cfg.DefaultTTL, SweepInterval: cfg.SweepInterval}), nil

	default:
		m.warnFallback(s, cfg.Kind, "kind not implemented")
		return m.memoryBackend(cfg), nil
	}
}

func (m *Manager) memoryBackend(cfg Config) backend.Backend {
	return memory.New(memory.Config{
		DefaultTTL:    cfg.DefaultTTL,
		MaxEntries:    cfg.MaxEntries,
		MaxSize:       cfg.MaxSize,
		SweepInterval: cfg.SweepInterval,
	})
}

func (m *Manager) warnFallback(s Source, k Kind, reason string) {
	m.log.Warn("backend unavailable, falling back to in-memory", Fields{
		"source": string(s),
		"kind":   string(k),
		"reason": reason,
	})
}

// UpdateConfig merges patch into source's config, then drains (clears and
// closes) any existing backend instance so the next access rebuilds from the
// new config. No two live instances for one source ever coexist.
func (m *Manager) UpdateConfig(ctx context.Context, s Source, patch ConfigPatch) error {
	if !s.Valid() {
		return &ConfigError{Source: s, Reason: "unknown source"}
	}
	if patch.Kind != nil && !patch.Kind.valid() {
		return &ConfigError{Source: s, Kind: *patch.Kind, Reason: "unknown backend kind"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	oldKind := m.configs[s].Kind
	m.configs[s] = m.configs[s].merge(patch)

	old, ok := m.backends[s]
	if !ok {
		return nil
	}
	delete(m.backends, s)
	if err := old.Clear(ctx); err != nil {
		m.log.Warn("drain: clear failed on old backend", Fields{"source": string(s), "err": err})
	}
	if err := old.Close(ctx); err != nil {
		// The failure belongs to the instance being drained, built under the
		// previous kind.
		return &BackendUnavailableError{Source: s, Kind: oldKind, Err: err}
	}
	m.log.Info("backend reconfigured", Fields{"source": string(s), "kind": string(m.configs[s].Kind)})
	return nil
}

// ClearAll clears every instantiated backend. Sources never touched stay
// untouched (they have nothing to clear).
func (m *Manager) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	backends := make(map[Source]backend.Backend, len(m.backends))
	for s, b := range m.backends {
		backends[s] = b
	}
	m.mu.Unlock()

	var firstErr error
	for s, b := range backends {
		if err := b.Clear(ctx); err != nil {
			m.log.Error("clear failed", Fields{"source": string(s), "err": err})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// GlobalStats reports per-source stats for every known source. Sources
// without a live backend, with metrics disabled, or whose stats call fails
// report a zeroed Stats rather than aborting the aggregation.
func (m *Manager) GlobalStats(ctx context.Context) map[Source]Stats {
	m.mu.Lock()
	backends := make(map[Source]backend.Backend, len(m.backends))
	for s, b := range m.backends {
		backends[s] = b
	}
	configs := make(map[Source]Config, len(m.configs))
	for s, c := range m.configs {
		configs[s] = c
	}
	m.mu.Unlock()

	out := make(map[Source]Stats, len(Sources))
	for _, s := range Sources {
		out[s] = Stats{}
		b, ok := backends[s]
		if !ok || !configs[s].MetricsEnabled {
			continue
		}
		st, err := b.Stats(ctx)
		if err != nil {
			m.log.Warn("stats unavailable, reporting zeroed", Fields{"source": string(s), "err": err})
			continue
		}
		out[s] = st
	}
	return out
}

// Health folds every instantiated source's counters into one hit rate and a
// boolean flag. Unhealthy means at least one live backend failed to answer.
func (m *Manager) Health(ctx context.Context) Health {
	m.mu.Lock()
	backends := make(map[Source]backend.Backend, len(m.backends))
	for s, b := range m.backends {
		backends[s] = b
	}
	m.mu.Unlock()

	h := Health{Healthy: true}
	for s, b := range backends {
		st, err := b.Stats(ctx)
		if err != nil {
			m.log.Warn("health: stats call failed", Fields{"source": string(s), "err": err})
			h.Healthy = false
			continue
		}
		h.TotalHits += st.HitCount
		h.TotalMisses += st.MissCount
		h.Sources++
	}
	h.HitRate = backend.Rate(h.TotalHits, h.TotalMisses)
	return h
}

// Close releases every backend and the shared sqlite handle. The manager is
// unusable afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for s, b := range m.backends {
		if err := b.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
			m.log.Error("backend close failed", Fields{"source": string(s), "err": err})
		}
	}
	m.backends = nil
	if m.db != nil {
		if err := m.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.db = nil
	}
	return firstErr
}
