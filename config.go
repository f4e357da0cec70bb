package sourcecache

import "time"

// Kind selects a backend implementation. Backend selection is explicit
// tagged-variant dispatch on this value; a kind that cannot be built (no
// redis client, no sqlite path, store init failure) resolves to the
// in-memory backend with a logged warning instead of failing the caller.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindSQLite   Kind = "sqlite"
	KindRedis    Kind = "redis"
	KindBigCache Kind = "bigcache"
)

func (k Kind) valid() bool {
	switch k {
	case KindMemory, KindSQLite, KindRedis, KindBigCache:
		return true
	}
	return false
}

// Config is one source's backend configuration. It is immutable once a
// backend instance is built from it; UpdateConfig replaces the instance.
type Config struct {
	Kind       Kind
	DefaultTTL time.Duration
	MaxEntries int64
	MaxSize    int64
	// SweepInterval of 0 derives min(DefaultTTL/4, 60s); negative disables
	// the background sweep.
	SweepInterval time.Duration
	// MetricsEnabled gates this source's participation in GlobalStats and
	// Health aggregation; disabled sources report zeroed stats.
	MetricsEnabled bool
}

const defaultMaxSize = 64 << 20 // 64 MiB per source

// DefaultConfig returns the static defaults for a source, with TTLs tuned to
// data volatility. Conversation history and user preferences live on the
// durable backend so they survive a process restart; everything else is
// in-memory.
func DefaultConfig(s Source) Config {
	c := Config{
		Kind:           KindMemory,
		MaxEntries:     1000,
		MaxSize:        defaultMaxSize,
		MetricsEnabled: true,
	}
	switch s {
	case SourceFinancialAgg:
		c.DefaultTTL = 5 * time.Minute
		c.MaxEntries = 500
	case SourceUnifiedSearch:
		c.DefaultTTL = 15 * time.Minute
	case SourceReranking:
		c.DefaultTTL = 30 * time.Minute
	case SourcePreprocessing:
		c.DefaultTTL = time.Hour
		c.MaxEntries = 2000
	case SourceUIState:
		c.DefaultTTL = time.Hour
		c.MaxEntries = 500
	case SourceEmbeddingGeneration:
		c.DefaultTTL = 24 * time.Hour
		c.MaxEntries = 5000
	case SourceUserPreferences:
		c.DefaultTTL = 24 * time.Hour
		c.Kind = KindSQLite
	case SourceConversationHistory:
		c.DefaultTTL = 7 * 24 * time.Hour
		c.Kind = KindSQLite
		c.MaxEntries = 2000
	default:
		c.DefaultTTL = 10 * time.Minute
	}
	return c
}

// ConfigPatch is a partial config for hot updates; nil fields keep the
// current value.
type ConfigPatch struct {
	Kind           *Kind
	DefaultTTL     *time.Duration
	MaxEntries     *int64
	MaxSize        *int64
	SweepInterval  *time.Duration
	MetricsEnabled *bool
}

func (c Config) merge(p ConfigPatch) Config {
	if p.Kind != nil {
		c.Kind = *p.Kind
	}
	if p.DefaultTTL != nil {
		c.DefaultTTL = *p.DefaultTTL
	}
	if p.MaxEntries != nil {
		c.MaxEntries = *p.MaxEntries
	}
	if p.MaxSize != nil {
		c.MaxSize = *p.MaxSize
	}
	if p.SweepInterval != nil {
		c.SweepInterval = *p.SweepInterval
	}
	if p.MetricsEnabled != nil {
		c.MetricsEnabled = *p.MetricsEnabled
	}
	return c
}
