package sourcecache

import (
	"github.com/unkn0wn-root/sourcecache/codec"
)

// SearchCache memoizes unified-search results per query, user and filter
// set.
type SearchCache[V any] struct {
	*Cache[V]
}

func NewSearchCache[V any](m *Manager, c codec.Codec[V]) *SearchCache[V] {
	return &SearchCache[V]{Cache: NewCache[V](m, SourceUnifiedSearch, c)}
}

// PreprocessCache memoizes preprocessing output keyed the same way; it only
// differs from search in namespace and TTL profile.
type PreprocessCache[V any] struct {
	*Cache[V]
}

func NewPreprocessCache[V any](m *Manager, c codec.Codec[V]) *PreprocessCache[V] {
	return &PreprocessCache[V]{Cache: NewCache[V](m, SourcePreprocessing, c)}
}
