package sourcecache

// Source is a cache namespace: every key, config and stat belongs to exactly
// one source, so sources never collide or share eviction budgets. The set is
// fixed; unknown sources are a configuration bug, not a runtime input.
type Source string

const (
	SourcePreprocessing       Source = "preprocessing"
	SourceUnifiedSearch       Source = "unified-search"
	SourceFinancialAgg        Source = "financial-aggregation"
	SourceEmbeddingGeneration Source = "embedding-generation"
	SourceReranking           Source = "reranking"
	SourceUIState             Source = "ui-state"
	SourceConversationHistory Source = "conversation-history"
	SourceUserPreferences     Source = "user-preferences"
)

// Sources lists every known source in a stable order.
var Sources = []Source{
	SourcePreprocessing,
	SourceUnifiedSearch,
	SourceFinancialAgg,
	SourceEmbeddingGeneration,
	SourceReranking,
	SourceUIState,
	SourceConversationHistory,
	SourceUserPreferences,
}

func (s Source) Valid() bool {
	for _, k := range Sources {
		if s == k {
			return true
		}
	}
	return false
}
