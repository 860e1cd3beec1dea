package db

// TagFilter restricts a search to documents whose tag field equals Value.
// Zero value means no filtering.
type TagFilter struct {
	Field string
	Value string
}

// IsZero reports whether the filter is unset.
func (f TagFilter) IsZero() bool { return f.Field == "" }

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	Vector       []float32
	K            int
	Filter       TagFilter
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit. Score carries the raw
// __vector_score for KNN queries (cosine distance, ascending = closer).
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
