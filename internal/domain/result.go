package domain

// SearchResult is a single similarity hit, ordered by ascending distance
// (most similar first).
type SearchResult struct {
	DocumentID string
	Text       string
	Metadata   map[string]string
	Distance   float64
}

// Similarity converts the cosine distance into a similarity score.
// Valid only because the backing index uses cosine distance; the conversion
// mirrors the store's contract, it is not computed locally from vectors.
func (r SearchResult) Similarity() float64 {
	return 1 - r.Distance
}

// SyncReport aggregates the outcome of a batch sync pass.
type SyncReport struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
	Total  int `json:"total"`
}

// Add merges another report into this one.
func (r *SyncReport) Add(other SyncReport) {
	r.Synced += other.Synced
	r.Errors += other.Errors
	r.Total += other.Total
}

// ReconcileReport summarizes an orphan-detection pass over the index.
type ReconcileReport struct {
	Checked  int `json:"checked"`
	Orphans  int `json:"orphans"`
	Removed  int `json:"removed"`
	Failures int `json:"failures"`
}
