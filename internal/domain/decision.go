package domain

// FallbackConfidence is the fixed confidence assigned to heuristic fallback
// decisions. Distinguishable from model confidences so the audit trail shows
// how often the fallback fired.
const FallbackConfidence = 0.3

// RelevanceDecision is the per-query outcome of relevance analysis.
// Ephemeral, never persisted.
type RelevanceDecision struct {
	ShouldRetrieve bool
	Confidence     float64
	Keywords       []string
	Reasoning      string
}

// IsFallback reports whether the decision came from the deterministic
// keyword heuristic rather than the relevance model.
func (d RelevanceDecision) IsFallback() bool {
	return d.Confidence == FallbackConfidence
}
