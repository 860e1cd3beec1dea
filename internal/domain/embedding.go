package domain

import "context"

// EmbeddingResult is the output of a single embedding call.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder vectorizes text into a fixed-dimension embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker is implemented by components that can verify their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
