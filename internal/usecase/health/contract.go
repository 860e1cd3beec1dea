package health

import "context"

// DBPinger checks vector store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// AnalyzerProber checks local relevance-model availability.
type AnalyzerProber interface {
	Ping(ctx context.Context) error
}
