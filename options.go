package ragdex

import (
	"context"

	"go.uber.org/zap"
)

// EmbeddingResult is the output of a single embedding call.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Embedder vectorizes text. Implement it to plug a custom provider into
// the SDK instead of the built-in OpenAI-compatible one.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// FieldFormat declares how a relational metadata field is rendered.
type FieldFormat struct {
	Name   string
	Detail string
}

// Schema declares one indexable content type.
type Schema struct {
	Type           string
	APIPath        string
	Label          string
	Watched        bool
	TextFields     []string
	MetadataFields []string
	Formats        map[string]FieldFormat
}

// Option configures the Client.
type Option func(*clientConfig)

type clientConfig struct {
	addrs    []string
	password string

	embedder    Embedder
	openaiKey   string
	openaiURL   string
	openaiModel string

	analyzerURL   string
	analyzerModel string

	cmsURL   string
	cmsToken string

	schemas          []Schema
	vectorDimensions int

	logger *zap.Logger
}

// WithRedis configures the client to connect to a Redis instance.
func WithRedis(addr, password string) Option {
	return func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	}
}

// WithSchemas declares the indexable content types. Required.
func WithSchemas(schemas ...Schema) Option {
	return func(c *clientConfig) {
		c.schemas = schemas
	}
}

// WithOpenAI configures the built-in OpenAI-compatible embedding provider.
// Embeddings are cached in the database keyed by model and text.
func WithOpenAI(apiKey, baseURL, model string) Option {
	return func(c *clientConfig) {
		c.openaiKey = apiKey
		c.openaiURL = baseURL
		c.openaiModel = model
	}
}

// WithEmbedder sets a custom text embedding provider. Takes precedence
// over WithOpenAI.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithVectorDimensions sets the embedding dimension. Defaults to 1536.
func WithVectorDimensions(dim int) Option {
	return func(c *clientConfig) {
		c.vectorDimensions = dim
	}
}

// WithAnalyzer configures the local relevance model. Without it every
// utterance is classified by the deterministic keyword fallback.
func WithAnalyzer(baseURL, model string) Option {
	return func(c *clientConfig) {
		c.analyzerURL = baseURL
		c.analyzerModel = model
	}
}

// WithContentStore configures the CMS client. Required for sync
// operations; retrieval works without it.
func WithContentStore(baseURL, token string) Option {
	return func(c *clientConfig) {
		c.cmsURL = baseURL
		c.cmsToken = token
	}
}

// WithLogger enables structured logging for SDK operations.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}
