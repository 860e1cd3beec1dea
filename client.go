// Package ragdex is the embedded SDK: it wires the retrieval pipeline
// in-process for Go callers that do not want to go through the HTTP API.
package ragdex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/db"
	dbRedis "github.com/folio-cloud/ragdex/internal/db/redis"
	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
	"github.com/folio-cloud/ragdex/internal/formatter"
	"github.com/folio-cloud/ragdex/internal/metrics"
	"github.com/folio-cloud/ragdex/internal/repository/embcache"
	indexrepo "github.com/folio-cloud/ragdex/internal/repository/index"
	"github.com/folio-cloud/ragdex/internal/transport/cms"
	"github.com/folio-cloud/ragdex/internal/transport/ollama"
	openaiEmb "github.com/folio-cloud/ragdex/internal/transport/openai"
	analyzeruc "github.com/folio-cloud/ragdex/internal/usecase/analyzer"
	retrievaluc "github.com/folio-cloud/ragdex/internal/usecase/retrieval"
	synceruc "github.com/folio-cloud/ragdex/internal/usecase/syncer"
)

const defaultReadinessTimeout = 10 * time.Second

// Client is the ragdex SDK entry point.
type Client struct {
	store        db.Store
	index        *indexrepo.Repo
	embedder     domain.Embedder
	syncSvc      *synceruc.Service
	retrievalSvc *retrievaluc.Service
}

// analyzerLLM matches what the analyzer service consumes.
type analyzerLLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) error
}

// contentStore matches what the synchronizer consumes.
type contentStore interface {
	FindOne(ctx context.Context, sc schema.Schema, id string) (domain.ContentRecord, error)
	FindAll(ctx context.Context, sc schema.Schema) ([]domain.ContentRecord, error)
}

// New creates a ragdex Client and connects to the database.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		vectorDimensions: 1536,
		logger:           zap.NewNop(),
	}
	for _, o := range opts {
		o(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("ragdex: database address required (use WithRedis)")
	}
	if len(cfg.schemas) == 0 {
		return nil, errors.New("ragdex: at least one schema required (use WithSchemas)")
	}

	schemas, err := toSchemaSet(cfg.schemas)
	if err != nil {
		return nil, fmt.Errorf("ragdex: %w", err)
	}

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.addrs,
		Password: cfg.password,
	})
	if err != nil {
		return nil, fmt.Errorf("ragdex: create redis store: %w", err)
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("ragdex: database not ready: %w", err)
	}

	return wireClient(store, cfg, schemas)
}

func wireClient(store db.Store, cfg *clientConfig, schemas schema.Set) (*Client, error) {
	embedder := buildEmbedder(store, cfg)
	indexRepo := indexrepo.New(store, cfg.vectorDimensions)

	var llm analyzerLLM = noopLLM{}
	if cfg.analyzerURL != "" {
		llm = ollama.NewClient(&ollama.Config{
			BaseURL:      cfg.analyzerURL,
			Model:        cfg.analyzerModel,
			Timeout:      10 * time.Second,
			ProbeTimeout: 500 * time.Millisecond,
			Logger:       cfg.logger,
		})
	}
	analyzerSvc := analyzeruc.NewService(llm, cfg.logger)

	var content contentStore = noopContent{}
	if cfg.cmsURL != "" {
		content = cms.NewClient(&cms.Config{
			BaseURL: cfg.cmsURL,
			Token:   cfg.cmsToken,
			Timeout: 15 * time.Second,
			Logger:  cfg.logger,
		})
	}

	fmtr := formatter.New(cfg.logger)
	syncSvc := synceruc.NewService(content, indexRepo, fmtr, embedder, store, schemas, cfg.logger)
	retrievalSvc := retrievaluc.NewService(analyzerSvc, embedder, indexRepo, schemas, cfg.logger)

	return &Client{
		store:        store,
		index:        indexRepo,
		embedder:     embedder,
		syncSvc:      syncSvc,
		retrievalSvc: retrievalSvc,
	}, nil
}

func buildEmbedder(store db.Store, cfg *clientConfig) domain.Embedder {
	if cfg.embedder != nil {
		return &embedderAdapter{inner: cfg.embedder}
	}
	if cfg.openaiModel != "" {
		base := openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.openaiKey,
			BaseURL:    cfg.openaiURL,
			Model:      cfg.openaiModel,
			Dimensions: cfg.vectorDimensions,
			Provider:   "openai",
			Logger:     cfg.logger,
		})
		return embcache.New(base, store, cfg.openaiModel, metrics.EmbeddingCacheTotal, cfg.logger)
	}
	return noopEmbedder{}
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// RetrievalResult is the public shape of one retrieval outcome.
type RetrievalResult struct {
	Context    string
	Retrieved  bool
	Confidence float64
	Keywords   []string
	Reasoning  string
	Documents  []string
}

// Retrieve runs the full read path for one utterance.
func (c *Client) Retrieve(ctx context.Context, utterance string) (*RetrievalResult, error) {
	res, err := c.retrievalSvc.Retrieve(ctx, utterance)
	if err != nil {
		return nil, err
	}
	return &RetrievalResult{
		Context:    res.Context,
		Retrieved:  res.Retrieved,
		Confidence: res.Decision.Confidence,
		Keywords:   res.Decision.Keywords,
		Reasoning:  res.Decision.Reasoning,
		Documents:  res.Documents,
	}, nil
}

// SearchHit is one raw similarity result.
type SearchHit struct {
	DocumentID string
	Text       string
	Similarity float64
	Metadata   map[string]string
}

// Search runs a raw KNN query, bypassing the relevance analyzer.
func (c *Client) Search(ctx context.Context, query string, k int) ([]SearchHit, error) {
	embedded, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	res, err := c.index.Query(ctx, embedded.Embedding, k)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(res))
	for _, r := range res {
		hits = append(hits, SearchHit{
			DocumentID: r.DocumentID,
			Text:       r.Text,
			Similarity: r.Similarity(),
			Metadata:   r.Metadata,
		})
	}
	return hits, nil
}

// SyncReport aggregates a batch sync pass.
type SyncReport struct {
	Synced int
	Errors int
	Total  int
}

// SyncAll re-syncs every watched content type.
func (c *Client) SyncAll(ctx context.Context) (SyncReport, error) {
	report, err := c.syncSvc.SyncAll(ctx)
	return SyncReport(report), err
}

// SyncType re-syncs every record of one type.
func (c *Client) SyncType(ctx context.Context, recordType string) (SyncReport, error) {
	report, err := c.syncSvc.SyncType(ctx, recordType)
	return SyncReport(report), err
}

// SyncOne re-syncs a single record by type and id.
func (c *Client) SyncOne(ctx context.Context, recordType, id string) error {
	return c.syncSvc.SyncOne(ctx, recordType, id)
}

// ReconcileReport summarizes an orphan-removal pass.
type ReconcileReport struct {
	Checked  int
	Orphans  int
	Removed  int
	Failures int
}

// Reconcile removes index documents whose source records are gone.
func (c *Client) Reconcile(ctx context.Context) (ReconcileReport, error) {
	report, err := c.syncSvc.Reconcile(ctx)
	return ReconcileReport(report), err
}

// Count returns the number of indexed documents.
func (c *Client) Count(ctx context.Context) (int, error) {
	return c.index.Count(ctx)
}

// embedderAdapter wraps the public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// noopEmbedder returns an error on Embed (used when no embedder is configured).
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, errors.New(
		"ragdex: embedder not configured (use WithOpenAI or WithEmbedder)",
	)
}

// noopLLM reports the relevance model as unreachable so analysis always
// uses the deterministic keyword fallback.
type noopLLM struct{}

func (noopLLM) Generate(_ context.Context, _ string) (string, error) {
	return "", domain.ErrAnalyzerUnavailable
}

func (noopLLM) Ping(_ context.Context) error {
	return domain.ErrAnalyzerUnavailable
}

// noopContent rejects sync operations when no content store is configured.
type noopContent struct{}

func (noopContent) FindOne(_ context.Context, _ schema.Schema, _ string) (domain.ContentRecord, error) {
	return domain.ContentRecord{}, errors.New("ragdex: content store not configured (use WithContentStore)")
}

func (noopContent) FindAll(_ context.Context, _ schema.Schema) ([]domain.ContentRecord, error) {
	return nil, errors.New("ragdex: content store not configured (use WithContentStore)")
}

func toSchemaSet(in []Schema) (schema.Set, error) {
	schemas := make([]schema.Schema, 0, len(in))
	for _, s := range in {
		var formats map[string]schema.FieldFormat
		if len(s.Formats) > 0 {
			formats = make(map[string]schema.FieldFormat, len(s.Formats))
			for field, f := range s.Formats {
				formats[field] = schema.FieldFormat{NameKey: f.Name, DetailKey: f.Detail}
			}
		}
		schemas = append(schemas, schema.Schema{
			Type:           s.Type,
			APIPath:        s.APIPath,
			Label:          s.Label,
			Watched:        s.Watched,
			TextFields:     s.TextFields,
			MetadataFields: s.MetadataFields,
			Formats:        formats,
		})
	}
	return schema.NewSet(schemas)
}
