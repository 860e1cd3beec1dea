package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
	"github.com/folio-cloud/ragdex/internal/logger"
	"github.com/folio-cloud/ragdex/internal/metrics"
)

// NoResultsMessage is returned when the index has nothing relevant. It is
// deliberately distinct from an empty context so the conversational model
// can say so honestly instead of fabricating.
const NoResultsMessage = "Aucune information pertinente trouvée dans la base de connaissances."

const (
	kContact = 2
	kBroad   = 8
	kMin     = 2
	kMax     = 6
)

// contextualKeywords are topic markers as opposed to named technologies.
var contextualKeywords = map[string]bool{
	"projets": true, "projet": true,
	"compétences": true, "competences": true, "compétence": true, "competence": true,
	"expérience": true, "experience": true,
	"formation": true, "contact": true, "portfolio": true,
}

// broadMarkers signal a "list everything" intent in the utterance.
var broadMarkers = []string{"tous", "toutes", "liste", "all ", "everything", "montre tout"}

// contactMarkers signal a narrowly-scoped contact question.
var contactMarkers = []string{"contact", "email", "mail", "linkedin", "joindre", "téléphone", "telephone"}

// linkMetaMarkers pick out contact/link-like metadata keys for rendering.
var linkMetaMarkers = []string{"link", "url", "email", "mail", "github", "linkedin", "phone", "site"}

// analyzer is the consumer interface over the relevance analyzer (ISP).
type analyzer interface {
	Analyze(ctx context.Context, utterance string) domain.RelevanceDecision
}

// searcher is the consumer interface over the vector index.
type searcher interface {
	Query(ctx context.Context, embedding []float32, k int) ([]domain.SearchResult, error)
}

// Result is the outcome of one retrieval orchestration. Context is empty
// when the analyzer decided against retrieval; Decision always carries the
// reasoning so the caller can surface it.
type Result struct {
	Context   string
	Retrieved bool
	Decision  domain.RelevanceDecision
	Documents []string
}

// Service orchestrates the read path: utterance in, formatted context out.
type Service struct {
	analyzer analyzer
	embedder domain.Embedder
	index    searcher
	schemas  schema.Set
	logger   *zap.Logger
}

// NewService creates the retrieval orchestrator.
func NewService(a analyzer, embedder domain.Embedder, index searcher, schemas schema.Set, log *zap.Logger) *Service {
	return &Service{analyzer: a, embedder: embedder, index: index, schemas: schemas, logger: log}
}

// Retrieve runs the full read path. A no-retrieval decision yields a
// Result with Retrieved=false and no error. Downstream failures (embed,
// query) return an error wrapping domain.ErrRetrievalFailed; the caller
// may mask it as "no context".
func (s *Service) Retrieve(ctx context.Context, utterance string) (*Result, error) {
	log := logger.FromContext(ctx)

	decision := s.analyzer.Analyze(ctx, utterance)
	if !decision.ShouldRetrieve {
		metrics.RetrievalRequestsTotal.WithLabelValues("skipped").Inc()
		log.Debug("Retrieval skipped", zap.String("reasoning", decision.Reasoning))
		return &Result{Retrieved: false, Decision: decision}, nil
	}

	query := buildQuery(utterance, decision.Keywords)
	k := budget(utterance, decision.Keywords)

	embedded, err := s.embedder.Embed(ctx, query)
	if err != nil {
		metrics.RetrievalRequestsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("embed query: %w: %w", err, domain.ErrRetrievalFailed)
	}

	results, err := s.index.Query(ctx, embedded.Embedding, k)
	if err != nil {
		metrics.RetrievalRequestsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("query index: %w: %w", err, domain.ErrRetrievalFailed)
	}

	if len(results) == 0 {
		metrics.RetrievalRequestsTotal.WithLabelValues("empty").Inc()
		return &Result{Context: NoResultsMessage, Retrieved: true, Decision: decision}, nil
	}

	metrics.RetrievalRequestsTotal.WithLabelValues("context").Inc()
	documents := make([]string, 0, len(results))
	for _, r := range results {
		documents = append(documents, r.DocumentID)
	}
	return &Result{
		Context:   s.formatContext(decision, results),
		Retrieved: true,
		Decision:  decision,
		Documents: documents,
	}, nil
}

// buildQuery combines one contextual keyword with the technical ones.
// Single-category keyword sets are used as-is.
func buildQuery(utterance string, keywords []string) string {
	if len(keywords) == 0 {
		return utterance
	}

	var contextual, technical []string
	for _, kw := range keywords {
		if contextualKeywords[strings.ToLower(kw)] {
			contextual = append(contextual, kw)
		} else {
			technical = append(technical, kw)
		}
	}

	switch {
	case len(contextual) > 0 && len(technical) > 0:
		return contextual[0] + " " + strings.Join(technical, " ")
	case len(contextual) > 0:
		return strings.Join(contextual, " ")
	case len(technical) > 0:
		return strings.Join(technical, " ")
	default:
		return strings.Join(keywords, " ")
	}
}

// budget picks k: tight for contact-like intent, wide for "list
// everything", otherwise scaled by keyword count within [kMin, kMax].
func budget(utterance string, keywords []string) int {
	lowered := strings.ToLower(utterance)

	for _, marker := range contactMarkers {
		if strings.Contains(lowered, marker) {
			return kContact
		}
	}
	for _, marker := range broadMarkers {
		if strings.Contains(lowered, marker) {
			return kBroad
		}
	}

	k := kMin + len(keywords)
	if k > kMax {
		k = kMax
	}
	return k
}

// formatContext renders the retrieved documents as numbered blocks with a
// traceability header.
func (s *Service) formatContext(decision domain.RelevanceDecision, results []domain.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Contexte récupéré (confiance: %.2f, analyse: %s)\n", decision.Confidence, decision.Reasoning)

	for i, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s (similarité: %.3f)\n", i+1, s.label(r), r.Similarity())
		b.WriteString(r.Text)
		b.WriteString("\n")
		if links := linkLines(r.Metadata); links != "" {
			b.WriteString(links)
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) label(r domain.SearchResult) string {
	sourceType := r.Metadata[domain.MetaSourceType]
	if sc, ok := s.schemas.Get(sourceType); ok {
		return sc.DisplayLabel()
	}
	return sourceType
}

// linkLines renders contact/link-like metadata as one short list line.
func linkLines(metadata map[string]string) string {
	var keys []string
	for key := range metadata {
		lowered := strings.ToLower(key)
		for _, marker := range linkMetaMarkers {
			if strings.Contains(lowered, marker) {
				keys = append(keys, key)
				break
			}
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+metadata[key])
	}
	return "Liens: " + strings.Join(parts, ", ")
}
