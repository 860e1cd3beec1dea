package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/logger"
	"github.com/folio-cloud/ragdex/internal/metrics"
)

// topicMarkers trigger retrieval in the fallback path. The site is
// bilingual, so French markers sit next to their English counterparts.
var topicMarkers = []string{
	"projet", "project", "réalisation", "realisation",
	"compétence", "competence", "skill", "technologie", "technology", "stack",
	"expérience", "experience", "parcours", "carrière", "carriere",
	"formation", "étude", "etude", "diplôme", "diplome",
	"contact", "email", "mail", "linkedin", "github",
	"portfolio", "cv", "travail", "work",
}

// knownKeywords is the smaller curated list the fallback extracts from the
// utterance. Contextual markers first, then named technologies.
var knownKeywords = []string{
	"projets", "projet", "compétences", "competences", "expérience",
	"experience", "formation", "contact",
	"angular", "react", "vue", "typescript", "javascript", "node",
	"nestjs", "java", "python", "go", "php", "sql", "mongodb",
	"docker", "kubernetes", "aws", "css", "html", "api", "strapi",
}

// llm is the consumer interface over the local model client (ISP).
type llm interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Ping(ctx context.Context) error
}

// Service decides whether an utterance warrants retrieval. Analyze never
// returns an error: any model failure degrades to the keyword heuristic.
type Service struct {
	llm    llm
	logger *zap.Logger
}

// NewService creates the relevance analyzer.
func NewService(l llm, log *zap.Logger) *Service {
	return &Service{llm: l, logger: log}
}

// modelDecision is the strict JSON shape requested from the model.
type modelDecision struct {
	ShouldUseRAG bool     `json:"shouldUseRAG"`
	Confidence   float64  `json:"confidence"`
	Keywords     []string `json:"keywords"`
}

// Analyze classifies an utterance. Primary path is the local model; on
// probe failure, generate failure, or unparseable output it falls back to
// the deterministic keyword heuristic.
func (s *Service) Analyze(ctx context.Context, utterance string) domain.RelevanceDecision {
	log := logger.FromContext(ctx)

	// Bound the cost of a down model to the probe timeout.
	if err := s.llm.Ping(ctx); err != nil {
		log.Debug("Analyzer model unreachable, using fallback", zap.Error(err))
		return s.fallback(utterance)
	}

	raw, err := s.llm.Generate(ctx, buildPrompt(utterance))
	if err != nil {
		log.Warn("Analyzer generate failed, using fallback", zap.Error(err))
		return s.fallback(utterance)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		log.Warn("Analyzer output unparseable, using fallback",
			zap.String("raw", truncate(raw, 200)),
			zap.Error(err),
		)
		return s.fallback(utterance)
	}

	metrics.AnalyzerDecisionsTotal.WithLabelValues("model", strconv.FormatBool(decision.ShouldUseRAG)).Inc()
	return domain.RelevanceDecision{
		ShouldRetrieve: decision.ShouldUseRAG,
		Confidence:     decision.Confidence,
		Keywords:       decision.Keywords,
		Reasoning:      "model classification",
	}
}

// fallback is the deterministic keyword heuristic.
func (s *Service) fallback(utterance string) domain.RelevanceDecision {
	lowered := strings.ToLower(utterance)

	retrieve := false
	for _, marker := range topicMarkers {
		if strings.Contains(lowered, marker) {
			retrieve = true
			break
		}
	}

	var keywords []string
	if retrieve {
		seen := make(map[string]bool)
		for _, kw := range knownKeywords {
			if strings.Contains(lowered, kw) && !seen[kw] {
				// Longer variants first in the list, so "projets" wins
				// over "projet" for the same span.
				if !coveredByExisting(keywords, kw) {
					keywords = append(keywords, kw)
					seen[kw] = true
				}
			}
		}
	}

	metrics.AnalyzerDecisionsTotal.WithLabelValues("fallback", strconv.FormatBool(retrieve)).Inc()
	return domain.RelevanceDecision{
		ShouldRetrieve: retrieve,
		Confidence:     domain.FallbackConfidence,
		Keywords:       keywords,
		Reasoning:      "keyword fallback",
	}
}

func coveredByExisting(keywords []string, candidate string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, candidate) {
			return true
		}
	}
	return false
}

func buildPrompt(utterance string) string {
	return fmt.Sprintf(`You classify whether a question about a developer's portfolio needs document retrieval.

Question: %q

Answer with strict JSON only, no other text:
{"shouldUseRAG": <true|false>, "confidence": <0.0-1.0>, "keywords": [<search terms>]}

shouldUseRAG is true only when the question concerns the developer's projects, skills, experience, education or contact details.`, utterance)
}

// parseDecision locates the first balanced JSON object in the raw model
// output and decodes it. The model frequently wraps its JSON in prose.
func parseDecision(raw string) (modelDecision, error) {
	blob, err := extractJSON(raw)
	if err != nil {
		return modelDecision{}, err
	}

	var decision modelDecision
	if err := json.Unmarshal([]byte(blob), &decision); err != nil {
		return modelDecision{}, fmt.Errorf("%w: %v", domain.ErrAnalysisParse, err)
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		return modelDecision{}, fmt.Errorf("%w: confidence %f out of range", domain.ErrAnalysisParse, decision.Confidence)
	}
	return decision, nil
}

// extractJSON returns the first balanced {...} in the text, respecting
// string literals and escapes.
func extractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("%w: no JSON object in output", domain.ErrAnalysisParse)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced JSON object", domain.ErrAnalysisParse)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
