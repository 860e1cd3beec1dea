package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
	"github.com/folio-cloud/ragdex/internal/repository/session"
	"github.com/folio-cloud/ragdex/internal/usecase/health"
	"github.com/folio-cloud/ragdex/internal/usecase/retrieval"
)

const (
	defaultSearchK = 5
	maxSearchK     = 50
	exportPageSize = 200
)

// errorCode is the machine-readable error discriminator in error bodies.
type errorCode string

const (
	codeBadRequest             errorCode = "bad_request"
	codeUnauthorized           errorCode = "unauthorized"
	codeUnknownType            errorCode = "unknown_type"
	codeNotFound               errorCode = "not_found"
	codeStoreUnavailable       errorCode = "store_unavailable"
	codeEmbeddingProviderError errorCode = "embedding_provider_error"
	codeAnalyzerUnavailable    errorCode = "analyzer_unavailable"
	codeInternalError          errorCode = "internal_error"
)

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// synchronizer is the consumer interface over the index synchronizer.
type synchronizer interface {
	OnRecordSaved(ctx context.Context, rec domain.ContentRecord)
	OnRecordDeleted(ctx context.Context, recordType, recordID string)
	SyncOne(ctx context.Context, recordType, id string) error
	SyncType(ctx context.Context, recordType string) (domain.SyncReport, error)
	SyncAll(ctx context.Context) (domain.SyncReport, error)
	Reconcile(ctx context.Context) (domain.ReconcileReport, error)
	LastSync(ctx context.Context) (time.Time, error)
}

// retriever is the consumer interface over the retrieval orchestrator.
type retriever interface {
	Retrieve(ctx context.Context, utterance string) (*retrieval.Result, error)
}

// healthChecker is the consumer interface over the health service.
type healthChecker interface {
	Check(ctx context.Context) health.Report
}

// sessionStore is the consumer interface over the chat session repository.
type sessionStore interface {
	Start(ctx context.Context) (string, error)
	Get(ctx context.Context, id string) (session.Session, error)
	Append(ctx context.Context, id string, turn session.Turn) error
}

// indexAdmin is the consumer interface over the vector index repository.
type indexAdmin interface {
	Query(ctx context.Context, embedding []float32, k int) ([]domain.SearchResult, error)
	PurgeAll(ctx context.Context) error
	PurgeByType(ctx context.Context, sourceType string) error
	Count(ctx context.Context) (int, error)
	CountByType(ctx context.Context, sourceType string) (int, error)
	ListTypes(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, offset, limit int) ([]domain.SearchResult, int, error)
}

// Server is the HTTP API: webhook intake, admin operations and the
// retrieval endpoint the conversational layer calls.
type Server struct {
	syncer        synchronizer
	retrieval     retriever
	health        healthChecker
	sessions      sessionStore
	index         indexAdmin
	embedder      domain.Embedder
	schemas       schema.Set
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates the HTTP API server.
func NewServer(
	sync synchronizer,
	retr retriever,
	healthSvc healthChecker,
	sessions sessionStore,
	index indexAdmin,
	embedder domain.Embedder,
	schemas schema.Set,
	logger *zap.Logger,
) *Server {
	s := &Server{
		syncer:    sync,
		retrieval: retr,
		health:    healthSvc,
		sessions:  sessions,
		index:     index,
		embedder:  embedder,
		schemas:   schemas,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrUnknownType, http.StatusBadRequest, codeUnknownType),
		sentinelHandler(domain.ErrRecordNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProviderError),
		sentinelHandler(domain.ErrAnalyzerUnavailable, http.StatusBadGateway, codeAnalyzerUnavailable),
	}
	return s
}

// Register mounts every route on the given router.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/events", s.HandleEvent)

	r.Get("/stats", s.Stats)
	r.Get("/collections", s.Collections)
	r.Get("/export", s.Export)

	r.Post("/sync", s.SyncAll)
	r.Post("/sync/{type}", s.SyncType)
	r.Post("/sync/{type}/{id}", s.SyncOne)
	r.Post("/reconcile", s.Reconcile)
	r.Post("/purge", s.PurgeAll)
	r.Post("/purge/{type}", s.PurgeType)

	r.Post("/search", s.Search)
	r.Post("/retrieve", s.Retrieve)

	r.Post("/sessions", s.StartSession)
	r.Get("/sessions/{id}", s.GetSession)
}

// Healthz handles GET /healthz. Degraded still answers 200: the service
// is usable, just not at full capability.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// eventRequest is the content-store webhook payload.
type eventRequest struct {
	Event string         `json:"event"`
	Model string         `json:"model"`
	Entry map[string]any `json:"entry"`
}

// HandleEvent handles POST /events, the content-store lifecycle webhook.
// Indexing outcomes never surface here: the content store already
// committed its mutation, so a malformed body is the only 4xx and
// everything else is 202.
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var req eventRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "model is required")
		return
	}

	id := entryID(req.Entry)
	if id == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "entry.id is required")
		return
	}

	switch req.Event {
	case "entry.create", "entry.update", "entry.publish":
		s.syncer.OnRecordSaved(r.Context(), domain.ContentRecord{
			ID:     id,
			Type:   req.Model,
			Fields: entryFields(req.Entry),
		})
	case "entry.delete", "entry.unpublish":
		s.syncer.OnRecordDeleted(r.Context(), req.Model, id)
	default:
		// Unknown lifecycle events are acknowledged and dropped so new
		// content-store event kinds never break the webhook.
		s.logger.Debug("Ignoring unknown lifecycle event", zap.String("event", req.Event))
	}

	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// statsResponse is the GET /stats body.
type statsResponse struct {
	Documents int            `json:"documents"`
	Types     map[string]int `json:"types"`
	LastSync  *time.Time     `json:"last_sync"`
}

// Stats handles GET /stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	count, err := s.index.Count(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	types, err := s.index.ListTypes(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resp := statsResponse{Documents: count, Types: types}
	if last, err := s.syncer.LastSync(r.Context()); err == nil && !last.IsZero() {
		resp.LastSync = &last
	}

	writeJSON(w, http.StatusOK, resp)
}

// collectionInfo describes one configured content type and its index state.
type collectionInfo struct {
	Type      string `json:"type"`
	Label     string `json:"label"`
	Watched   bool   `json:"watched"`
	Documents int    `json:"documents"`
}

// Collections handles GET /collections.
func (s *Server) Collections(w http.ResponseWriter, r *http.Request) {
	items := make([]collectionInfo, 0, len(s.schemas.All()))
	for _, sc := range s.schemas.All() {
		count, err := s.index.CountByType(r.Context(), sc.Type)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		items = append(items, collectionInfo{
			Type:      sc.Type,
			Label:     sc.DisplayLabel(),
			Watched:   sc.Watched,
			Documents: count,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": items})
}

// Export handles GET /export: a plain-text dump of every indexed
// document, for eyeballing what the embedder actually sees.
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	offset := 0
	for {
		docs, total, err := s.index.List(r.Context(), offset, exportPageSize)
		if err != nil {
			if offset == 0 {
				s.handleDomainError(w, err)
				return
			}
			// Headers are already sent; mark the dump as truncated so the
			// reader does not mistake it for a complete export.
			s.logger.Error("Export aborted mid-dump",
				zap.Int("exported", offset),
				zap.Error(err),
			)
			fmt.Fprintf(w, "### EXPORT INCOMPLETE: listing failed after %d documents\n", offset)
			return
		}
		if len(docs) == 0 {
			return
		}
		for _, doc := range docs {
			fmt.Fprintf(w, "### %s\n%s\n\n", doc.DocumentID, doc.Text)
		}
		offset += len(docs)
		if offset >= total {
			return
		}
	}
}

// SyncAll handles POST /sync.
func (s *Server) SyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncer.SyncAll(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SyncType handles POST /sync/{type}.
func (s *Server) SyncType(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncer.SyncType(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SyncOne handles POST /sync/{type}/{id}.
func (s *Server) SyncOne(w http.ResponseWriter, r *http.Request) {
	recordType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")

	if err := s.syncer.SyncOne(r.Context(), recordType, id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "synced",
		"document_id": domain.DocumentID(recordType, id),
	})
}

// Reconcile handles POST /reconcile.
func (s *Server) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.syncer.Reconcile(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PurgeAll handles POST /purge.
func (s *Server) PurgeAll(w http.ResponseWriter, r *http.Request) {
	if err := s.index.PurgeAll(r.Context()); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

// PurgeType handles POST /purge/{type}.
func (s *Server) PurgeType(w http.ResponseWriter, r *http.Request) {
	sourceType := chi.URLParam(r, "type")
	if _, ok := s.schemas.Get(sourceType); !ok {
		s.handleDomainError(w, fmt.Errorf("%w: %s", domain.ErrUnknownType, sourceType))
		return
	}

	if err := s.index.PurgeByType(r.Context(), sourceType); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged", "type": sourceType})
}

// searchRequest is the POST /search body.
type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// searchHit is one similarity result in the POST /search response.
type searchHit struct {
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Search handles POST /search: a raw KNN query that bypasses the
// relevance analyzer. Debugging surface for inspecting what the index
// returns for an arbitrary query.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "query is required")
		return
	}

	k := req.K
	if k <= 0 {
		k = defaultSearchK
	}
	if k > maxSearchK {
		k = maxSearchK
	}

	embedded, err := s.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	results, err := s.index.Query(r.Context(), embedded.Embedding, k)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{
			DocumentID: res.DocumentID,
			Text:       res.Text,
			Similarity: res.Similarity(),
			Metadata:   res.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// retrieveRequest is the POST /retrieve body.
type retrieveRequest struct {
	Utterance string `json:"utterance"`
	SessionID string `json:"session_id"`
}

// retrieveResponse is the POST /retrieve response.
type retrieveResponse struct {
	Context    *string  `json:"context"`
	Retrieved  bool     `json:"retrieved"`
	Degraded   bool     `json:"degraded,omitempty"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
	Reasoning  string   `json:"reasoning"`
	Documents  []string `json:"documents,omitempty"`
}

// Retrieve handles POST /retrieve, the endpoint the conversational layer
// calls per user message. A retrieval failure is masked as "no context"
// with degraded=true: the chat must keep answering even when the
// pipeline is down.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Utterance == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "utterance is required")
		return
	}

	result, err := s.retrieval.Retrieve(r.Context(), req.Utterance)
	if err != nil {
		if !errors.Is(err, domain.ErrRetrievalFailed) {
			s.handleDomainError(w, err)
			return
		}
		s.logger.Error("Retrieval failed, masking as no context", zap.Error(err))
		writeJSON(w, http.StatusOK, retrieveResponse{Degraded: true})
		return
	}

	resp := retrieveResponse{
		Retrieved:  result.Retrieved,
		Confidence: result.Decision.Confidence,
		Keywords:   result.Decision.Keywords,
		Reasoning:  result.Decision.Reasoning,
		Documents:  result.Documents,
	}
	if result.Retrieved {
		resp.Context = &result.Context
	}

	s.recordTurn(r, req, result)
	writeJSON(w, http.StatusOK, resp)
}

// recordTurn appends the interaction to the chat session trace.
// Session store failures are logged, never surfaced: tracing is an
// audit concern, not part of the retrieval contract.
func (s *Server) recordTurn(r *http.Request, req retrieveRequest, result *retrieval.Result) {
	if req.SessionID == "" {
		return
	}

	turn := session.Turn{
		At:        time.Now().UTC(),
		Utterance: req.Utterance,
		Retrieved: result.Retrieved,
		Documents: result.Documents,
	}
	if err := s.sessions.Append(r.Context(), req.SessionID, turn); err != nil {
		s.logger.Warn("Failed to record session turn",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
	}
}

// StartSession handles POST /sessions.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessions.Start(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// entryID extracts the record id from a webhook entry, tolerating both
// numeric and string ids.
func entryID(entry map[string]any) string {
	switch id := entry["id"].(type) {
	case json.Number:
		return id.String()
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// entryFields returns the entry attributes without the id.
func entryFields(entry map[string]any) map[string]any {
	fields := make(map[string]any, len(entry))
	for k, v := range entry {
		if k == "id" {
			continue
		}
		fields[k] = v
	}
	return fields
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrUnknownType,
		domain.ErrRecordNotFound,
		domain.ErrStoreUnavailable,
		domain.ErrEmbeddingProviderError,
		domain.ErrAnalyzerUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
