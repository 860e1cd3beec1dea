package chi

import (
	"context"
	"net/http"
	"time"

	chiRouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
	"github.com/folio-cloud/ragdex/internal/repository/session"
	"github.com/folio-cloud/ragdex/internal/usecase/health"
	"github.com/folio-cloud/ragdex/internal/usecase/retrieval"
)

type mockSyncer struct {
	savedRecords []domain.ContentRecord
	deletedIDs   []string
	syncOneFn    func(ctx context.Context, recordType, id string) error
	syncTypeFn   func(ctx context.Context, recordType string) (domain.SyncReport, error)
	syncAllFn    func(ctx context.Context) (domain.SyncReport, error)
	reconcileFn  func(ctx context.Context) (domain.ReconcileReport, error)
	lastSyncFn   func(ctx context.Context) (time.Time, error)
}

func (m *mockSyncer) OnRecordSaved(_ context.Context, rec domain.ContentRecord) {
	m.savedRecords = append(m.savedRecords, rec)
}

func (m *mockSyncer) OnRecordDeleted(_ context.Context, recordType, recordID string) {
	m.deletedIDs = append(m.deletedIDs, domain.DocumentID(recordType, recordID))
}

func (m *mockSyncer) SyncOne(ctx context.Context, recordType, id string) error {
	if m.syncOneFn != nil {
		return m.syncOneFn(ctx, recordType, id)
	}
	return nil
}

func (m *mockSyncer) SyncType(ctx context.Context, recordType string) (domain.SyncReport, error) {
	if m.syncTypeFn != nil {
		return m.syncTypeFn(ctx, recordType)
	}
	return domain.SyncReport{}, nil
}

func (m *mockSyncer) SyncAll(ctx context.Context) (domain.SyncReport, error) {
	if m.syncAllFn != nil {
		return m.syncAllFn(ctx)
	}
	return domain.SyncReport{}, nil
}

func (m *mockSyncer) Reconcile(ctx context.Context) (domain.ReconcileReport, error) {
	if m.reconcileFn != nil {
		return m.reconcileFn(ctx)
	}
	return domain.ReconcileReport{}, nil
}

func (m *mockSyncer) LastSync(ctx context.Context) (time.Time, error) {
	if m.lastSyncFn != nil {
		return m.lastSyncFn(ctx)
	}
	return time.Time{}, nil
}

type mockRetriever struct {
	result *retrieval.Result
	err    error
}

func (m *mockRetriever) Retrieve(context.Context, string) (*retrieval.Result, error) {
	return m.result, m.err
}

type mockHealth struct {
	report health.Report
}

func (m *mockHealth) Check(context.Context) health.Report { return m.report }

type mockSessions struct {
	startFn  func(ctx context.Context) (string, error)
	getFn    func(ctx context.Context, id string) (session.Session, error)
	appended []session.Turn
	appendFn func(ctx context.Context, id string, turn session.Turn) error
}

func (m *mockSessions) Start(ctx context.Context) (string, error) {
	if m.startFn != nil {
		return m.startFn(ctx)
	}
	return "sess-1", nil
}

func (m *mockSessions) Get(ctx context.Context, id string) (session.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return session.Session{ID: id}, nil
}

func (m *mockSessions) Append(ctx context.Context, id string, turn session.Turn) error {
	m.appended = append(m.appended, turn)
	if m.appendFn != nil {
		return m.appendFn(ctx, id, turn)
	}
	return nil
}

type mockIndex struct {
	queryFn       func(ctx context.Context, embedding []float32, k int) ([]domain.SearchResult, error)
	purgedAll     bool
	purgedTypes   []string
	purgeAllFn    func(ctx context.Context) error
	purgeByTypeFn func(ctx context.Context, sourceType string) error
	countFn       func(ctx context.Context) (int, error)
	countByTypeFn func(ctx context.Context, sourceType string) (int, error)
	listTypesFn   func(ctx context.Context) (map[string]int, error)
	listFn        func(ctx context.Context, offset, limit int) ([]domain.SearchResult, int, error)
}

func (m *mockIndex) Query(ctx context.Context, embedding []float32, k int) ([]domain.SearchResult, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, embedding, k)
	}
	return nil, nil
}

func (m *mockIndex) PurgeAll(ctx context.Context) error {
	m.purgedAll = true
	if m.purgeAllFn != nil {
		return m.purgeAllFn(ctx)
	}
	return nil
}

func (m *mockIndex) PurgeByType(ctx context.Context, sourceType string) error {
	m.purgedTypes = append(m.purgedTypes, sourceType)
	if m.purgeByTypeFn != nil {
		return m.purgeByTypeFn(ctx, sourceType)
	}
	return nil
}

func (m *mockIndex) Count(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

func (m *mockIndex) CountByType(ctx context.Context, sourceType string) (int, error) {
	if m.countByTypeFn != nil {
		return m.countByTypeFn(ctx, sourceType)
	}
	return 0, nil
}

func (m *mockIndex) ListTypes(ctx context.Context) (map[string]int, error) {
	if m.listTypesFn != nil {
		return m.listTypesFn(ctx)
	}
	return map[string]int{}, nil
}

func (m *mockIndex) List(ctx context.Context, offset, limit int) ([]domain.SearchResult, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, offset, limit)
	}
	return nil, 0, nil
}

type mockEmbedder struct {
	lastText string
	err      error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.lastText = text
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}, nil
}

// fixture bundles the server with every mock for handler tests.
type fixture struct {
	server   *Server
	handler  http.Handler
	syncer   *mockSyncer
	retr     *mockRetriever
	health   *mockHealth
	sessions *mockSessions
	index    *mockIndex
	embedder *mockEmbedder
}

func newFixture() *fixture {
	schemas, err := schema.NewSet([]schema.Schema{
		{Type: "project", APIPath: "projects", Label: "Projet", Watched: true, TextFields: []string{"title"}},
		{Type: "skill", APIPath: "skills", Label: "Compétence", Watched: true, TextFields: []string{"name"}},
	})
	if err != nil {
		panic(err)
	}

	f := &fixture{
		syncer:   &mockSyncer{},
		retr:     &mockRetriever{},
		health:   &mockHealth{report: health.Report{Status: health.Healthy}},
		sessions: &mockSessions{},
		index:    &mockIndex{},
		embedder: &mockEmbedder{},
	}
	f.server = NewServer(
		f.syncer, f.retr, f.health, f.sessions, f.index, f.embedder, schemas, zap.NewNop(),
	)

	r := chiRouter.NewRouter()
	f.server.Register(r)
	f.handler = r
	return f
}
