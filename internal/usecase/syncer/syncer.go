package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/db"
	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
	"github.com/folio-cloud/ragdex/internal/logger"
	"github.com/folio-cloud/ragdex/internal/metrics"
)

var lastSyncKey = domain.KeyPrefix + "last_sync"

// jobState tracks a single record's pipeline. Transitions only move
// forward; Failed is terminal.
type jobState string

const (
	statePending    jobState = "pending"
	stateFormatting jobState = "formatting"
	stateEmbedding  jobState = "embedding"
	stateUpserting  jobState = "upserting"
	stateDone       jobState = "done"
	stateFailed     jobState = "failed"
)

// contentStore is the consumer interface over the CMS client (ISP).
type contentStore interface {
	FindOne(ctx context.Context, sc schema.Schema, id string) (domain.ContentRecord, error)
	FindAll(ctx context.Context, sc schema.Schema) ([]domain.ContentRecord, error)
}

// indexStore is the consumer interface over the vector index repository.
type indexStore interface {
	Upsert(ctx context.Context, doc *domain.IndexedDocument) error
	Delete(ctx context.Context, documentID string) error
	List(ctx context.Context, offset, limit int) ([]domain.SearchResult, int, error)
}

// formatter is the consumer interface over the content formatter.
type formatter interface {
	Format(rec domain.ContentRecord, sc schema.Schema) (string, map[string]string)
}

// kvStore persists the last-sync timestamp.
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Service drives the write path: content record in, indexed document out.
// Each record's sync job is independent; batch passes isolate per-record
// failures and report them in aggregate.
type Service struct {
	content   contentStore
	index     indexStore
	formatter formatter
	embedder  domain.Embedder
	kv        kvStore
	schemas   schema.Set
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates the index synchronizer.
func NewService(
	content contentStore,
	index indexStore,
	f formatter,
	embedder domain.Embedder,
	kv kvStore,
	schemas schema.Set,
	log *zap.Logger,
) *Service {
	return &Service{
		content:   content,
		index:     index,
		formatter: f,
		embedder:  embedder,
		kv:        kv,
		schemas:   schemas,
		logger:    log,
		now:       time.Now,
	}
}

// OnRecordSaved handles a created or updated lifecycle event. Both cases
// run the identical format-embed-upsert pipeline: an update is always a
// full re-embed. Errors are logged, never returned — an indexing failure
// must not fail the content mutation that triggered it.
func (s *Service) OnRecordSaved(ctx context.Context, rec domain.ContentRecord) {
	log := logger.FromContext(ctx)

	sc, ok := s.schemas.Get(rec.Type)
	if !ok || !sc.Watched {
		log.Debug("Ignoring lifecycle event for unwatched type", zap.String("type", rec.Type))
		return
	}

	if err := s.syncRecord(ctx, rec, sc); err != nil {
		log.Error("Record sync failed after lifecycle event",
			zap.String("type", rec.Type),
			zap.String("id", rec.ID),
			zap.Error(err),
		)
	}
}

// OnRecordDeleted removes the record's indexed document. Errors are logged
// and swallowed: the source-of-truth deletion already succeeded, and the
// orphan is cleaned up by the next full sync or reconcile pass.
func (s *Service) OnRecordDeleted(ctx context.Context, recordType, recordID string) {
	log := logger.FromContext(ctx)

	if sc, ok := s.schemas.Get(recordType); !ok || !sc.Watched {
		return
	}

	documentID := domain.DocumentID(recordType, recordID)
	if err := s.index.Delete(ctx, documentID); err != nil {
		log.Error("Failed to remove deleted record from index",
			zap.String("document_id", documentID),
			zap.Error(err),
		)
	}
}

// SyncOne re-syncs a single record, fetching it fresh from the content
// store with relations resolved.
func (s *Service) SyncOne(ctx context.Context, recordType, id string) error {
	sc, ok := s.schemas.Get(recordType)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownType, recordType)
	}

	rec, err := s.content.FindOne(ctx, sc, id)
	if err != nil {
		return fmt.Errorf("fetch %s %s: %w", recordType, id, err)
	}

	return s.syncRecord(ctx, rec, sc)
}

// SyncType re-syncs every record of one type. Per-record failures are
// counted, not propagated; ordering within the pass is unspecified.
func (s *Service) SyncType(ctx context.Context, recordType string) (domain.SyncReport, error) {
	sc, ok := s.schemas.Get(recordType)
	if !ok {
		return domain.SyncReport{}, fmt.Errorf("%w: %s", domain.ErrUnknownType, recordType)
	}

	records, err := s.content.FindAll(ctx, sc)
	if err != nil {
		return domain.SyncReport{}, fmt.Errorf("fetch all %s: %w", recordType, err)
	}

	log := logger.FromContext(ctx)
	report := domain.SyncReport{Total: len(records)}
	for _, rec := range records {
		if err := s.syncRecord(ctx, rec, sc); err != nil {
			report.Errors++
			log.Warn("Record sync failed in batch",
				zap.String("type", rec.Type),
				zap.String("id", rec.ID),
				zap.Error(err),
			)
			continue
		}
		report.Synced++
	}
	return report, nil
}

// SyncAll re-syncs every watched type. This is the only path that fully
// heals a drifted index.
func (s *Service) SyncAll(ctx context.Context) (domain.SyncReport, error) {
	var report domain.SyncReport
	for _, sc := range s.schemas.Watched() {
		typeReport, err := s.SyncType(ctx, sc.Type)
		if err != nil {
			return report, err
		}
		report.Add(typeReport)
	}

	s.recordLastSync(ctx)
	return report, nil
}

// LastSync returns the time of the last completed full sync, or the zero
// time when none has run yet.
func (s *Service) LastSync(ctx context.Context) (time.Time, error) {
	data, err := s.kv.Get(ctx, lastSyncKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("get last sync: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last sync timestamp: %w", err)
	}
	return ts, nil
}

func (s *Service) recordLastSync(ctx context.Context) {
	ts := s.now().UTC().Format(time.RFC3339)
	if err := s.kv.Set(ctx, lastSyncKey, []byte(ts)); err != nil {
		logger.FromContext(ctx).Warn("Failed to record last sync time", zap.Error(err))
	}
}

// syncRecord runs one record through the pipeline, logging every state
// transition. Returns a SyncJobError naming the failing stage.
func (s *Service) syncRecord(ctx context.Context, rec domain.ContentRecord, sc schema.Schema) error {
	log := logger.FromContext(ctx).With(
		zap.String("type", rec.Type),
		zap.String("id", rec.ID),
	)

	state := statePending
	advance := func(next jobState) {
		log.Debug("Sync job transition",
			zap.String("from", string(state)),
			zap.String("to", string(next)),
		)
		state = next
	}

	fail := func(stage jobState, err error) error {
		advance(stateFailed)
		metrics.SyncJobsTotal.WithLabelValues(rec.Type, "failed").Inc()
		return &domain.SyncJobError{Type: rec.Type, ID: rec.ID, Stage: string(stage), Err: err}
	}

	advance(stateFormatting)
	text, metadata := s.formatter.Format(rec, sc)
	if text == "" {
		// Nothing to embed is a skip, not a failure.
		advance(stateDone)
		metrics.SyncJobsTotal.WithLabelValues(rec.Type, "skipped").Inc()
		log.Info("Record has no indexable text, skipping")
		return nil
	}

	advance(stateEmbedding)
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fail(stateEmbedding, err)
	}

	advance(stateUpserting)
	doc := &domain.IndexedDocument{
		DocumentID: domain.DocumentID(rec.Type, rec.ID),
		Text:       text,
		Metadata:   metadata,
		Embedding:  embedding.Embedding,
	}
	if err := s.index.Upsert(ctx, doc); err != nil {
		return fail(stateUpserting, err)
	}

	advance(stateDone)
	metrics.SyncJobsTotal.WithLabelValues(rec.Type, "done").Inc()
	return nil
}
