package syncer

import (
	"context"
	"testing"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
)

func indexedDoc(documentID, sourceType, sourceID string) domain.SearchResult {
	return domain.SearchResult{
		DocumentID: documentID,
		Metadata: map[string]string{
			domain.MetaSourceType: sourceType,
			domain.MetaSourceID:   sourceID,
		},
	}
}

func TestReconcile_RemovesOrphans(t *testing.T) {
	f := newFixture(t)

	// Live content: project 1 only, no skills.
	f.content.findAllFn = func(_ context.Context, sc schema.Schema) ([]domain.ContentRecord, error) {
		if sc.Type == "project" {
			return []domain.ContentRecord{projectRecord("1", "One", "fine")}, nil
		}
		return nil, nil
	}

	// Index still holds a deleted project and a stale skill.
	docs := []domain.SearchResult{
		indexedDoc("project:1", "project", "1"),
		indexedDoc("project:2", "project", "2"),
		indexedDoc("skill:9", "skill", "9"),
	}
	f.index.listFn = func(_ context.Context, offset, _ int) ([]domain.SearchResult, int, error) {
		if offset >= len(docs) {
			return nil, len(docs), nil
		}
		return docs[offset:], len(docs), nil
	}

	report, err := f.svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Checked != 3 || report.Orphans != 2 || report.Removed != 2 || report.Failures != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(f.index.deleted) != 2 {
		t.Fatalf("expected 2 deletions, got %v", f.index.deleted)
	}
	for _, id := range f.index.deleted {
		if id == "project:1" {
			t.Fatal("live document must not be removed")
		}
	}
}

func TestReconcile_UnwatchedTypeIsOrphaned(t *testing.T) {
	f := newFixture(t)

	// A type that was watched once but no longer is.
	docs := []domain.SearchResult{indexedDoc("legacy:1", "legacy", "1")}
	f.index.listFn = func(_ context.Context, offset, _ int) ([]domain.SearchResult, int, error) {
		if offset >= len(docs) {
			return nil, len(docs), nil
		}
		return docs[offset:], len(docs), nil
	}

	report, err := f.svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Orphans != 1 || report.Removed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReconcile_DeleteFailureCounted(t *testing.T) {
	f := newFixture(t)

	docs := []domain.SearchResult{indexedDoc("project:2", "project", "2")}
	f.index.listFn = func(_ context.Context, offset, _ int) ([]domain.SearchResult, int, error) {
		if offset >= len(docs) {
			return nil, len(docs), nil
		}
		return docs[offset:], len(docs), nil
	}
	f.index.deleteFn = func(context.Context, string) error { return errDown }

	report, err := f.svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Orphans != 1 || report.Removed != 0 || report.Failures != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReconcile_ContentFetchFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.content.findAllFn = func(context.Context, schema.Schema) ([]domain.ContentRecord, error) {
		return nil, errDown
	}

	if _, err := f.svc.Reconcile(context.Background()); err == nil {
		t.Fatal("expected error when the content store is unreachable")
	}
	if len(f.index.deleted) != 0 {
		t.Fatal("nothing may be deleted on an incomplete live snapshot")
	}
}
