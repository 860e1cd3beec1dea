package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
)

func TestOnRecordSaved_IndexesWatchedRecord(t *testing.T) {
	f := newFixture(t)

	f.svc.OnRecordSaved(context.Background(), projectRecord("7", "Portfolio", "Angular and a CMS"))

	if len(f.index.upserted) != 1 || f.index.upserted[0] != "project:7" {
		t.Fatalf("expected project:7 upserted, got %v", f.index.upserted)
	}
	if f.embedder.calls != 1 {
		t.Fatalf("expected 1 embed call, got %d", f.embedder.calls)
	}
}

func TestOnRecordSaved_UnwatchedTypeIgnored(t *testing.T) {
	f := newFixture(t)

	f.svc.OnRecordSaved(context.Background(), domain.ContentRecord{
		ID:     "1",
		Type:   "note",
		Fields: map[string]any{"body": "text"},
	})

	if len(f.index.upserted) != 0 || f.embedder.calls != 0 {
		t.Fatalf("unwatched type must be ignored, got upserts=%v embeds=%d", f.index.upserted, f.embedder.calls)
	}
}

func TestOnRecordSaved_FailureIsSwallowed(t *testing.T) {
	f := newFixture(t)

	// Embed fails; the caller must see nothing.
	f.svc.OnRecordSaved(context.Background(), projectRecord("7", "Portfolio", "BROKEN description"))

	if len(f.index.upserted) != 0 {
		t.Fatalf("failed pipeline must not upsert, got %v", f.index.upserted)
	}
}

func TestOnRecordDeleted_RemovesDocument(t *testing.T) {
	f := newFixture(t)

	f.svc.OnRecordDeleted(context.Background(), "project", "7")

	if len(f.index.deleted) != 1 || f.index.deleted[0] != "project:7" {
		t.Fatalf("expected project:7 deleted, got %v", f.index.deleted)
	}
}

func TestOnRecordDeleted_FailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.index.deleteFn = func(context.Context, string) error { return errDown }

	// Must not panic or propagate.
	f.svc.OnRecordDeleted(context.Background(), "project", "7")
}

func TestOnRecordDeleted_UnwatchedTypeIgnored(t *testing.T) {
	f := newFixture(t)

	f.svc.OnRecordDeleted(context.Background(), "note", "1")

	if len(f.index.deleted) != 0 {
		t.Fatalf("unwatched type must be ignored, got %v", f.index.deleted)
	}
}

func TestSyncOne_FetchesFreshRecord(t *testing.T) {
	f := newFixture(t)
	f.content.findOneFn = func(_ context.Context, sc schema.Schema, id string) (domain.ContentRecord, error) {
		if sc.APIPath != "projects" || id != "7" {
			t.Errorf("unexpected fetch %s/%s", sc.APIPath, id)
		}
		return projectRecord("7", "Portfolio", "Angular and a CMS"), nil
	}

	if err := f.svc.SyncOne(context.Background(), "project", "7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.index.upserted) != 1 || f.index.upserted[0] != "project:7" {
		t.Fatalf("expected project:7 upserted, got %v", f.index.upserted)
	}
}

func TestSyncOne_UnknownType(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SyncOne(context.Background(), "gadget", "1")
	if !errors.Is(err, domain.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestSyncOne_FailureNamesStage(t *testing.T) {
	f := newFixture(t)
	f.content.findOneFn = func(context.Context, schema.Schema, string) (domain.ContentRecord, error) {
		return projectRecord("7", "Portfolio", "BROKEN"), nil
	}

	err := f.svc.SyncOne(context.Background(), "project", "7")
	var jobErr *domain.SyncJobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("expected SyncJobError, got %v", err)
	}
	if jobErr.Stage != "embedding" || jobErr.Type != "project" || jobErr.ID != "7" {
		t.Fatalf("unexpected job error %+v", jobErr)
	}
}

func TestSyncType_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.content.findAllFn = func(_ context.Context, sc schema.Schema) ([]domain.ContentRecord, error) {
		return []domain.ContentRecord{
			projectRecord("1", "One", "fine"),
			projectRecord("2", "Two", "BROKEN"),
			projectRecord("3", "Three", "fine"),
		}, nil
	}

	report, err := f.svc.SyncType(context.Background(), "project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Total != 3 || report.Errors != 1 || report.Synced != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(f.index.upserted) != 2 {
		t.Fatalf("expected the healthy records indexed, got %v", f.index.upserted)
	}
}

func TestSyncType_EmptyTextSkippedNotFailed(t *testing.T) {
	f := newFixture(t)
	f.content.findAllFn = func(context.Context, schema.Schema) ([]domain.ContentRecord, error) {
		return []domain.ContentRecord{
			{ID: "9", Type: "project", Fields: map[string]any{"unrelated": "x"}},
		}, nil
	}

	report, err := f.svc.SyncType(context.Background(), "project")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Errors != 0 || report.Synced != 1 {
		t.Fatalf("empty text must not count as an error, got %+v", report)
	}
	if len(f.index.upserted) != 0 {
		t.Fatalf("empty text must not be indexed, got %v", f.index.upserted)
	}
	if f.embedder.calls != 0 {
		t.Fatalf("empty text must not be embedded, got %d calls", f.embedder.calls)
	}
}

func TestSyncAll_AggregatesAndRecordsTimestamp(t *testing.T) {
	f := newFixture(t)
	f.content.findAllFn = func(_ context.Context, sc schema.Schema) ([]domain.ContentRecord, error) {
		switch sc.Type {
		case "project":
			return []domain.ContentRecord{projectRecord("1", "One", "fine")}, nil
		case "skill":
			return []domain.ContentRecord{
				{ID: "2", Type: "skill", Fields: map[string]any{"name": "Angular"}},
				{ID: "3", Type: "skill", Fields: map[string]any{"name": "Go"}},
			}, nil
		default:
			t.Errorf("unexpected type %s in full sync", sc.Type)
			return nil, nil
		}
	}

	report, err := f.svc.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 3 || report.Synced != 3 {
		t.Fatalf("unexpected report %+v", report)
	}

	last, err := f.svc.LastSync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !last.Equal(want) {
		t.Fatalf("expected last sync %v, got %v", want, last)
	}
}

func TestLastSync_NeverRun(t *testing.T) {
	f := newFixture(t)

	last, err := f.svc.LastSync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !last.IsZero() {
		t.Fatalf("expected zero time, got %v", last)
	}
}
