package formatter

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestFormatter(t *testing.T) *Formatter {
	t.Helper()
	return New(zap.NewNop()).WithClock(fixedClock)
}

func projectSchema() schema.Schema {
	return schema.Schema{
		Type:           "project",
		TextFields:     []string{"title", "description"},
		MetadataFields: []string{"skills", "category", "github_link", "featured"},
		Formats: map[string]schema.FieldFormat{
			"skills": {NameKey: "name", DetailKey: "level"},
		},
	}
}

func TestFormat_TextLinesInDeclaredOrder(t *testing.T) {
	f := newTestFormatter(t)

	text, _ := f.Format(domain.ContentRecord{
		ID:   "7",
		Type: "project",
		Fields: map[string]any{
			"description": "Angular and a CMS",
			"title":       "Portfolio",
		},
	}, projectSchema())

	want := "title: Portfolio\ndescription: Angular and a CMS"
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
}

func TestFormat_RichTextFlattening(t *testing.T) {
	f := newTestFormatter(t)

	blocks := []any{
		map[string]any{"children": []any{
			map[string]any{"text": "Built with"},
			map[string]any{"text": "Angular"},
		}},
		map[string]any{"children": []any{
			map[string]any{"text": "and a headless CMS"},
		}},
	}

	text, _ := f.Format(domain.ContentRecord{
		ID:     "7",
		Type:   "project",
		Fields: map[string]any{"title": "Portfolio", "description": blocks},
	}, projectSchema())

	if !strings.Contains(text, "description: Built with Angular and a headless CMS") {
		t.Fatalf("rich text not flattened: %q", text)
	}
}

func TestFormat_EmptyTextIsDetectable(t *testing.T) {
	f := newTestFormatter(t)

	text, metadata := f.Format(domain.ContentRecord{
		ID:     "9",
		Type:   "project",
		Fields: map[string]any{"unrelated": "value"},
	}, projectSchema())

	if text != "" {
		t.Fatalf("expected empty text, got %q", text)
	}
	// Metadata is still produced; the caller decides to skip indexing.
	if metadata[domain.MetaSourceID] != "9" {
		t.Fatalf("expected source_id in metadata, got %v", metadata)
	}
}

func TestFormat_BaseMetadata(t *testing.T) {
	f := newTestFormatter(t)

	_, metadata := f.Format(domain.ContentRecord{
		ID:     "7",
		Type:   "project",
		Fields: map[string]any{"title": "Portfolio"},
	}, projectSchema())

	if metadata[domain.MetaSourceType] != "project" {
		t.Errorf("expected source_type=project, got %q", metadata[domain.MetaSourceType])
	}
	if metadata[domain.MetaSourceID] != "7" {
		t.Errorf("expected source_id=7, got %q", metadata[domain.MetaSourceID])
	}
	if metadata[domain.MetaIndexedAt] != "2025-06-01T12:00:00Z" {
		t.Errorf("expected fixed indexed_at, got %q", metadata[domain.MetaIndexedAt])
	}
}

func TestFormat_ListOfObjectsWithFormat(t *testing.T) {
	f := newTestFormatter(t)

	_, metadata := f.Format(domain.ContentRecord{
		ID:   "7",
		Type: "project",
		Fields: map[string]any{
			"title": "Portfolio",
			"skills": []any{
				map[string]any{"id": float64(1), "name": "Angular", "level": "expert"},
				map[string]any{"id": float64(2), "name": "TypeScript", "level": "advanced"},
			},
		},
	}, projectSchema())

	if metadata["skills_ids"] != "1,2" {
		t.Errorf("expected skills_ids=1,2, got %q", metadata["skills_ids"])
	}
	if metadata["skills_names"] != "Angular (expert),TypeScript (advanced)" {
		t.Errorf("unexpected skills_names: %q", metadata["skills_names"])
	}
}

func TestFormat_SingleObjectHeuristicName(t *testing.T) {
	f := newTestFormatter(t)

	sc := projectSchema()
	_, metadata := f.Format(domain.ContentRecord{
		ID:   "7",
		Type: "project",
		Fields: map[string]any{
			"title":    "Portfolio",
			"category": map[string]any{"id": float64(3), "title": "Web"},
		},
	}, sc)

	if metadata["category_id"] != "3" {
		t.Errorf("expected category_id=3, got %q", metadata["category_id"])
	}
	if metadata["category_name"] != "Web" {
		t.Errorf("expected category_name=Web, got %q", metadata["category_name"])
	}
}

func TestFormat_ScalarsPassThrough(t *testing.T) {
	f := newTestFormatter(t)

	_, metadata := f.Format(domain.ContentRecord{
		ID:   "7",
		Type: "project",
		Fields: map[string]any{
			"title":       "Portfolio",
			"github_link": "https://github.com/owner/portfolio",
			"featured":    true,
		},
	}, projectSchema())

	if metadata["github_link"] != "https://github.com/owner/portfolio" {
		t.Errorf("unexpected github_link: %q", metadata["github_link"])
	}
	if metadata["featured"] != "true" {
		t.Errorf("unexpected featured: %q", metadata["featured"])
	}
}

func TestFormat_UnserializableFieldDroppedNotRaised(t *testing.T) {
	f := newTestFormatter(t)

	_, metadata := f.Format(domain.ContentRecord{
		ID:   "7",
		Type: "project",
		Fields: map[string]any{
			"title":  "Portfolio",
			"skills": []any{"not-an-object"},
		},
	}, projectSchema())

	if _, ok := metadata["skills_ids"]; ok {
		t.Error("expected unreducible list to be dropped")
	}
	if _, ok := metadata["skills_names"]; ok {
		t.Error("expected unreducible list to be dropped")
	}
	// Base metadata survives the drop.
	if metadata[domain.MetaSourceID] != "7" {
		t.Errorf("expected base metadata intact, got %v", metadata)
	}
}

func TestFormat_JSONNumberFields(t *testing.T) {
	// Webhook payloads are decoded with UseNumber, so numeric fields arrive
	// as json.Number instead of float64; both decodings must index the same.
	f := newTestFormatter(t)

	sc := schema.Schema{
		Type:           "formation",
		TextFields:     []string{"degree", "year"},
		MetadataFields: []string{"year"},
	}

	text, metadata := f.Format(domain.ContentRecord{
		ID:   "3",
		Type: "formation",
		Fields: map[string]any{
			"degree": "Master",
			"year":   json.Number("2020"),
		},
	}, sc)

	if !strings.Contains(text, "year: 2020") {
		t.Errorf("numeric text field missing: %q", text)
	}
	if metadata["year"] != "2020" {
		t.Errorf("expected year=2020 in metadata, got %v", metadata)
	}
}

func TestFormat_JSONNumberObjectID(t *testing.T) {
	f := newTestFormatter(t)

	_, metadata := f.Format(domain.ContentRecord{
		ID:   "7",
		Type: "project",
		Fields: map[string]any{
			"title": "Portfolio",
			"skills": []any{
				map[string]any{"id": json.Number("4"), "name": "Angular", "level": "expert"},
			},
		},
	}, projectSchema())

	if metadata["skills_ids"] != "4" {
		t.Errorf("expected skills_ids=4, got %q", metadata["skills_ids"])
	}
	if metadata["skills_names"] != "Angular (expert)" {
		t.Errorf("unexpected skills_names: %q", metadata["skills_names"])
	}
}

func TestScalarString(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"  Web  ", "Web"},
		{true, "true"},
		{7, "7"},
		{int64(8), "8"},
		{float64(9), "9"},
		{json.Number("2020"), "2020"},
		{map[string]any{"nested": "object"}, ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := scalarString(tc.in); got != tc.want {
			t.Errorf("scalarString(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFlattenValue_NumbersAndNesting(t *testing.T) {
	if got := flattenValue(float64(42)); got != "42" {
		t.Errorf("expected 42, got %q", got)
	}
	if got := flattenValue(3.5); got != "3.5" {
		t.Errorf("expected 3.5, got %q", got)
	}
	nested := map[string]any{"children": []any{
		map[string]any{"children": []any{map[string]any{"text": "deep"}}},
	}}
	if got := flattenValue(nested); got != "deep" {
		t.Errorf("expected deep, got %q", got)
	}
}
