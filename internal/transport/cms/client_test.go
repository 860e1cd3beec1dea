package cms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
)

func projectSchema() schema.Schema {
	return schema.Schema{Type: "project", APIPath: "projects"}
}

func newTestClient(baseURL string) *Client {
	return NewClient(&Config{
		BaseURL: baseURL,
		Token:   "cms-token",
		Timeout: 5 * time.Second,
		Logger:  zap.NewNop(),
	})
}

func TestFindOne_FlattensRelations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects/7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("populate") != "*" {
			t.Errorf("expected populate=*, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer cms-token" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}

		w.Write([]byte(`{
			"data": {
				"id": 7,
				"attributes": {
					"title": "Portfolio",
					"category": {"data": {"id": 3, "attributes": {"name": "Web"}}},
					"skills": {"data": [
						{"id": 1, "attributes": {"name": "Angular", "level": "expert"}},
						{"id": 2, "attributes": {"name": "TypeScript", "level": "advanced"}}
					]},
					"cover": {"data": null}
				}
			}
		}`))
	}))
	defer server.Close()

	rec, err := newTestClient(server.URL).FindOne(context.Background(), projectSchema(), "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.ID != "7" || rec.Type != "project" {
		t.Fatalf("unexpected record identity %+v", rec)
	}
	if rec.Fields["title"] != "Portfolio" {
		t.Errorf("unexpected title %v", rec.Fields["title"])
	}

	category, ok := rec.Fields["category"].(map[string]any)
	if !ok || category["name"] != "Web" {
		t.Errorf("relation not flattened: %v", rec.Fields["category"])
	}
	if _, hasID := category["id"]; !hasID {
		t.Errorf("flattened relation lost its id: %v", category)
	}

	skills, ok := rec.Fields["skills"].([]any)
	if !ok || len(skills) != 2 {
		t.Fatalf("list relation not flattened: %v", rec.Fields["skills"])
	}
	first, _ := skills[0].(map[string]any)
	if first["name"] != "Angular" || first["level"] != "expert" {
		t.Errorf("unexpected first skill %v", first)
	}

	if _, present := rec.Fields["cover"]; present {
		t.Errorf("unset relation should be dropped, got %v", rec.Fields["cover"])
	}
}

func TestFindOne_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FindOne(context.Background(), projectSchema(), "404")
	if !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestFindAll_Paginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("pagination[page]")
		switch page {
		case "1":
			fmt.Fprint(w, `{
				"data": [
					{"id": 1, "attributes": {"title": "One"}},
					{"id": 2, "attributes": {"title": "Two"}}
				],
				"meta": {"pagination": {"page": 1, "pageCount": 2, "total": 3}}
			}`)
		case "2":
			fmt.Fprint(w, `{
				"data": [{"id": 3, "attributes": {"title": "Three"}}],
				"meta": {"pagination": {"page": 2, "pageCount": 2, "total": 3}}
			}`)
		default:
			t.Errorf("unexpected page %q", page)
		}
	}))
	defer server.Close()

	records, err := newTestClient(server.URL).FindAll(context.Background(), projectSchema())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[2].ID != "3" || records[2].Fields["title"] != "Three" {
		t.Fatalf("unexpected last record %+v", records[2])
	}
}

func TestFindAll_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FindAll(context.Background(), projectSchema())
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}
