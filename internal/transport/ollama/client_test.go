package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
)

func newTestClient(baseURL string) *Client {
	return NewClient(&Config{
		BaseURL:      baseURL,
		Model:        "llama3.2:1b",
		NumCtx:       2048,
		Timeout:      5 * time.Second,
		ProbeTimeout: 500 * time.Millisecond,
		Logger:       zap.NewNop(),
	})
}

func TestGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Model != "llama3.2:1b" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if req.Options.NumCtx != 2048 {
			t.Errorf("unexpected num_ctx %d", req.Options.NumCtx)
		}
		if req.Options.Temperature > 0.2 {
			t.Errorf("expected near-zero temperature, got %f", req.Options.Temperature)
		}

		json.NewEncoder(w).Encode(generateResponse{Response: `{"shouldUseRAG": true}`, Done: true})
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Generate(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"shouldUseRAG": true}` {
		t.Fatalf("unexpected response %q", out)
	}
}

func TestGenerate_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Generate(context.Background(), "classify this")
	if !errors.Is(err, domain.ErrAnalyzerUnavailable) {
		t.Fatalf("expected ErrAnalyzerUnavailable, got %v", err)
	}
}

func TestGenerate_ConnectionRefused(t *testing.T) {
	_, err := newTestClient("http://127.0.0.1:1").Generate(context.Background(), "classify this")
	if !errors.Is(err, domain.ErrAnalyzerUnavailable) {
		t.Fatalf("expected ErrAnalyzerUnavailable, got %v", err)
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	if err := newTestClient(server.URL).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Down(t *testing.T) {
	err := newTestClient("http://127.0.0.1:1").Ping(context.Background())
	if !errors.Is(err, domain.ErrAnalyzerUnavailable) {
		t.Fatalf("expected ErrAnalyzerUnavailable, got %v", err)
	}
}
