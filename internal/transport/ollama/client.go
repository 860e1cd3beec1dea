package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
)

// Client talks to a local Ollama server over its native HTTP API.
// Responses are requested non-streaming: the analyzer needs the full
// completion before it can extract anything from it.
type Client struct {
	baseURL      string
	model        string
	numCtx       int
	httpClient   *http.Client
	probeTimeout time.Duration
	logger       *zap.Logger
}

// Config holds the local model settings.
type Config struct {
	BaseURL      string
	Model        string
	NumCtx       int
	Timeout      time.Duration
	ProbeTimeout time.Duration
	Logger       *zap.Logger
}

// NewClient creates an Ollama API client.
func NewClient(cfg *Config) *Client {
	return &Client{
		baseURL:      cfg.BaseURL,
		model:        cfg.Model,
		numCtx:       cfg.NumCtx,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float32 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a single prompt through the model and returns the raw
// completion text. Temperature is pinned near zero: the callers want
// deterministic classification output, not prose.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.1,
			NumCtx:      c.numCtx,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generate: %w: %w", err, domain.ErrAnalyzerUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generate: status %d: %s: %w", resp.StatusCode, body, domain.ErrAnalyzerUnavailable)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w: %w", err, domain.ErrAnalyzerUnavailable)
	}

	return out.Response, nil
}

// Ping probes server availability with a tight deadline. The analyzer
// calls this before every classification so an absent local model costs
// at most the probe timeout, not the full generate timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("probe: %w: %w", err, domain.ErrAnalyzerUnavailable)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe: status %d: %w", resp.StatusCode, domain.ErrAnalyzerUnavailable)
	}
	return nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}
