package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
)

const pageSize = 100

// Client fetches content records from the headless content store. Relations
// are always populated so the formatter sees resolved objects, never bare
// foreign keys.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds the content-store client settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewClient creates a content-store API client.
func NewClient(cfg *Config) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     cfg.Logger,
	}
}

// envelope is the content-store response shape: one entry or a list,
// depending on the route.
type envelope struct {
	Data json.RawMessage `json:"data"`
	Meta struct {
		Pagination struct {
			Page      int `json:"page"`
			PageCount int `json:"pageCount"`
			Total     int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
}

type entry struct {
	ID         json.Number    `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// FindOne fetches a single record with relations resolved.
// A 404 maps to domain.ErrRecordNotFound.
func (c *Client) FindOne(ctx context.Context, sc schema.Schema, id string) (domain.ContentRecord, error) {
	query := url.Values{"populate": {"*"}}
	env, err := c.get(ctx, fmt.Sprintf("/api/%s/%s", sc.APIPath, url.PathEscape(id)), query)
	if err != nil {
		return domain.ContentRecord{}, err
	}

	var e entry
	if err := json.Unmarshal(env.Data, &e); err != nil {
		return domain.ContentRecord{}, fmt.Errorf("decode %s %s: %w", sc.Type, id, err)
	}
	return toRecord(sc.Type, e), nil
}

// FindAll fetches every record of a type, paging through the collection.
func (c *Client) FindAll(ctx context.Context, sc schema.Schema) ([]domain.ContentRecord, error) {
	var records []domain.ContentRecord

	for page := 1; ; page++ {
		query := url.Values{
			"populate":             {"*"},
			"pagination[page]":     {strconv.Itoa(page)},
			"pagination[pageSize]": {strconv.Itoa(pageSize)},
		}
		env, err := c.get(ctx, "/api/"+sc.APIPath, query)
		if err != nil {
			return nil, err
		}

		var entries []entry
		if err := json.Unmarshal(env.Data, &entries); err != nil {
			return nil, fmt.Errorf("decode %s page %d: %w", sc.Type, page, err)
		}
		for _, e := range entries {
			records = append(records, toRecord(sc.Type, e))
		}

		if page >= env.Meta.Pagination.PageCount || len(entries) == 0 {
			return records, nil
		}
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("content store %s: %w", path, domain.ErrRecordNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("content store %s: status %d: %s", path, resp.StatusCode, body)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode content store response: %w", err)
	}
	return &env, nil
}

// toRecord flattens the store's envelope into a plain record: relation
// wrappers ({data: {id, attributes}}) are collapsed so downstream code
// sees resolved objects.
func toRecord(recordType string, e entry) domain.ContentRecord {
	fields := make(map[string]any, len(e.Attributes))
	for name, value := range e.Attributes {
		if v := flattenRelation(value); v != nil {
			fields[name] = v
		}
	}
	return domain.ContentRecord{
		ID:     e.ID.String(),
		Type:   recordType,
		Fields: fields,
	}
}

func flattenRelation(value any) any {
	obj, ok := value.(map[string]any)
	if !ok {
		return value
	}

	data, hasData := obj["data"]
	if !hasData {
		return value
	}

	switch d := data.(type) {
	case map[string]any:
		return flattenEntry(d)
	case []any:
		items := make([]any, 0, len(d))
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				items = append(items, flattenEntry(m))
			}
		}
		return items
	default:
		// data: null — unset relation
		return nil
	}
}

func flattenEntry(m map[string]any) any {
	attrs, ok := m["attributes"].(map[string]any)
	if !ok {
		return m
	}

	flat := make(map[string]any, len(attrs)+1)
	if id, ok := m["id"]; ok {
		flat["id"] = id
	}
	for k, v := range attrs {
		flat[k] = v
	}
	return flat
}
