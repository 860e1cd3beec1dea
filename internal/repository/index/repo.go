package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/folio-cloud/ragdex/internal/db"
	"github.com/folio-cloud/ragdex/internal/domain"
)

// Page size used when walking the index (purge, list types, reconcile).
const walkPageSize = 200

// store is the consumer interface for the vector index (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Repo is the vector store adapter. It owns the embedding collection: the
// delete-then-insert upsert emulation lives entirely here because the
// backing store treats JSON.SET under an indexed prefix as insert for FT
// purposes and the service must never hold two documents per id.
// Safe for concurrent use; the collection handle is established lazily.
type Repo struct {
	store     store
	vectorDim int

	mu    sync.Mutex
	ready bool
}

// New creates the vector index repository.
func New(s store, vectorDim int) *Repo {
	return &Repo{store: s, vectorDim: vectorDim}
}

// EnsureCollection creates the backing index if absent. Concurrent callers
// converge on the same handle: "already exists" from a racing creator is
// treated as success.
func (r *Repo) EnsureCollection(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(ctx)
}

func (r *Repo) ensureLocked(ctx context.Context) error {
	if r.ready {
		return nil
	}

	def := indexDefinition(r.vectorDim)
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w: %w", err, domain.ErrStoreUnavailable)
	}

	r.ready = true
	return nil
}

// Upsert replaces any existing document with the same id, then inserts.
// No retries here: batching callers own the retry policy.
func (r *Repo) Upsert(ctx context.Context, doc *domain.IndexedDocument) error {
	if err := r.EnsureCollection(ctx); err != nil {
		return err
	}

	key := docKey(doc.DocumentID)

	// Delete-then-insert: the order is required, never reversed.
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("delete before upsert %s: %w: %w", doc.DocumentID, err, domain.ErrStoreUnavailable)
	}

	data, err := marshalDoc(doc)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", doc.DocumentID, err)
	}
	if err := r.store.JSONSet(ctx, key, "$", data); err != nil {
		return fmt.Errorf("insert %s: %w: %w", doc.DocumentID, err, domain.ErrStoreUnavailable)
	}

	return nil
}

// Delete removes a document if present; absence is not an error.
func (r *Repo) Delete(ctx context.Context, documentID string) error {
	if err := r.store.Del(ctx, docKey(documentID)); err != nil {
		return fmt.Errorf("delete %s: %w: %w", documentID, err, domain.ErrStoreUnavailable)
	}
	return nil
}

// Query returns up to k results ordered by ascending distance.
func (r *Repo) Query(ctx context.Context, embedding []float32, k int) ([]domain.SearchResult, error) {
	if err := r.EnsureCollection(ctx); err != nil {
		return nil, err
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(),
		Vector:       embedding,
		K:            k,
		ReturnFields: returnFields(),
	})
	if err != nil {
		return nil, fmt.Errorf("knn search: %w: %w", err, domain.ErrStoreUnavailable)
	}

	results := make([]domain.SearchResult, 0, len(res.Entries))
	for _, entry := range res.Entries {
		results = append(results, entryToResult(entry))
	}
	return results, nil
}

// PurgeAll drops and recreates the collection. Hard reset.
func (r *Repo) PurgeAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.DropIndex(ctx, indexName()); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index: %w: %w", err, domain.ErrStoreUnavailable)
	}
	r.ready = false

	keys, err := r.store.Scan(ctx, docKeyPrefix()+"*")
	if err != nil {
		return fmt.Errorf("scan documents: %w: %w", err, domain.ErrStoreUnavailable)
	}
	for _, key := range keys {
		if err := r.store.Del(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w: %w", key, err, domain.ErrStoreUnavailable)
		}
	}

	return r.ensureLocked(ctx)
}

// PurgeByType deletes every document whose source_type equals the given type.
func (r *Repo) PurgeByType(ctx context.Context, sourceType string) error {
	if err := r.EnsureCollection(ctx); err != nil {
		return err
	}

	query := typeQuery(sourceType)
	for {
		res, err := r.store.SearchList(ctx, indexName(), query, 0, walkPageSize, nil)
		if err != nil {
			return fmt.Errorf("list %s documents: %w: %w", sourceType, err, domain.ErrStoreUnavailable)
		}
		if len(res.Entries) == 0 {
			return nil
		}
		for _, entry := range res.Entries {
			if err := r.store.Del(ctx, entry.Key); err != nil {
				return fmt.Errorf("delete %s: %w: %w", entry.Key, err, domain.ErrStoreUnavailable)
			}
		}
	}
}

// Count returns the number of indexed documents.
func (r *Repo) Count(ctx context.Context) (int, error) {
	if err := r.EnsureCollection(ctx); err != nil {
		return 0, err
	}

	n, err := r.store.SearchCount(ctx, indexName(), "*")
	if err != nil {
		return 0, fmt.Errorf("count documents: %w: %w", err, domain.ErrStoreUnavailable)
	}
	return n, nil
}

// CountByType returns the number of documents for one source type.
func (r *Repo) CountByType(ctx context.Context, sourceType string) (int, error) {
	if err := r.EnsureCollection(ctx); err != nil {
		return 0, err
	}

	n, err := r.store.SearchCount(ctx, indexName(), typeQuery(sourceType))
	if err != nil {
		return 0, fmt.Errorf("count %s documents: %w: %w", sourceType, err, domain.ErrStoreUnavailable)
	}
	return n, nil
}

// ListTypes tallies indexed documents per source type. Walks the whole
// index; introspection only, not performance-critical.
func (r *Repo) ListTypes(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := r.walk(ctx, []string{domain.MetaSourceType}, func(entry db.SearchEntry) {
		counts[entry.Fields[domain.MetaSourceType]]++
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// List returns a page of indexed documents without embeddings.
func (r *Repo) List(ctx context.Context, offset, limit int) ([]domain.SearchResult, int, error) {
	if err := r.EnsureCollection(ctx); err != nil {
		return nil, 0, err
	}

	res, err := r.store.SearchList(ctx, indexName(), "*", offset, limit, returnFields())
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w: %w", err, domain.ErrStoreUnavailable)
	}

	docs := make([]domain.SearchResult, 0, len(res.Entries))
	for _, entry := range res.Entries {
		docs = append(docs, entryToResult(entry))
	}
	return docs, res.Total, nil
}

// walk pages through the whole index invoking fn per entry.
func (r *Repo) walk(ctx context.Context, fields []string, fn func(db.SearchEntry)) error {
	if err := r.EnsureCollection(ctx); err != nil {
		return err
	}

	offset := 0
	for {
		res, err := r.store.SearchList(ctx, indexName(), "*", offset, walkPageSize, fields)
		if err != nil {
			return fmt.Errorf("walk index: %w: %w", err, domain.ErrStoreUnavailable)
		}
		if len(res.Entries) == 0 {
			return nil
		}
		for _, entry := range res.Entries {
			fn(entry)
		}
		offset += len(res.Entries)
		if offset >= res.Total {
			return nil
		}
	}
}

// Key layout: ragdex:doc:<type>:<id>, index ragdex:doc:idx

func docKeyPrefix() string {
	return domain.KeyPrefix + "doc:"
}

func docKey(documentID string) string {
	return docKeyPrefix() + documentID
}

func indexName() string {
	return domain.KeyPrefix + "doc:idx"
}

func documentIDFromKey(key string) string {
	return strings.TrimPrefix(key, docKeyPrefix())
}

func typeQuery(sourceType string) string {
	return fmt.Sprintf("@%s:{%s}", domain.MetaSourceType, sourceType)
}
