package index

import (
	"context"

	"github.com/folio-cloud/ragdex/internal/db"
)

// mockStore implements store with overridable behavior per test.
type mockStore struct {
	jsonSetFn     func(ctx context.Context, key, path string, data []byte) error
	delFn         func(ctx context.Context, key string) error
	scanFn        func(ctx context.Context, pattern string) ([]string, error)
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	dropIndexFn   func(ctx context.Context, name string) error
	searchKNNFn   func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchListFn  func(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
	searchCountFn func(ctx context.Context, index, query string) (int, error)
}

// newMockStore returns a mock whose every operation succeeds and returns
// empty results. Tests override the calls they care about.
func newMockStore() *mockStore {
	return &mockStore{
		jsonSetFn:     func(context.Context, string, string, []byte) error { return nil },
		delFn:         func(context.Context, string) error { return nil },
		scanFn:        func(context.Context, string) ([]string, error) { return nil, nil },
		createIndexFn: func(context.Context, *db.IndexDefinition) error { return nil },
		dropIndexFn:   func(context.Context, string) error { return nil },
		searchKNNFn: func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
			return &db.SearchResult{}, nil
		},
		searchListFn: func(context.Context, string, string, int, int, []string) (*db.SearchResult, error) {
			return &db.SearchResult{}, nil
		},
		searchCountFn: func(context.Context, string, string) (int, error) { return 0, nil },
	}
}

func (m *mockStore) JSONSet(ctx context.Context, key, path string, data []byte) error {
	return m.jsonSetFn(ctx, key, path, data)
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	return m.delFn(ctx, key)
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	return m.scanFn(ctx, pattern)
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	return m.createIndexFn(ctx, def)
}

func (m *mockStore) DropIndex(ctx context.Context, name string) error {
	return m.dropIndexFn(ctx, name)
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	return m.searchKNNFn(ctx, q)
}

func (m *mockStore) SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error) {
	return m.searchListFn(ctx, index, query, offset, limit, fields)
}

func (m *mockStore) SearchCount(ctx context.Context, index, query string) (int, error) {
	return m.searchCountFn(ctx, index, query)
}
