package domain

// KeyPrefix namespaces every key this service writes to the backing store.
const KeyPrefix = "ragdex:"

// Reserved metadata keys present on every indexed document.
const (
	MetaSourceType = "source_type"
	MetaSourceID   = "source_id"
	MetaIndexedAt  = "indexed_at"
)

// IndexedDocument is the unit stored in the vector index. At most one
// document exists per DocumentID at any time (upsert semantics).
type IndexedDocument struct {
	DocumentID string
	Text       string
	Metadata   map[string]string
	Embedding  []float32
}

// SourceType returns the originating content type.
func (d *IndexedDocument) SourceType() string { return d.Metadata[MetaSourceType] }

// SourceID returns the originating record id.
func (d *IndexedDocument) SourceID() string { return d.Metadata[MetaSourceID] }
