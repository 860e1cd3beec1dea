package index

import (
	"encoding/json"
	"fmt"

	"github.com/folio-cloud/ragdex/internal/db"
	"github.com/folio-cloud/ragdex/internal/domain"
)

// jsonDoc is the stored shape of an indexed document. source_type and
// source_id are lifted to the top level so FT can index them as TAGs;
// everything else the formatter produced lives under meta.
type jsonDoc struct {
	Text       string            `json:"text"`
	SourceType string            `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Meta       map[string]string `json:"meta,omitempty"`
	Embedding  []float32         `json:"embedding"`
}

func marshalDoc(doc *domain.IndexedDocument) ([]byte, error) {
	out := jsonDoc{
		Text:       doc.Text,
		SourceType: doc.SourceType(),
		SourceID:   doc.SourceID(),
		Embedding:  doc.Embedding,
	}
	for k, v := range doc.Metadata {
		if k == domain.MetaSourceType || k == domain.MetaSourceID {
			continue
		}
		if out.Meta == nil {
			out.Meta = make(map[string]string, len(doc.Metadata))
		}
		out.Meta[k] = v
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

func indexDefinition(vectorDim int) *db.IndexDefinition {
	return &db.IndexDefinition{
		Name:        indexName(),
		StorageType: db.StorageJSON,
		Prefixes:    []string{docKeyPrefix()},
		Fields: []db.IndexField{
			{Name: "$.text", Alias: "text", Type: db.IndexFieldText},
			{Name: "$.source_type", Alias: domain.MetaSourceType, Type: db.IndexFieldTag},
			{Name: "$.source_id", Alias: domain.MetaSourceID, Type: db.IndexFieldTag},
			{
				Name:           "$.embedding",
				Alias:          "embedding",
				Type:           db.IndexFieldVector,
				VectorAlgo:     db.VectorFlat,
				VectorDim:      vectorDim,
				VectorDistance: db.DistanceCosine,
			},
		},
	}
}

func returnFields() []string {
	return []string{"text", domain.MetaSourceType, domain.MetaSourceID, "$.meta"}
}

// entryToResult rebuilds a search result from the returned fields. The
// meta JSON path comes back as a serialized object; a corrupt blob loses
// the extra metadata but never the hit itself.
func entryToResult(entry db.SearchEntry) domain.SearchResult {
	metadata := map[string]string{
		domain.MetaSourceType: entry.Fields[domain.MetaSourceType],
		domain.MetaSourceID:   entry.Fields[domain.MetaSourceID],
	}
	if raw, ok := entry.Fields["$.meta"]; ok && raw != "" {
		var meta map[string]string
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			for k, v := range meta {
				metadata[k] = v
			}
		}
	}

	return domain.SearchResult{
		DocumentID: documentIDFromKey(entry.Key),
		Text:       entry.Fields["text"],
		Metadata:   metadata,
		Distance:   entry.Score,
	}
}
