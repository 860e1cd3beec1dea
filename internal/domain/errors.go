package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable signals that the vector store backend is unreachable.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrRecordNotFound signals a missing content record.
	ErrRecordNotFound = errors.New("record not found")
	// ErrUnknownType signals a content type with no configured schema.
	ErrUnknownType = errors.New("unknown content type")
	// ErrEmptyContent signals a record that produced no text to embed.
	ErrEmptyContent = errors.New("empty content")
	// ErrAnalysisParse signals an unparseable relevance-model response.
	ErrAnalysisParse = errors.New("analysis response not parseable")
	// ErrAnalyzerUnavailable signals that the local relevance model is unreachable.
	ErrAnalyzerUnavailable = errors.New("relevance model unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrRetrievalFailed signals a read-path failure the caller may mask as no context.
	ErrRetrievalFailed = errors.New("retrieval failed")
)

// SyncJobError wraps a failure in a single record's indexing pipeline with
// enough context (type, id, stage) for manual replay.
type SyncJobError struct {
	Type  string
	ID    string
	Stage string
	Err   error
}

func (e *SyncJobError) Error() string {
	return fmt.Sprintf("sync %s:%s failed at %s: %v", e.Type, e.ID, e.Stage, e.Err)
}

func (e *SyncJobError) Unwrap() error { return e.Err }
