// Package vectorstore persists one vector collection per document.
package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/docpipe/internal/domain"
)

// Metadata ties a record back to its chunk.
type Metadata struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
}

// Record is one indexed chunk.
type Record struct {
	Vector   []float32 `json:"vector"`
	Text     string    `json:"text"`
	Metadata Metadata  `json:"metadata"`
}

// Store replaces, reads and removes a document's collection. Upsert either
// commits the new collection completely or leaves the previous one intact,
// and returns the location it was written to.
type Store interface {
	Upsert(ctx context.Context, documentID string, records []Record) (string, error)
	Load(ctx context.Context, documentID string) ([]Record, error)
	Delete(ctx context.Context, documentID string) error
}

// validateDocumentID rejects ids that would escape the collection root.
func validateDocumentID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return domain.NewStorageError(fmt.Sprintf("invalid document id %q", id), nil)
	}
	return nil
}
