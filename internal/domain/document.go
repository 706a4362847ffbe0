package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DocumentStatus is the processing state of a document. The in-progress
// values double as stage names in failure reports.
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusExtracting DocumentStatus = "extracting"
	DocumentStatusCleaning   DocumentStatus = "cleaning"
	DocumentStatusChunking   DocumentStatus = "chunking"
	DocumentStatusEmbedding  DocumentStatus = "embedding"
	DocumentStatusIndexing   DocumentStatus = "indexing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded file owned by a Collection.
type Document struct {
	ID              string
	CollectionID    string
	Filename        string
	StorageKey      string
	CharCount       int
	Status          DocumentStatus
	FailedStage     DocumentStatus
	FailureReason   string
	VectorStorePath string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewDocument creates a document in the uploaded state.
func NewDocument(id, collectionID, filename, storageKey string, createdAt time.Time) *Document {
	return &Document{
		ID:           id,
		CollectionID: collectionID,
		Filename:     filename,
		StorageKey:   storageKey,
		Status:       DocumentStatusUploaded,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

// Extension returns the declared, lower-cased file extension including the dot.
func (d *Document) Extension() string {
	return strings.ToLower(filepath.Ext(d.Filename))
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.CollectionID == "" {
		return fmt.Errorf("document CollectionID is required")
	}

	if d.Filename == "" {
		return fmt.Errorf("document Filename is required")
	}

	if d.StorageKey == "" {
		return fmt.Errorf("document StorageKey is required")
	}

	if !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}

	if d.CharCount < 0 {
		return fmt.Errorf("document CharCount cannot be negative")
	}

	return nil
}

// IsTerminal reports whether no further stage runs from s.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusReady || s == DocumentStatusFailed
}

// next holds the single forward transition of each in-progress state.
var next = map[DocumentStatus]DocumentStatus{
	DocumentStatusExtracting: DocumentStatusCleaning,
	DocumentStatusCleaning:   DocumentStatusChunking,
	DocumentStatusChunking:   DocumentStatusEmbedding,
	DocumentStatusEmbedding:  DocumentStatusIndexing,
	DocumentStatusIndexing:   DocumentStatusReady,
}

// CanTransition reports whether a document may move from one status to another.
// Uploaded and terminal documents may (re)enter extracting; in-progress states
// advance one step at a time or fail.
func CanTransition(from, to DocumentStatus) bool {
	switch {
	case to == DocumentStatusExtracting:
		return from == DocumentStatusUploaded || from.IsTerminal()
	case to == DocumentStatusFailed:
		_, inProgress := next[from]
		return inProgress
	default:
		return next[from] == to
	}
}

func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusUploaded, DocumentStatusExtracting, DocumentStatusCleaning,
		DocumentStatusChunking, DocumentStatusEmbedding, DocumentStatusIndexing,
		DocumentStatusReady, DocumentStatusFailed:
		return true
	}
	return false
}
