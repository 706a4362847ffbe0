package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/pagination"
	"github.com/cloo-solutions/docpipe/internal/storage"
	"github.com/cloo-solutions/docpipe/internal/telemetry"
	"github.com/google/uuid"
)

// CollectionRepositoryInterface defines persistence for collections.
type CollectionRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Collection) error
	GetByID(ctx context.Context, id string) (*domain.Collection, error)
	UpdateEmbeddingConfig(ctx context.Context, id string, cfg domain.ProcessConfig) error
}

// DocumentRepositoryInterface defines persistence for documents.
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByCollection(ctx context.Context, collectionID string, after *pagination.Cursor, limit int) ([]*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error
	SetCharCount(ctx context.Context, id string, charCount int) error
	MarkFailed(ctx context.Context, id string, stage domain.DocumentStatus, reason string) error
	MarkReady(ctx context.Context, id, vectorStorePath string) error
	ClearVectorStorePath(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// ChunkRepositoryInterface defines persistence for chunks.
type ChunkRepositoryInterface interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
	ListByDocument(ctx context.Context, documentID string, filter domain.ChunkFilter) ([]*domain.Chunk, error)
	GetByID(ctx context.Context, id int64) (*domain.Chunk, error)
	Update(ctx context.Context, id int64, enabled *bool, tags []string) (*domain.Chunk, error)
}

// ProcessingJobRepositoryInterface defines persistence for queued processing runs.
type ProcessingJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
	GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error)
}

// VectorDeleter removes a document's vector collection.
type VectorDeleter interface {
	Delete(ctx context.Context, documentID string) error
}

// ConfigChecker validates an embedding configuration without side effects.
type ConfigChecker interface {
	Check(cfg domain.EmbeddingConfig) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// DocumentService handles collections, uploads and chunk curation.
type DocumentService struct {
	collections CollectionRepositoryInterface
	documents   DocumentRepositoryInterface
	chunks      ChunkRepositoryInterface
	jobs        ProcessingJobRepositoryInterface
	blobs       storage.BlobStore
	vectors     VectorDeleter
	checker     ConfigChecker
	locks       *DocumentLocks
	uuidGen     UUIDGenerator
	logger      *slog.Logger
}

// DocumentServiceDeps groups the collaborators of DocumentService.
type DocumentServiceDeps struct {
	Collections CollectionRepositoryInterface
	Documents   DocumentRepositoryInterface
	Chunks      ChunkRepositoryInterface
	Jobs        ProcessingJobRepositoryInterface
	Blobs       storage.BlobStore
	Vectors     VectorDeleter
	Checker     ConfigChecker
	Locks       *DocumentLocks
	UUIDGen     UUIDGenerator
	Logger      *slog.Logger
}

func NewDocumentService(deps DocumentServiceDeps) *DocumentService {
	if deps.UUIDGen == nil {
		deps.UUIDGen = &DefaultUUIDGenerator{}
	}
	if deps.Locks == nil {
		deps.Locks = NewDocumentLocks()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &DocumentService{
		collections: deps.Collections,
		documents:   deps.Documents,
		chunks:      deps.Chunks,
		jobs:        deps.Jobs,
		blobs:       deps.Blobs,
		vectors:     deps.Vectors,
		checker:     deps.Checker,
		locks:       deps.Locks,
		uuidGen:     deps.UUIDGen,
		logger:      deps.Logger.With("component", "document-service"),
	}
}

// CreateCollectionInput represents the input for creating a collection
type CreateCollectionInput struct {
	Name string
	Type domain.CollectionType
}

func (s *DocumentService) CreateCollection(ctx context.Context, input CreateCollectionInput) (*domain.Collection, error) {
	if input.Type == "" {
		input.Type = domain.CollectionTypeDoc
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "collection name is required")
	}
	if !domain.IsValidCollectionType(input.Type) {
		return nil, domain.ErrInvalidCollectionType
	}

	c := domain.NewCollection(s.uuidGen.NewString(), input.Name, input.Type, time.Now().UTC())
	if err := domain.ValidateCollection(c); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid collection", err)
	}
	if err := s.collections.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *DocumentService) GetCollection(ctx context.Context, id string) (*domain.Collection, error) {
	return s.collections.GetByID(ctx, id)
}

// UploadInput represents a raw document upload.
type UploadInput struct {
	CollectionID string
	Filename     string
	Content      io.Reader
	Size         int64
	ContentType  string
}

// Upload stores the raw bytes and creates the document in the uploaded state.
// The format is not checked here; unsupported files fail when processed.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Upload", telemetry.SpanAttributes{
		CollectionID: input.CollectionID,
		Operation:    "upload",
	})
	defer span.End()

	filename := filepath.Base(strings.TrimSpace(input.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "filename is required")
	}
	if input.Content == nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "file content is required")
	}

	if _, err := s.collections.GetByID(ctx, input.CollectionID); err != nil {
		return nil, err
	}

	id := s.uuidGen.NewString()
	doc := domain.NewDocument(id, input.CollectionID, filename, blobKey(input.CollectionID, id, filename), time.Now().UTC())

	if err := s.blobs.Put(ctx, doc.StorageKey, input.Content, input.Size, input.ContentType); err != nil {
		span.SetError(err)
		return nil, domain.NewStorageError("failed to store upload", err)
	}

	if err := s.documents.Create(ctx, doc); err != nil {
		span.SetError(err)
		if derr := s.blobs.Delete(ctx, doc.StorageKey); derr != nil {
			s.logger.Warn("failed to remove orphaned upload", "key", doc.StorageKey, "error", derr)
		}
		return nil, err
	}

	s.logger.Info("document uploaded", "document_id", doc.ID, "collection_id", doc.CollectionID, "filename", doc.Filename)
	return doc, nil
}

func blobKey(collectionID, documentID, filename string) string {
	return fmt.Sprintf("collections/%s/%s%s", collectionID, documentID, strings.ToLower(filepath.Ext(filename)))
}

func (s *DocumentService) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	return s.documents.GetByID(ctx, id)
}

// ListDocumentsInput selects one page of a collection's documents.
type ListDocumentsInput struct {
	CollectionID string
	Cursor       string
	Limit        int
}

func (s *DocumentService) ListDocuments(ctx context.Context, input ListDocumentsInput) (*pagination.PageResult[*domain.Document], error) {
	after, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	if _, err := s.collections.GetByID(ctx, input.CollectionID); err != nil {
		return nil, err
	}

	limit := pagination.ClampLimit(input.Limit)
	docs, err := s.documents.ListByCollection(ctx, input.CollectionID, after, limit+1)
	if err != nil {
		return nil, err
	}
	return pagination.NewPage(docs, limit,
		func(d *domain.Document) string { return d.ID },
		func(d *domain.Document) time.Time { return d.CreatedAt },
	), nil
}

// DeleteDocument removes the document row, its raw bytes and its vector
// collection. A document that is being processed cannot be deleted.
func (s *DocumentService) DeleteDocument(ctx context.Context, id string) error {
	release, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.documents.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		s.logger.Warn("failed to delete document blob", "document_id", id, "error", err)
	}
	if s.vectors != nil {
		if err := s.vectors.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to delete vector collection", "document_id", id, "error", err)
		}
	}
	return nil
}

// ListChunks returns the document's chunks in index order.
func (s *DocumentService) ListChunks(ctx context.Context, documentID string, filter domain.ChunkFilter) ([]*domain.Chunk, error) {
	if _, err := s.documents.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, documentID, filter)
}

// UpdateChunkInput changes the mutable fields of a chunk. Nil fields are kept.
type UpdateChunkInput struct {
	ChunkID int64
	Enabled *bool
	Tags    []string
}

func (s *DocumentService) UpdateChunk(ctx context.Context, input UpdateChunkInput) (*domain.Chunk, error) {
	if input.Enabled == nil && input.Tags == nil {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "enabled or tags is required")
	}

	var tags []string
	if input.Tags != nil {
		tags = normalizeTags(input.Tags)
	}
	return s.chunks.Update(ctx, input.ChunkID, input.Enabled, tags)
}

// normalizeTags trims, drops empties and de-duplicates while keeping order.
// The result is never nil so an empty list clears the tags.
func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ErrAsyncExplicitKey rejects queued runs carrying a per-request provider key.
// Jobs are persisted without credentials, so the key could not reach the worker.
var ErrAsyncExplicitKey = domain.NewConfigError("embedding_config.api_key cannot be used with async processing; store it with provider-key set or process synchronously")

// EnqueueProcessing validates the bundle and queues an asynchronous run.
func (s *DocumentService) EnqueueProcessing(ctx context.Context, documentID, identity string, cfg domain.ProcessConfig) (*domain.ProcessingJob, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Embedding.APIKey) != "" {
		return nil, ErrAsyncExplicitKey
	}
	if s.checker != nil {
		if err := s.checker.Check(cfg.Embedding); err != nil {
			return nil, err
		}
	}
	if _, err := s.documents.GetByID(ctx, documentID); err != nil {
		return nil, err
	}

	job := domain.NewProcessingJob(s.uuidGen.NewString(), documentID, identity, cfg, time.Now().UTC())
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("processing job queued", "job_id", job.ID, "document_id", documentID)
	return job, nil
}

func (s *DocumentService) GetJob(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	return s.jobs.GetByID(ctx, id)
}
