package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cloo-solutions/docpipe/internal/chunking"
	"github.com/cloo-solutions/docpipe/internal/clean"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/embedding"
	"github.com/cloo-solutions/docpipe/internal/storage"
	"github.com/cloo-solutions/docpipe/internal/telemetry"
	"github.com/cloo-solutions/docpipe/internal/vectorstore"
)

// finalWriteTimeout bounds the bookkeeping writes made after a run ends.
const finalWriteTimeout = 5 * time.Second

// TextExtractor turns raw document bytes into plain text.
type TextExtractor interface {
	Supports(ext string) bool
	Extract(ctx context.Context, r io.Reader, ext, encoding string) (string, error)
}

// ProviderBuilder resolves an embedding configuration into a provider.
type ProviderBuilder interface {
	Check(cfg domain.EmbeddingConfig) error
	Build(ctx context.Context, cfg domain.EmbeddingConfig, identity string) (embedding.Provider, error)
}

// PipelineService runs extract, clean, chunk, embed and index for one
// document, persisting the output of each stage as it completes.
type PipelineService struct {
	documents   DocumentRepositoryInterface
	collections CollectionRepositoryInterface
	txRunner    TxRunner
	blobs       storage.BlobStore
	extractor   TextExtractor
	providers   ProviderBuilder
	vectors     vectorstore.Store
	locks       *DocumentLocks
	uuidGen     UUIDGenerator
	logger      *slog.Logger
}

// PipelineDeps groups the collaborators of PipelineService.
type PipelineDeps struct {
	Documents   DocumentRepositoryInterface
	Collections CollectionRepositoryInterface
	TxRunner    TxRunner
	Blobs       storage.BlobStore
	Extractor   TextExtractor
	Providers   ProviderBuilder
	Vectors     vectorstore.Store
	Locks       *DocumentLocks
	UUIDGen     UUIDGenerator
	Logger      *slog.Logger
}

func NewPipelineService(deps PipelineDeps) *PipelineService {
	if deps.UUIDGen == nil {
		deps.UUIDGen = &DefaultUUIDGenerator{}
	}
	if deps.Locks == nil {
		deps.Locks = NewDocumentLocks()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &PipelineService{
		documents:   deps.Documents,
		collections: deps.Collections,
		txRunner:    deps.TxRunner,
		blobs:       deps.Blobs,
		extractor:   deps.Extractor,
		providers:   deps.Providers,
		vectors:     deps.Vectors,
		locks:       deps.Locks,
		uuidGen:     deps.UUIDGen,
		logger:      deps.Logger.With("component", "pipeline"),
	}
}

// ProcessInput represents one processing request.
type ProcessInput struct {
	DocumentID string
	Identity   string
	Config     domain.ProcessConfig
}

// ProcessResult summarizes a successful run.
type ProcessResult struct {
	DocumentID      string               `json:"document_id"`
	ChunkCount      int                  `json:"chunk_count"`
	EmbeddingModel  string               `json:"embedding_model"`
	EmbeddingType   domain.EmbeddingType `json:"embedding_type"`
	VectorStorePath string               `json:"vector_store_path"`
}

// run carries the state of a single Process call between stages.
type run struct {
	input  ProcessInput
	doc    *domain.Document
	status domain.DocumentStatus
	logger *slog.Logger
}

// Process runs the full pipeline. Failures after validation leave the
// document in the failed state and come back wrapped in a domain.StageError;
// outputs of the stages that completed stay persisted.
func (s *PipelineService) Process(ctx context.Context, input ProcessInput) (*ProcessResult, error) {
	if input.DocumentID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "document ID is required")
	}
	release, err := s.locks.Acquire(ctx, input.DocumentID)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := telemetry.StartSpan(ctx, "PipelineService.Process", telemetry.SpanAttributes{
		DocumentID: input.DocumentID,
		Operation:  "process",
	})
	defer span.End()

	doc, err := s.documents.GetByID(ctx, input.DocumentID)
	if err != nil {
		return nil, err
	}

	cfg := input.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := s.providers.Check(cfg.Embedding); err != nil {
		return nil, err
	}

	r := &run{
		input:  input,
		doc:    doc,
		status: doc.Status,
		logger: s.logger.With("document_id", doc.ID, "collection_id", doc.CollectionID),
	}
	if !doc.Status.IsTerminal() && doc.Status != domain.DocumentStatusUploaded {
		// Holding the lock means no run is active, so this is left over from
		// an interrupted process.
		r.logger.Warn("restarting document stuck in progress", "status", doc.Status)
		r.status = domain.DocumentStatusUploaded
	}

	result, err := s.execute(ctx, r)
	s.recordConfig(ctx, r)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	r.logger.Info("document processed",
		"chunks", result.ChunkCount,
		"model", result.EmbeddingModel,
		"path", result.VectorStorePath,
	)
	return result, nil
}

func (s *PipelineService) execute(ctx context.Context, r *run) (*ProcessResult, error) {
	cfg := r.input.Config
	start := time.Now()

	var text string
	err := s.stage(ctx, r, domain.DocumentStatusExtracting, func(ctx context.Context) error {
		var err error
		text, err = s.extract(ctx, r.doc, cfg.Loader.Encoding)
		if err != nil {
			return err
		}
		r.doc.CharCount = utf8.RuneCountInString(text)
		return s.documents.SetCharCount(ctx, r.doc.ID, r.doc.CharCount)
	})
	if err != nil {
		return nil, err
	}

	err = s.stage(ctx, r, domain.DocumentStatusCleaning, func(ctx context.Context) error {
		var err error
		text, err = clean.Clean(text, cfg.Clean)
		return err
	})
	if err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	err = s.stage(ctx, r, domain.DocumentStatusChunking, func(ctx context.Context) error {
		pieces, err := chunking.Split(text, cfg.Splitter)
		if err != nil {
			return err
		}
		chunks = domain.NewChunks(r.doc.ID, s.uuidGen.NewString(), pieces, time.Now().UTC())
		return s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
			if err := repos.Chunks().ReplaceChunks(ctx, r.doc.ID, chunks); err != nil {
				return fmt.Errorf("replace chunks: %w", err)
			}
			return repos.Documents().ClearVectorStorePath(ctx, r.doc.ID)
		})
	})
	if err != nil {
		return nil, err
	}

	var (
		provider embedding.Provider
		vectors  [][]float32
	)
	err = s.stage(ctx, r, domain.DocumentStatusEmbedding, func(ctx context.Context) error {
		var err error
		provider, err = s.providers.Build(ctx, cfg.Embedding, r.input.Identity)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		vectors, err = provider.EmbedMany(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(chunks) {
			return domain.NewProviderError(
				fmt.Sprintf("%s returned %d vectors for %d chunks", provider.Model(), len(vectors), len(chunks)), nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var path string
	err = s.stage(ctx, r, domain.DocumentStatusIndexing, func(ctx context.Context) error {
		records := make([]vectorstore.Record, len(chunks))
		for i, c := range chunks {
			records[i] = vectorstore.Record{
				Vector:   vectors[i],
				Text:     c.Content,
				Metadata: vectorstore.Metadata{DocumentID: r.doc.ID, ChunkIndex: c.ChunkIndex},
			}
		}
		var err error
		path, err = s.vectors.Upsert(ctx, r.doc.ID, records)
		if err != nil {
			return err
		}
		return s.documents.MarkReady(ctx, r.doc.ID, path)
	})
	if err != nil {
		return nil, err
	}
	r.status = domain.DocumentStatusReady

	r.logger.Debug("pipeline finished", "duration_ms", time.Since(start).Milliseconds())
	return &ProcessResult{
		DocumentID:      r.doc.ID,
		ChunkCount:      len(chunks),
		EmbeddingModel:  provider.Model(),
		EmbeddingType:   provider.Type(),
		VectorStorePath: path,
	}, nil
}

// stage moves the document into status, runs fn under a span and records a
// failure against that stage.
func (s *PipelineService) stage(ctx context.Context, r *run, status domain.DocumentStatus, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "pipeline."+string(status), telemetry.SpanAttributes{
		CollectionID: r.doc.CollectionID,
		DocumentID:   r.doc.ID,
		Stage:        string(status),
	})
	defer span.End()

	if err := s.enter(ctx, r, status); err != nil {
		return s.fail(ctx, r, status, span, err)
	}
	if err := fn(ctx); err != nil {
		return s.fail(ctx, r, status, span, err)
	}
	r.logger.Debug("stage complete", "stage", status)
	return nil
}

func (s *PipelineService) enter(ctx context.Context, r *run, status domain.DocumentStatus) error {
	if !domain.CanTransition(r.status, status) {
		return domain.NewDomainErrorWithCause(domain.ErrCodeInvalidOperation,
			fmt.Sprintf("cannot move from %s to %s", r.status, status), domain.ErrInvalidTransition)
	}

	if status == domain.DocumentStatusEmbedding {
		// The document may have been deleted or taken over while the chunks
		// were written; never pay for embeddings nobody will read.
		current, err := s.documents.GetByID(ctx, r.doc.ID)
		if err != nil {
			if errors.Is(err, domain.ErrDocumentNotFound) {
				return domain.NewDomainErrorWithCause(domain.ErrCodeConflict, domain.ErrDocumentSuperseded.Message, err)
			}
			return err
		}
		if current.Status != r.status {
			return domain.ErrDocumentSuperseded
		}
	}

	if err := s.documents.UpdateStatus(ctx, r.doc.ID, status); err != nil {
		return err
	}
	r.status = status
	return nil
}

func (s *PipelineService) fail(ctx context.Context, r *run, stage domain.DocumentStatus, span *telemetry.Span, err error) error {
	span.SetError(err)
	r.status = domain.DocumentStatusFailed
	r.logger.Error("stage failed", "stage", stage, "code", domain.ErrorCode(err), "error", err)

	// The failure must land even when ctx is the reason the stage failed.
	wctx, cancel := detached(ctx)
	defer cancel()
	if merr := s.documents.MarkFailed(wctx, r.doc.ID, stage, err.Error()); merr != nil {
		if !errors.Is(merr, domain.ErrDocumentNotFound) {
			r.logger.Error("failed to record failure", "stage", stage, "error", merr)
		}
	}
	telemetry.CaptureError(ctx, err)
	return domain.NewStageError(stage, err)
}

// detached keeps ctx values for tracing but drops its cancellation, bounded
// by finalWriteTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
}

func (s *PipelineService) extract(ctx context.Context, doc *domain.Document, encoding string) (string, error) {
	ext := doc.Extension()
	if !s.extractor.Supports(ext) {
		return "", domain.NewUnsupportedFormatError(ext)
	}

	rc, err := s.blobs.Open(ctx, doc.StorageKey)
	if err != nil {
		return "", domain.NewExtractionIOError("failed to open document", err)
	}
	defer rc.Close()

	return s.extractor.Extract(ctx, rc, ext, encoding)
}

// recordConfig persists the bundle on the collection after every run that
// got past validation, successful or not.
func (s *PipelineService) recordConfig(ctx context.Context, r *run) {
	if s.collections == nil {
		return
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := s.collections.UpdateEmbeddingConfig(ctx, r.doc.CollectionID, r.input.Config); err != nil {
		r.logger.Warn("failed to record collection embedding config", "error", err)
	}
}
