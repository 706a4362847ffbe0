package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/docpipe/internal/api"
	"github.com/cloo-solutions/docpipe/internal/api/middleware"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/go-chi/chi/v5"
)

// maxMemory is the in-memory part of a multipart upload; the rest spills to disk.
const maxMemory = 32 << 20

type DocumentService interface {
	Upload(ctx context.Context, input service.UploadInput) (*domain.Document, error)
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListChunks(ctx context.Context, documentID string, filter domain.ChunkFilter) ([]*domain.Chunk, error)
	EnqueueProcessing(ctx context.Context, documentID, identity string, cfg domain.ProcessConfig) (*domain.ProcessingJob, error)
	GetJob(ctx context.Context, id string) (*domain.ProcessingJob, error)
}

type Pipeline interface {
	Process(ctx context.Context, input service.ProcessInput) (*service.ProcessResult, error)
}

type DocumentHandler struct {
	svc      DocumentService
	pipeline Pipeline
}

func NewDocumentHandler(svc DocumentService, pipeline Pipeline) *DocumentHandler {
	return &DocumentHandler{svc: svc, pipeline: pipeline}
}

type DocumentResponse struct {
	ID              string `json:"id"`
	CollectionID    string `json:"collection_id"`
	Filename        string `json:"filename"`
	Status          string `json:"status"`
	CharCount       int    `json:"char_count"`
	FailedStage     string `json:"failed_stage,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
	VectorStorePath string `json:"vector_store_path,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:              d.ID,
		CollectionID:    d.CollectionID,
		Filename:        d.Filename,
		Status:          string(d.Status),
		CharCount:       d.CharCount,
		FailedStage:     string(d.FailedStage),
		FailureReason:   d.FailureReason,
		VectorStorePath: d.VectorStorePath,
		CreatedAt:       d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type JobResponse struct {
	ID          string `json:"id"`
	DocumentID  string `json:"document_id"`
	Status      string `json:"status"`
	Retries     int32  `json:"retries"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

func jobToResponse(j *domain.ProcessingJob) *JobResponse {
	resp := &JobResponse{
		ID:         j.ID,
		DocumentID: j.DocumentID,
		Status:     string(j.Status),
		Retries:    j.Retries,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if j.ProcessedAt != nil {
		resp.ProcessedAt = j.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

type ChunkResponse struct {
	ID         int64    `json:"id"`
	DocumentID string   `json:"document_id"`
	ChunkIndex int      `json:"chunk_index"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Enabled    bool     `json:"enabled"`
	Generation string   `json:"generation"`
}

func chunkToResponse(c *domain.Chunk) *ChunkResponse {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return &ChunkResponse{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		Tags:       tags,
		Enabled:    c.Enabled,
		Generation: c.Generation,
	}
}

// Upload accepts a multipart form with the document in the "file" field.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	doc, err := h.svc.Upload(r.Context(), service.UploadInput{
		CollectionID: chi.URLParam(r, "id"),
		Filename:     header.Filename,
		Content:      file,
		Size:         header.Size,
		ContentType:  header.Header.Get("Content-Type"),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, documentToResponse(doc))
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Process runs the pipeline inline, or queues it when async=true. Fields
// missing from the body keep their defaults; an empty body is the default
// bundle.
func (h *DocumentHandler) Process(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	cfg := domain.DefaultProcessConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := chi.URLParam(r, "id")

	async := false
	if v := r.URL.Query().Get("async"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "async must be a boolean")
			return
		}
		async = parsed
	}

	if async {
		job, err := h.svc.EnqueueProcessing(r.Context(), id, identity, cfg)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		api.Success(w, http.StatusAccepted, jobToResponse(job))
		return
	}

	result, err := h.pipeline.Process(r.Context(), service.ProcessInput{
		DocumentID: id,
		Identity:   identity,
		Config:     cfg,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

func (h *DocumentHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	var filter domain.ChunkFilter
	if v := r.URL.Query().Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "enabled must be a boolean")
			return
		}
		filter.Enabled = &enabled
	}
	filter.Tag = r.URL.Query().Get("tag")

	chunks, err := h.svc.ListChunks(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]*ChunkResponse, 0, len(chunks))
	for _, c := range chunks {
		resp = append(resp, chunkToResponse(c))
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *DocumentHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, jobToResponse(job))
}
