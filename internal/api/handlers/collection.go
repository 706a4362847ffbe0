package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/docpipe/internal/api"
	"github.com/cloo-solutions/docpipe/internal/domain"
	"github.com/cloo-solutions/docpipe/internal/pagination"
	"github.com/cloo-solutions/docpipe/internal/service"
	"github.com/go-chi/chi/v5"
)

type CollectionService interface {
	CreateCollection(ctx context.Context, input service.CreateCollectionInput) (*domain.Collection, error)
	GetCollection(ctx context.Context, id string) (*domain.Collection, error)
	ListDocuments(ctx context.Context, input service.ListDocumentsInput) (*pagination.PageResult[*domain.Document], error)
}

type CollectionHandler struct {
	svc CollectionService
}

func NewCollectionHandler(svc CollectionService) *CollectionHandler {
	return &CollectionHandler{svc: svc}
}

type CreateCollectionRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type CollectionResponse struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Type            string                `json:"type"`
	EmbeddingConfig *domain.ProcessConfig `json:"embedding_config,omitempty"`
	CreatedAt       string                `json:"created_at"`
}

func collectionToResponse(c *domain.Collection) *CollectionResponse {
	return &CollectionResponse{
		ID:              c.ID,
		Name:            c.Name,
		Type:            string(c.Type),
		EmbeddingConfig: c.EmbeddingConfig,
		CreatedAt:       c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *CollectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		api.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	col, err := h.svc.CreateCollection(r.Context(), service.CreateCollectionInput{
		Name: req.Name,
		Type: domain.CollectionType(req.Type),
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, collectionToResponse(col))
}

func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	col, err := h.svc.GetCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, collectionToResponse(col))
}

// ListDocuments pages through a collection with ?limit= and ?cursor=.
func (h *CollectionHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	input := service.ListDocumentsInput{
		CollectionID: chi.URLParam(r, "id"),
		Cursor:       r.URL.Query().Get("cursor"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		input.Limit = limit
	}

	page, err := h.svc.ListDocuments(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*DocumentResponse, 0, len(page.Items))
	for _, d := range page.Items {
		items = append(items, documentToResponse(d))
	}
	api.Success(w, http.StatusOK, pagination.PageResult[*DocumentResponse]{
		Items:   items,
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}
