package server

import (
	"log/slog"
	"net/http"

	"github.com/cloo-solutions/docpipe/internal/api"
	"github.com/cloo-solutions/docpipe/internal/api/handlers"
	"github.com/cloo-solutions/docpipe/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// DefaultMaxBodyBytes bounds request bodies, uploads included.
const DefaultMaxBodyBytes int64 = 64 * 1024 * 1024

type RouterConfig struct {
	AuthValidator     middleware.AuthValidator
	CollectionHandler *handlers.CollectionHandler
	DocumentHandler   *handlers.DocumentHandler
	ChunkHandler      *handlers.ChunkHandler
	AuthHandler       *handlers.AuthHandler
	Logger            *slog.Logger
	AllowedOrigins    []string
	MaxBodyBytes      int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.SentryMiddleware)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
		}))
	}
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/collections", func(r chi.Router) {
			r.Post("/", cfg.CollectionHandler.Create)
			r.Get("/{id}", cfg.CollectionHandler.Get)
			r.Get("/{id}/documents", cfg.CollectionHandler.ListDocuments)
			r.Post("/{id}/documents", cfg.DocumentHandler.Upload)
		})

		r.Route("/documents/{id}", func(r chi.Router) {
			r.Get("/", cfg.DocumentHandler.Get)
			r.Delete("/", cfg.DocumentHandler.Delete)
			r.Post("/process", cfg.DocumentHandler.Process)
			r.Get("/chunks", cfg.DocumentHandler.ListChunks)
		})

		r.Patch("/chunks/{id}", cfg.ChunkHandler.Update)
		r.Get("/jobs/{id}", cfg.DocumentHandler.GetJob)

		r.Post("/apikeys", cfg.AuthHandler.CreateAPIKey)
		r.Put("/provider-keys/{provider}", cfg.AuthHandler.SetProviderKey)
		r.Delete("/provider-keys/{provider}", cfg.AuthHandler.DeleteProviderKey)
	})

	return r
}
