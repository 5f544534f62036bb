package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/ingest"
	"github.com/iammorganparry/hindsight/internal/linker"
	"github.com/iammorganparry/hindsight/internal/retrieval"
	"github.com/iammorganparry/hindsight/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	units *store.UnitStore,
	entities *store.EntityStore,
	ingestor *ingest.Ingestor,
	retriever *retrieval.Retriever,
	lb *linker.Builder,
	ollama *embedding.OllamaClient,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db, ollama)
	memoryH := NewMemoryHandler(units, ingestor, retriever)
	agentH := NewAgentHandler(units, entities, lb)

	r.Get("/health", healthH.Health)
	r.Get("/stats", healthH.Stats)

	r.Route("/memories", func(r chi.Router) {
		r.Post("/", memoryH.Ingest)
		r.Post("/search", memoryH.Search)
		r.Get("/{id}", memoryH.Get)
		r.Delete("/{id}", memoryH.Delete)
	})

	r.Route("/agents", func(r chi.Router) {
		r.Delete("/{agentId}", agentH.Delete)
		r.Delete("/{agentId}/documents/{documentId}", agentH.DeleteDocument)
		r.Post("/{agentId}/repair", agentH.Repair)
		r.Get("/{agentId}/entities", agentH.ListEntities)
	})

	r.Get("/entities/{id}", agentH.GetEntity)

	return r
}
