package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/hindsight/internal/ingest"
	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/retrieval"
	"github.com/iammorganparry/hindsight/internal/store"
)

type MemoryHandler struct {
	units     *store.UnitStore
	ingestor  *ingest.Ingestor
	retriever *retrieval.Retriever
}

func NewMemoryHandler(units *store.UnitStore, ingestor *ingest.Ingestor, retriever *retrieval.Retriever) *MemoryHandler {
	return &MemoryHandler{units: units, ingestor: ingestor, retriever: retriever}
}

type ingestRequest struct {
	AgentID    string     `json:"agentId"`
	Content    string     `json:"content"`
	EventDate  *time.Time `json:"eventDate,omitempty"`
	DocumentID string     `json:"documentId,omitempty"`
}

// Ingest handles POST /memories
func (h *MemoryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AgentID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "agentId and content are required")
		return
	}

	eventDate := time.Now().UTC()
	if req.EventDate != nil {
		eventDate = *req.EventDate
	}

	result, err := h.ingestor.Ingest(r.Context(), req.AgentID, req.Content, eventDate, req.DocumentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type searchRequest struct {
	AgentID        string           `json:"agentId"`
	Query          string           `json:"query"`
	FactType       models.FactType  `json:"factType,omitempty"`
	ThinkingBudget *int             `json:"thinkingBudget,omitempty"`
	MaxTokens      int              `json:"maxTokens,omitempty"`
	EnableTrace    bool             `json:"enableTrace,omitempty"`
	Weights        *models.Weights  `json:"weights,omitempty"`
}

// Search handles POST /memories/search
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var wire searchRequest
	if err := decodeJSON(r, &wire); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if wire.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	req := models.SearchRequest{
		AgentID:        wire.AgentID,
		Query:          wire.Query,
		FactType:       wire.FactType,
		ThinkingBudget: retrieval.DefaultThinkingBudget,
		MaxTokens:      wire.MaxTokens,
		EnableTrace:    wire.EnableTrace,
		Weights:        wire.Weights,
	}
	// An explicit zero budget is honored as an empty result; only an
	// omitted field gets the default.
	if wire.ThinkingBudget != nil {
		req.ThinkingBudget = *wire.ThinkingBudget
	}

	resp, err := h.retriever.Search(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /memories/{id}
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	unit, err := h.units.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// Delete handles DELETE /memories/{id}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.units.Delete(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}
