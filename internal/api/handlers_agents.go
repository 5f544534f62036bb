package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/hindsight/internal/linker"
	"github.com/iammorganparry/hindsight/internal/models"
	"github.com/iammorganparry/hindsight/internal/store"
)

type AgentHandler struct {
	units    *store.UnitStore
	entities *store.EntityStore
	linker   *linker.Builder
}

func NewAgentHandler(units *store.UnitStore, entities *store.EntityStore, lb *linker.Builder) *AgentHandler {
	return &AgentHandler{units: units, entities: entities, linker: lb}
}

// Delete handles DELETE /agents/{agentId}
func (h *AgentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	if err := h.units.DeleteAgent(agentID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": agentID})
}

// DeleteDocument handles DELETE /agents/{agentId}/documents/{documentId}
func (h *AgentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	documentID := chi.URLParam(r, "documentId")

	removed, err := h.units.DeleteDocument(agentID, documentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documentId": documentID, "removed": removed})
}

// Repair handles POST /agents/{agentId}/repair: completes linking for units
// left unlinked by an interrupted ingest.
func (h *AgentHandler) Repair(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	repaired, err := h.linker.Repair(r.Context(), agentID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"repaired": repaired})
}

// ListEntities handles GET /agents/{agentId}/entities with an optional
// ?type= filter.
func (h *AgentHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	var entityType models.EntityType
	if raw := r.URL.Query().Get("type"); raw != "" {
		entityType = models.NormalizeEntityType(strings.ToUpper(strings.TrimSpace(raw)))
	}

	list, err := h.entities.Candidates(agentID, entityType)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": list})
}

// GetEntity handles GET /entities/{id}
func (h *AgentHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := h.entities.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}
