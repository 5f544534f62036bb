package api

import (
	"net/http"

	"github.com/iammorganparry/hindsight/internal/embedding"
	"github.com/iammorganparry/hindsight/internal/store"
)

type serviceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status string         `json:"status"`
	Ollama serviceCheck   `json:"ollama"`
	DB     serviceCheck   `json:"db"`
	Counts map[string]int `json:"counts,omitempty"`
}

type HealthHandler struct {
	db     *store.DB
	ollama *embedding.OllamaClient
}

func NewHealthHandler(db *store.DB, ollama *embedding.OllamaClient) *HealthHandler {
	return &HealthHandler{db: db, ollama: ollama}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	if err := h.ollama.HealthCheck(r.Context()); err != nil {
		resp.Ollama = serviceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.Ollama = serviceCheck{Status: "ok"}
	}

	counts, err := h.db.Stats()
	if err != nil {
		resp.DB = serviceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = serviceCheck{Status: "ok"}
		resp.Counts = counts
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Stats handles GET /stats
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.db.Stats()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
