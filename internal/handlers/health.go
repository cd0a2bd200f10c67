package handlers

import (
	"net/http"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/models"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

// Circuit is a collaborator breaker whose state is reported by the health endpoint.
type Circuit interface {
	Name() string
	IsOpen() bool
}

type HealthHandler struct {
	info     models.HealthResponse
	circuits []Circuit
	logger   *utils.Logger
}

// NewHealthHandler reports the configured backends and the local breaker state of each
// collaborator. Collaborators are never called from here: a slow model server must not make the process
// look dead.
func NewHealthHandler(summarizer, tokenizer string, cache bool, circuits []Circuit, logger *utils.Logger) *HealthHandler {
	return &HealthHandler{
		info: models.HealthResponse{
			Status:     "healthy",
			Summarizer: summarizer,
			Tokenizer:  tokenizer,
			Cache:      cache,
		},
		circuits: circuits,
		logger:   logger,
	}
}

// Health always answers 200; an open breaker only marks the service degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.info
	for _, c := range h.circuits {
		state := "closed"
		if c.IsOpen() {
			state = "open"
			resp.Status = "degraded"
		}
		resp.Circuits = append(resp.Circuits, models.CircuitStatus{Name: c.Name(), State: state})
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}
