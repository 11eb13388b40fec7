package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/utils"
)

// BackendDirectory is the registry surface the handler depends on
type BackendDirectory interface {
	// Specs returns every backend spec in declaration order
	Specs() []models.BackendSpec

	// Availability probes each backend's executor
	Availability(ctx context.Context) map[string]bool

	// DefaultBackend is the fallthrough choice when no signal is found
	DefaultBackend() string

	// SecondaryOrder is the fixed tail of the fallback chain
	SecondaryOrder() []string
}

// BackendHandler serves the backend directory
type BackendHandler struct {
	directory BackendDirectory
	logger    *zap.Logger
}

// NewBackendHandler creates a new BackendHandler
func NewBackendHandler(directory BackendDirectory, logger *zap.Logger) *BackendHandler {
	return &BackendHandler{
		directory: directory,
		logger:    logger,
	}
}

// BackendView pairs a backend spec with its probed availability
type BackendView struct {
	models.BackendSpec
	Available bool `json:"available"`
}

// BackendListResponse is the directory payload
type BackendListResponse struct {
	Backends       []BackendView `json:"backends"`
	DefaultBackend string        `json:"default_backend"`
	SecondaryOrder []string      `json:"secondary_order"`
}

// HandleListBackends handles GET /api/v1/backends
func (h *BackendHandler) HandleListBackends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	availability := h.directory.Availability(ctx)
	specs := h.directory.Specs()

	views := make([]BackendView, 0, len(specs))
	for _, spec := range specs {
		views = append(views, BackendView{
			BackendSpec: spec,
			Available:   availability[spec.ID],
		})
	}

	_ = utils.WriteOK(w, BackendListResponse{
		Backends:       views,
		DefaultBackend: h.directory.DefaultBackend(),
		SecondaryOrder: h.directory.SecondaryOrder(),
	})
}
