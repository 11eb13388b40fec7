package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/utils"
)

// OutcomeService is the outcome store surface the handler depends on
type OutcomeService interface {
	// GetByTaskID retrieves a single outcome by task ID
	GetByTaskID(ctx context.Context, taskID string) (*models.TaskOutcome, error)

	// ListUnreported returns undelivered outcomes, oldest first
	ListUnreported(ctx context.Context) ([]*models.TaskOutcome, error)

	// MarkReported flags an outcome as delivered
	MarkReported(ctx context.Context, taskID string) error
}

// OutcomeHandler serves the durable task outcome records
type OutcomeHandler struct {
	service OutcomeService
	logger  *zap.Logger
}

// NewOutcomeHandler creates a new OutcomeHandler
func NewOutcomeHandler(service OutcomeService, logger *zap.Logger) *OutcomeHandler {
	return &OutcomeHandler{
		service: service,
		logger:  logger,
	}
}

// OutcomeListResponse wraps a page of outcomes with its count
type OutcomeListResponse struct {
	Outcomes []*models.TaskOutcome `json:"outcomes"`
	Count    int                   `json:"count"`
}

// HandleListUnreported handles GET /api/v1/outcomes/unreported
func (h *OutcomeHandler) HandleListUnreported(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.service.ListUnreported(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if outcomes == nil {
		outcomes = []*models.TaskOutcome{}
	}

	_ = utils.WriteOK(w, OutcomeListResponse{
		Outcomes: outcomes,
		Count:    len(outcomes),
	})
}

// HandleGetOutcome handles GET /api/v1/outcomes/{taskID}
func (h *OutcomeHandler) HandleGetOutcome(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		_ = utils.WriteBadRequest(w, "Task ID is required", nil)
		return
	}

	outcome, err := h.service.GetByTaskID(r.Context(), taskID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, outcome)
}

// HandleMarkReported handles POST /api/v1/outcomes/{taskID}/report. Marking
// is idempotent; re-marking an already reported outcome succeeds.
func (h *OutcomeHandler) HandleMarkReported(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		_ = utils.WriteBadRequest(w, "Task ID is required", nil)
		return
	}

	if err := h.service.MarkReported(r.Context(), taskID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("outcome marked reported via API", zap.String("task_id", taskID))

	utils.WriteNoContent(w)
}
