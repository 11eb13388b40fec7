package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/services/dispatch"
	"github.com/taskpilot/taskpilot/utils"
)

// TaskService is the dispatcher surface the task handler depends on
type TaskService interface {
	// Dispatch routes and executes one task through the fallback chain
	Dispatch(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error)

	// Route classifies and scores a task without executing anything
	Route(ctx context.Context, req *dispatch.Request) (*dispatch.RouteView, error)

	// Status summarizes the orchestrator state
	Status(ctx context.Context) (*models.StatusSummary, error)
}

// TaskHandler serves task submission, dry-run routing, and the status surface
type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service: service,
		logger:  logger,
	}
}

// SubmitTaskRequest is the JSON payload for dispatch and dry-run routing
type SubmitTaskRequest struct {
	Description    string             `json:"description" validate:"required,min=3"`
	Mode           string             `json:"mode,omitempty" validate:"omitempty,oneof=chat code agent"`
	WorkingContext string             `json:"working_context,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty" validate:"omitempty,gt=0,lte=3600"`
	Preferences    models.Preferences `json:"preferences"`
}

// toDispatchRequest converts the payload into the dispatcher's request type
func (r *SubmitTaskRequest) toDispatchRequest() *dispatch.Request {
	return &dispatch.Request{
		Description:    strings.TrimSpace(r.Description),
		Mode:           models.TaskMode(r.Mode),
		WorkingContext: r.WorkingContext,
		Timeout:        time.Duration(r.TimeoutSeconds) * time.Second,
		Preferences:    r.Preferences,
	}
}

// HandleSubmitTask handles POST /api/v1/tasks. The response is 200 even when
// every backend failed or the task was blocked; those are terminal task
// results, not transport errors.
func (h *TaskHandler) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode task request", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	h.logger.Info("task submitted",
		zap.String("mode", req.Mode),
		zap.Int("description_len", len(req.Description)),
		zap.String("client_ip", getClientIP(r)))

	result, err := h.service.Dispatch(ctx, req.toDispatchRequest())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleRouteTask handles POST /api/v1/tasks/route, the dry-run surface
func (h *TaskHandler) HandleRouteTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode route request", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	view, err := h.service.Route(ctx, req.toDispatchRequest())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, view)
}

// HandleStatus handles GET /api/v1/status
func (h *TaskHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Status(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, summary)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
