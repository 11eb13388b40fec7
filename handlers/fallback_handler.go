package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/models"
	"github.com/taskpilot/taskpilot/utils"
)

// FallbackService is the fallback manager surface the handler depends on
type FallbackService interface {
	// ReportRateLimit flips routing into fallback until resetAt. A nil
	// resetAt applies the configured cooldown.
	ReportRateLimit(ctx context.Context, resetAt *time.Time) (*models.FallbackState, error)

	// Clear restores normal routing
	Clear(ctx context.Context) (*models.FallbackState, error)
}

// FallbackHandler serves manual fallback control
type FallbackHandler struct {
	service FallbackService
	logger  *zap.Logger
}

// NewFallbackHandler creates a new FallbackHandler
func NewFallbackHandler(service FallbackService, logger *zap.Logger) *FallbackHandler {
	return &FallbackHandler{
		service: service,
		logger:  logger,
	}
}

// RateLimitRequest is the JSON payload for reporting an upstream rate limit.
// The body is optional; an empty body applies the configured cooldown.
type RateLimitRequest struct {
	// ResetAt is the provider-reported reset time in RFC 3339
	ResetAt string `json:"reset_at,omitempty"`
}

// HandleRateLimit handles POST /api/v1/fallback/rate-limit
func (h *FallbackHandler) HandleRateLimit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to decode rate-limit request", zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	var resetAt *time.Time
	if req.ResetAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ResetAt)
		if err != nil {
			_ = utils.WriteBadRequest(w, "reset_at must be an RFC 3339 timestamp", map[string]interface{}{
				"reset_at": req.ResetAt,
			})
			return
		}
		utc := parsed.UTC()
		resetAt = &utc
	}

	state, err := h.service.ReportRateLimit(ctx, resetAt)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("rate limit reported via API",
		zap.Timep("reset_at", resetAt))

	_ = utils.WriteOK(w, state)
}

// HandleClear handles POST /api/v1/fallback/clear
func (h *FallbackHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Clear(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("fallback cleared via API")

	_ = utils.WriteOK(w, state)
}
