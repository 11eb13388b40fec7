package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/auth"
	"github.com/taskpilot/taskpilot/utils"
)

// TokenMinter is the auth surface the handler depends on
type TokenMinter interface {
	// Mint signs a short-lived bearer token for the given subject
	Mint(subject string) (string, time.Time, error)

	// VerifyAPIToken checks a static token in constant time
	VerifyAPIToken(token string) bool
}

// TokenHandler exchanges the static API token for a signed JWT
type TokenHandler struct {
	minter TokenMinter
	logger *zap.Logger
}

// NewTokenHandler creates a new TokenHandler
func NewTokenHandler(minter TokenMinter, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{
		minter: minter,
		logger: logger,
	}
}

// MintTokenRequest is the token exchange payload
type MintTokenRequest struct {
	APIToken string `json:"api_token" validate:"required"`
	Subject  string `json:"subject" validate:"required,min=2,max=64"`
}

// MintTokenResponse carries the signed token and its expiry
type MintTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleMintToken handles POST /auth/token
func (h *TokenHandler) HandleMintToken(w http.ResponseWriter, r *http.Request) {
	var req MintTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if !h.minter.VerifyAPIToken(req.APIToken) {
		h.logger.Warn("token mint rejected",
			zap.String("subject", req.Subject),
			zap.String("client_ip", getClientIP(r)))
		_ = utils.WriteUnauthorized(w, "Invalid API token")
		return
	}

	token, expiresAt, err := h.minter.Mint(req.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrNoSigningKey) {
			_ = utils.WriteInternalServerError(w, "Token minting is not configured")
			return
		}
		h.logger.Error("token mint failed", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to mint token")
		return
	}

	h.logger.Info("token minted",
		zap.String("subject", req.Subject),
		zap.Time("expires_at", expiresAt))

	_ = utils.WriteOK(w, MintTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
