package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskpilot/taskpilot/config"
)

var (
	// ErrInvalidToken is returned when the credential is malformed, signed
	// with the wrong key, or otherwise unacceptable
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrNoSigningKey is returned when minting is attempted without a secret
	ErrNoSigningKey = errors.New("token minting requires AUTH_JWT_SECRET")
)

// TokenIssuer is the iss claim stamped on minted tokens
const TokenIssuer = "taskpilot"

// Authentication methods recorded on the principal
const (
	MethodJWT      = "jwt"
	MethodAPIToken = "api-token"
)

// Principal identifies an authenticated API caller
type Principal struct {
	Subject   string
	Method    string
	ExpiresAt time.Time
}

// Service mints and validates API credentials. Callers are accepted with
// either the shared static API token or a short-lived HS256 JWT signed with
// the configured secret.
type Service struct {
	config config.AuthConfig
}

// NewService creates an auth service from the configuration
func NewService(cfg config.AuthConfig) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{config: cfg}
}

// Enabled reports whether any credential is configured
func (s *Service) Enabled() bool {
	return s.config.Enabled()
}

// Mint creates a signed JWT identifying the given subject. The token expires
// after the configured TTL.
func (s *Service) Mint(subject string) (string, time.Time, error) {
	if s.config.JWTSecret == "" {
		return "", time.Time{}, ErrNoSigningKey
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.config.TokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// VerifyAPIToken reports whether the presented credential matches the static
// API token. The comparison is constant time.
func (s *Service) VerifyAPIToken(token string) bool {
	if s.config.APIToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIToken)) == 1
}

// ValidateToken checks a bearer credential and returns the caller principal.
// The static API token is tried first; anything else must parse as a JWT
// signed with the configured secret and carrying the expected issuer.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Principal, error) {
	if s.VerifyAPIToken(tokenString) {
		return &Principal{Subject: "api-token", Method: MethodAPIToken}, nil
	}

	if s.config.JWTSecret == "" {
		return nil, ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Reject anything but HMAC before touching the key
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithIssuer(TokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	principal := &Principal{
		Subject: claims.Subject,
		Method:  MethodJWT,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time
	}

	return principal, nil
}
