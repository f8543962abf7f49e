package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
)

// AuthService defines the interface for authentication operations.
// This abstraction enables clean separation between HTTP handling
// and authentication logic, making both easier to test.
type AuthService interface {
	// ValidateRequest extracts and validates a JWT from the request.
	// It checks for the token in:
	//   1. The signed browser session cookie (web clients)
	//   2. Authorization header with "Bearer" scheme (API clients)
	// Returns the validated claims, the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)
}

// authService implements AuthService.
type authService struct {
	verifier TokenVerifier
	cookies  *CookieManager
	logger   *zap.Logger
}

// NewAuthService creates a new AuthService. The cookie manager may be nil
// when no browser surface is configured; header auth still works.
func NewAuthService(verifier TokenVerifier, cookies *CookieManager, logger *zap.Logger) AuthService {
	return &authService{
		verifier: verifier,
		cookies:  cookies,
		logger:   logger,
	}
}

// ValidateRequest extracts and validates a JWT from the request.
func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	var tokenString string
	var tokenSource string

	// Try the session cookie first (browser clients)
	if s.cookies != nil {
		if token, ok := s.cookies.Token(r); ok {
			tokenString = token
			tokenSource = "cookie"
		}
	}

	// Fallback to Authorization header (API clients)
	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.logger.Debug("No bearer token found in request",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method))
			return nil, "", ErrMissingAuthorization
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.logger.Debug("Invalid Authorization header format",
				zap.String("path", r.URL.Path))
			return nil, "", ErrInvalidAuthFormat
		}
		tokenString = parts[1]
		tokenSource = "header"
	}

	claims, err := s.verifier.Verify(tokenString)
	if err != nil {
		s.logger.Debug("Bearer token validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", tokenSource))
		return nil, "", err
	}

	return claims, tokenString, nil
}

// Ensure authService implements AuthService at compile time.
var _ AuthService = (*authService)(nil)
