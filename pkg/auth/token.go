package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mesa-hq/mesa-engine/pkg/models"
)

// defaultTokenTTL bounds issued tokens when no TTL is configured.
const defaultTokenTTL = 24 * time.Hour

// TokenVerifier defines the interface for bearer token validation.
// This abstraction enables testing with mock implementations.
type TokenVerifier interface {
	// Verify validates a JWT token string and returns the claims.
	// Returns an error if the token is invalid, expired, or has an
	// unauthorized issuer.
	Verify(tokenString string) (*Claims, error)
	// Close releases any resources held by the verifier.
	Close()
}

// TokenIssuer defines the interface for minting bearer tokens after a
// successful login.
type TokenIssuer interface {
	// Issue signs a token carrying the user's identity and role.
	Issue(user *models.User) (string, error)
}

// TokenConfig contains configuration for the token service.
type TokenConfig struct {
	// Secret signs and verifies locally issued HS256 tokens.
	Secret string
	// Issuer is stamped as the iss claim on issued tokens. Incoming tokens
	// with this issuer verify against Secret.
	Issuer string
	// TTL bounds the lifetime of issued tokens. Defaults to 24 hours.
	TTL time.Duration
	// JWKS optionally verifies tokens from external issuers. Tokens whose
	// issuer is neither Issuer nor a configured JWKS issuer are rejected.
	JWKS *JWKSClient
}

// TokenService issues and verifies mesa-engine bearer tokens. Locally issued
// tokens are signed HS256 with a shared secret; tokens from configured
// external issuers are verified through their JWKS endpoints instead.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	jwks   *JWKSClient
}

// NewTokenService creates a token service from the given configuration.
func NewTokenService(config TokenConfig) (*TokenService, error) {
	if config.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if config.Issuer == "" {
		return nil, errors.New("token issuer is required")
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return &TokenService{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
		ttl:    ttl,
		jwks:   config.JWKS,
	}, nil
}

// Issue signs a bearer token for the user, valid for the configured TTL.
// The user's ID becomes the subject; email and role travel as custom claims.
func (s *TokenService) Issue(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
		Email: user.Email,
		Role:  user.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify parses and validates a token, dispatching on its issuer: locally
// issued tokens verify against the shared secret, tokens from configured
// external issuers against the issuer's published keys. Everything else is
// rejected.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, s.resolveKey)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}

// resolveKey picks the verification key for a token based on its issuer.
func (s *TokenService) resolveKey(token *jwt.Token) (any, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if claims.Issuer == s.issuer {
		// Locally issued tokens must be HMAC signed; anything else is an
		// algorithm confusion attempt.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}

	if s.jwks == nil {
		return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
	}

	return s.jwks.resolveKey(token, claims.Issuer)
}

// Close releases any resources held by the service.
func (s *TokenService) Close() {
	// No cleanup required; JWKS refresh goroutines stop with their context
}

// Ensure TokenService implements both token interfaces at compile time.
var (
	_ TokenVerifier = (*TokenService)(nil)
	_ TokenIssuer   = (*TokenService)(nil)
)
