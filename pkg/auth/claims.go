// Package auth provides JWT-based authentication for mesa-engine.
// Tokens are issued locally with HS256; externally issued tokens can
// optionally be verified against configured JWKS endpoints.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
	// TokenKey is the context key for storing the raw JWT token string.
	TokenKey contextKey = "token"
)

// Claims represents the JWT claims carried by mesa-engine bearer tokens.
// It embeds RegisteredClaims for standard JWT fields (sub, iss, exp, etc.);
// Subject holds the user's UUID. Email and Role are stamped at issuance so
// handlers can authorize without a control-store round trip.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"` // User login email, forwarded to the session layer as identity
	Role  string `json:"role,omitempty"`  // Access level: superuser, admin, db_admin, or user
}

// GetClaims retrieves JWT claims from the request context.
// Returns nil and false if claims are not present.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

// GetToken retrieves the raw JWT token string from the request context.
// Returns empty string and false if token is not present.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok
}
