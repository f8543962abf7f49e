package testhelpers

import (
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// testTokenClaims mirrors the bearer-token claim layout without importing
// the auth package, so helpers stay usable from auth's own tests.
type testTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// SignTestToken issues an HS256 bearer token for tests that exercise the
// real verification path. The subject is the user id; email and role travel
// as custom claims, matching production issuance.
func SignTestToken(t *testing.T, secret, issuer string, userID uuid.UUID, email, role string) string {
	t.Helper()

	now := time.Now()
	claims := &testTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.NewString(),
		},
		Email: email,
		Role:  role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

// BearerHeader formats a token for an Authorization header.
func BearerHeader(token string) string {
	return fmt.Sprintf("Bearer %s", token)
}
