package auth

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSClient resolves verification keys for externally issued JWTs using
// JWKS (JSON Web Key Set) endpoints. It fetches public keys from configured
// JWKS URLs and keeps them refreshed. Only tokens from whitelisted issuers
// are accepted.
type JWKSClient struct {
	endpoints map[string]keyfunc.Keyfunc
}

// NewJWKSClient creates a JWKS client for the given issuer → JWKS URL map.
// All endpoints are fetched up front; an unreachable endpoint fails the
// whole client so a misconfigured issuer is caught at startup.
func NewJWKSClient(endpoints map[string]string) (*JWKSClient, error) {
	client := &JWKSClient{
		endpoints: make(map[string]keyfunc.Keyfunc),
	}

	for issuer, jwksURL := range endpoints {
		jwks, err := keyfunc.NewDefaultCtx(context.Background(), []string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
		}
		client.endpoints[issuer] = jwks
	}

	return client, nil
}

// resolveKey returns the issuer's public key for signature verification.
// External issuers must sign RS256; HMAC tokens never reach this path.
func (c *JWKSClient) resolveKey(token *jwt.Token, issuer string) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	jwks, exists := c.endpoints[issuer]
	if !exists {
		return nil, fmt.Errorf("unauthorized issuer: %s", issuer)
	}

	keyfuncFn := jwks.KeyfuncCtx(context.Background())
	return keyfuncFn(token)
}
