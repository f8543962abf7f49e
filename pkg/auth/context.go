// Context helpers for extracting authentication information from request
// contexts. These simplify access to JWT claims injected by the auth
// middleware.
//
// Example usage in a handler:
//
//	func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
//	    userID, err := auth.RequireUserIDFromContext(r.Context())
//	    if err != nil {
//	        writeUnauthorized(w)
//	        return
//	    }
//	    // Use userID for session routing
//	    answer, err := h.ask.Ask(r.Context(), userID, question)
//	    // ...
//	}

package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GetUserIDFromContext extracts the user ID from JWT claims in the context.
// Returns uuid.Nil if not authenticated, claims are missing, or the subject
// is not a valid UUID. Use this when you can handle uuid.Nil gracefully.
func GetUserIDFromContext(ctx context.Context) uuid.UUID {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return uuid.Nil
	}

	if claims.Subject == "" {
		return uuid.Nil
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil
	}

	return userID
}

// RequireUserIDFromContext extracts the user ID from context and returns an
// error if not found or invalid. Use this when the operation cannot proceed
// without an authenticated user.
func RequireUserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	userID := GetUserIDFromContext(ctx)
	if userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// GetIdentityFromContext extracts the user's login email from JWT claims.
// Returns empty string if not authenticated or claims are missing.
func GetIdentityFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Email
}

// GetRoleFromContext extracts the user's role from JWT claims.
// Returns empty string if not authenticated or claims are missing.
func GetRoleFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Role
}
