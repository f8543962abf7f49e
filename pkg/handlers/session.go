package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/auth"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/services"
)

// SelectTenantRequest represents the request body for tenant selection.
type SelectTenantRequest struct {
	TenantIDs      []string `json:"tenant_ids"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// SetLanguageRequest represents the request body for switching the answer
// language.
type SetLanguageRequest struct {
	Language       string `json:"language"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SetDebugRequest represents the request body for toggling debug mode.
type SetDebugRequest struct {
	Enabled        bool   `json:"enabled"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SessionResponse is the client-visible view of a conversation session.
type SessionResponse struct {
	ConversationID string   `json:"conversation_id"`
	State          string   `json:"state"`
	TenantIDs      []string `json:"tenant_ids"`
	Language       string   `json:"language"`
	Debug          bool     `json:"debug"`
}

func toSessionResponse(snap models.SessionSnapshot) SessionResponse {
	ids := make([]string, len(snap.TenantIDs))
	for i, id := range snap.TenantIDs {
		ids[i] = id.String()
	}
	return SessionResponse{
		ConversationID: snap.ConversationID,
		State:          string(snap.State),
		TenantIDs:      ids,
		Language:       snap.Language,
		Debug:          snap.Debug,
	}
}

// ensureSession makes sure the conversation has an authenticated session,
// creating one from the already verified bearer identity on first contact.
func ensureSession(ctx context.Context, sessions services.SessionStore, claims *auth.Claims, userID uuid.UUID, conversationID string) error {
	_, err := sessions.Snapshot(ctx, userID, conversationID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	_, err = sessions.Authenticate(ctx, userID, conversationID, claims.Email, claims.Role)
	return err
}

// SessionHandler handles conversation-session HTTP requests.
type SessionHandler struct {
	sessions services.SessionStore
	logger   *zap.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions services.SessionStore, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes registers the session handler's routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/session/tenant", authMiddleware.RequireAuth(h.SelectTenant))
	mux.HandleFunc("POST /api/session/language", authMiddleware.RequireAuth(h.SetLanguage))
	mux.HandleFunc("POST /api/session/debug", authMiddleware.RequireAuth(h.SetDebug))
}

// SelectTenant handles POST /api/session/tenant
// Rebinds the conversation session to the requested tenants. Every tenant
// must have been granted to the caller.
func (h *SessionHandler) SelectTenant(w http.ResponseWriter, r *http.Request) {
	claims, userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req SelectTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if len(req.TenantIDs) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_tenant_ids", "At least one tenant ID is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tenantIDs := make([]uuid.UUID, 0, len(req.TenantIDs))
	for _, raw := range req.TenantIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_tenant_id", "Invalid tenant ID format"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		tenantIDs = append(tenantIDs, id)
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = defaultConversationID
	}

	if err := ensureSession(r.Context(), h.sessions, claims, userID, conversationID); err != nil {
		h.logger.Error("Failed to establish session",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to select tenant"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	snap, err := h.sessions.SelectTenants(r.Context(), userID, conversationID, tenantIDs)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrForbidden):
			if err := ErrorResponse(w, http.StatusForbidden, "tenant_not_granted", "You do not have access to one or more of the requested tenants"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		case errors.Is(err, apperrors.ErrAuth):
			if err := ErrorResponse(w, http.StatusUnauthorized, "authentication_required", "Sign in before selecting a tenant"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		default:
			h.logger.Error("Failed to select tenants",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to select tenant"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, toSessionResponse(snap)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SetLanguage handles POST /api/session/language
// Switches the session's answer language.
func (h *SessionHandler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	claims, userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req SetLanguageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Language != models.LanguageEnglish && req.Language != models.LanguageSpanish {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_language", "Language must be one of: en, es"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = defaultConversationID
	}

	if err := ensureSession(r.Context(), h.sessions, claims, userID, conversationID); err != nil {
		h.logger.Error("Failed to establish session",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to set language"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	snap, err := h.sessions.SetLanguage(r.Context(), userID, conversationID, req.Language)
	if err != nil {
		h.writeSessionError(w, userID, "Failed to set language", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, toSessionResponse(snap)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SetDebug handles POST /api/session/debug
// Toggles SQL echoing in answers for the session.
func (h *SessionHandler) SetDebug(w http.ResponseWriter, r *http.Request) {
	claims, userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req SetDebugRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = defaultConversationID
	}

	if err := ensureSession(r.Context(), h.sessions, claims, userID, conversationID); err != nil {
		h.logger.Error("Failed to establish session",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to set debug mode"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	snap, err := h.sessions.SetDebug(r.Context(), userID, conversationID, req.Enabled)
	if err != nil {
		h.writeSessionError(w, userID, "Failed to set debug mode", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, toSessionResponse(snap)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// identity extracts the verified claims and user id, writing a 401 when the
// request reached the handler without them.
func (h *SessionHandler) identity(w http.ResponseWriter, r *http.Request) (*auth.Claims, uuid.UUID, bool) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, uuid.Nil, false
	}
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, uuid.Nil, false
	}
	return claims, userID, true
}

// writeSessionError maps session-store failures onto HTTP statuses.
func (h *SessionHandler) writeSessionError(w http.ResponseWriter, userID uuid.UUID, message string, err error) {
	if errors.Is(err, apperrors.ErrAuth) {
		if err := ErrorResponse(w, http.StatusUnauthorized, "authentication_required", "Sign in first"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	h.logger.Error(message,
		zap.String("user_id", userID.String()),
		zap.Error(err))
	if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
