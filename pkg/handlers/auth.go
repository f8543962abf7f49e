package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/auth"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/services"
)

// defaultConversationID names the session used by clients that do not track
// conversations of their own, such as the web UI.
const defaultConversationID = "default"

// LoginRequest represents the request body for credential login.
type LoginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// LoginResponse carries the issued bearer token and the authenticated user.
// The same token is also set as an httpOnly session cookie for browsers.
type LoginResponse struct {
	Token          string       `json:"token"`
	ConversationID string       `json:"conversation_id"`
	User           UserResponse `json:"user"`
}

// LogoutRequest represents the optional request body for logout.
type LogoutRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// WhoamiResponse describes the authenticated caller.
type WhoamiResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	users    repositories.UserRepository
	tokens   auth.TokenIssuer
	cookies  *auth.CookieManager
	sessions services.SessionStore
	logger   *zap.Logger
}

// NewAuthHandler creates a new auth handler. cookies may be nil when browser
// cookie auth is disabled.
func NewAuthHandler(
	users repositories.UserRepository,
	tokens auth.TokenIssuer,
	cookies *auth.CookieManager,
	sessions services.SessionStore,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:    users,
		tokens:   tokens,
		cookies:  cookies,
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/auth/login", h.Login)
	mux.HandleFunc("POST /api/auth/logout", authMiddleware.RequireAuth(h.Logout))
	mux.HandleFunc("GET /api/whoami", authMiddleware.RequireAuth(h.Whoami))
}

// Login handles POST /api/auth/login
// Verifies credentials, issues a bearer token, sets the session cookie, and
// authenticates the conversation session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Email == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_email", "Email is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Password == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_password", "Password is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Same response as a wrong password so the endpoint does not
			// confirm which emails have accounts.
			h.logger.Debug("Login attempt for unknown email")
			if err := ErrorResponse(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to look up user", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Login failed"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.logger.Debug("Login attempt with wrong password", zap.String("user_id", user.ID.String()))
		if err := ErrorResponse(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Login failed"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if h.cookies != nil {
		if err := h.cookies.SaveToken(w, r, token); err != nil {
			// Bearer auth still works without the cookie.
			h.logger.Warn("Failed to set session cookie", zap.Error(err))
		}
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = defaultConversationID
	}

	if _, err := h.sessions.Authenticate(r.Context(), user.ID, conversationID, user.Email, user.Role); err != nil {
		h.logger.Error("Failed to authenticate session",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Login failed"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Info("User logged in",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role))

	response := LoginResponse{
		Token:          token,
		ConversationID: conversationID,
		User:           toUserResponse(user),
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Logout handles POST /api/auth/logout
// Discards the conversation session and clears the browser cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	// The body is optional; clients without conversation tracking send none.
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = defaultConversationID
	}

	if err := h.sessions.Logout(r.Context(), userID, conversationID); err != nil {
		h.logger.Error("Failed to discard session",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Logout failed"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if h.cookies != nil {
		if err := h.cookies.Clear(w, r); err != nil {
			h.logger.Warn("Failed to clear session cookie", zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Whoami handles GET /api/whoami
// Returns the identity the request authenticated as.
func (h *AuthHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := WhoamiResponse{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
