package handlers

import (
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

// AskRequest represents the request body for asking a question.
type AskRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
	Language       string `json:"language,omitempty"`
	Debug          bool   `json:"debug,omitempty"`
}

// AskResponse carries the rendered answer. SQL is present only when debug
// is enabled for the request or the session.
type AskResponse struct {
	Answer         string `json:"answer"`
	Language       string `json:"language"`
	SQL            string `json:"sql,omitempty"`
	ConversationID string `json:"conversation_id"`
}

// AskHandler handles natural-language question HTTP requests.
type AskHandler struct {
	ask      services.AskService
	sessions services.SessionStore
	logger   *zap.Logger
}

// NewAskHandler creates a new ask handler.
func NewAskHandler(ask services.AskService, sessions services.SessionStore, logger *zap.Logger) *AskHandler {
	return &AskHandler{
		ask:      ask,
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes registers the ask handler's routes on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/ask", authMiddleware.RequireAuth(h.Ask))
}

// Ask handles POST /api/ask
// Answers one natural-language question against the session's selected
// tenants.
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	if !ok {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Question == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_question", "Question is required"); err != nil {
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
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to process question"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	question := models.Question{
		Text:           req.Question,
		ConversationID: conversationID,
		Language:       req.Language,
		Debug:          req.Debug,
	}

	answer, err := h.ask.Ask(r.Context(), userID, question)
	if err != nil {
		h.writeAskError(w, r, req, userID, conversationID, err)
		return
	}

	response := AskResponse{
		Answer:         answer.Text,
		Language:       answer.Language,
		SQL:            answer.SQL,
		ConversationID: conversationID,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeAskError maps pipeline failures onto HTTP statuses. Every failure
// produces a user-visible message distinct from an empty-result answer, and
// none of them leaks connection details or generated SQL.
func (h *AskHandler) writeAskError(w http.ResponseWriter, r *http.Request, req AskRequest, userID uuid.UUID, conversationID string, err error) {
	var status int
	var code, message string

	switch {
	case errors.Is(err, apperrors.ErrNoTenantSelected):
		status, code = http.StatusConflict, "no_tenant_selected"
		message = "Select a tenant before asking questions"
	case errors.Is(err, apperrors.ErrValidationReject):
		status, code = http.StatusUnprocessableEntity, "query_rejected"
		message = "This question cannot be answered safely"
		// The violated rule id is internal detail; show it only in debug.
		var vErr *apperrors.ValidationError
		if errors.As(err, &vErr) && h.debugEnabled(r, req, userID, conversationID) {
			message = "Query rejected by safety rule " + vErr.RuleID
		}
	case errors.Is(err, apperrors.ErrPlanning):
		status, code = http.StatusBadGateway, "planning_failed"
		message = "Could not understand the question. Try rephrasing it."
	case errors.Is(err, apperrors.ErrExecutionTimeout):
		status, code = http.StatusGatewayTimeout, "execution_timeout"
		message = "The query took too long and was canceled"
	case errors.Is(err, apperrors.ErrExecution):
		h.logger.Error("Question execution failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		status, code = http.StatusInternalServerError, "execution_failed"
		message = "The query could not be executed"
	case errors.Is(err, apperrors.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
		message = "You do not have access to the selected tenant"
	case errors.Is(err, apperrors.ErrAuth):
		status, code = http.StatusUnauthorized, "authentication_required"
		message = "Sign in before asking questions"
	default:
		h.logger.Error("Failed to answer question",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		status, code = http.StatusInternalServerError, "internal_error"
		message = "Failed to process question"
	}

	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

// debugEnabled reports whether rejection detail may be shown: the request
// asked for debug explicitly or the session has it toggled on.
func (h *AskHandler) debugEnabled(r *http.Request, req AskRequest, userID uuid.UUID, conversationID string) bool {
	if req.Debug {
		return true
	}
	snap, err := h.sessions.Snapshot(r.Context(), userID, conversationID)
	return err == nil && snap.Debug
}
