package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/auth"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/services"
)

// defaultConversationID groups questions from clients that do not manage
// their own conversation identifiers. Matches the HTTP surface.
const defaultConversationID = "default"

type askResult struct {
	Answer         string `json:"answer"`
	Language       string `json:"language"`
	SQL            string `json:"sql,omitempty"`
	ConversationID string `json:"conversation_id"`
}

// RegisterAskTool adds the ask tool: one natural-language question answered
// against the caller's selected tenants. The caller must have selected a
// tenant first via select_tenant.
func RegisterAskTool(s *server.MCPServer, ask services.AskService, sessions services.SessionStore, logger *zap.Logger) {
	tool := mcp.NewTool(
		"ask",
		mcp.WithDescription(
			"Ask a natural-language question about the selected tenant's sales data. "+
				"Requires a tenant to be selected first with select_tenant. "+
				"Returns the answer text; SQL is included only when debug is enabled.",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question to answer, e.g. 'what were sales last week?'"),
		),
		mcp.WithString(
			"conversation_id",
			mcp.Description("Conversation to route the question to (default: 'default')"),
		),
		mcp.WithString(
			"language",
			mcp.Description("Answer language override: 'en' or 'es'"),
		),
		mcp.WithBoolean(
			"debug",
			mcp.Description("Include the generated SQL in the answer"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		claims, userID, errResult := callerIdentity(ctx)
		if errResult != nil {
			return errResult, nil
		}

		text, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("missing_question", "question is required"), nil
		}

		conversationID := getOptionalString(req, "conversation_id", defaultConversationID)
		if err := establishSession(ctx, sessions, claims, userID, conversationID); err != nil {
			logger.Error("Failed to establish session",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("failed to establish session: %w", err)
		}

		question := models.Question{
			Text:           text,
			ConversationID: conversationID,
			Language:       getOptionalString(req, "language", ""),
			Debug:          getOptionalBool(req, "debug"),
		}

		answer, err := ask.Ask(ctx, userID, question)
		if err != nil {
			return askErrorResult(logger, userID, err)
		}

		jsonResult, err := json.Marshal(askResult{
			Answer:         answer.Text,
			Language:       answer.Language,
			SQL:            answer.SQL,
			ConversationID: conversationID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// askErrorResult maps pipeline failures onto structured tool errors, using
// the same user-visible messages as the HTTP surface. Unexpected failures
// propagate as Go errors.
func askErrorResult(logger *zap.Logger, userID uuid.UUID, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperrors.ErrNoTenantSelected):
		return NewErrorResult("no_tenant_selected", "Select a tenant before asking questions"), nil
	case errors.Is(err, apperrors.ErrValidationReject):
		return NewErrorResult("query_rejected", "This question cannot be answered safely"), nil
	case errors.Is(err, apperrors.ErrPlanning):
		return NewErrorResult("planning_failed", "Could not understand the question. Try rephrasing it."), nil
	case errors.Is(err, apperrors.ErrExecutionTimeout):
		return NewErrorResult("execution_timeout", "The query took too long and was canceled"), nil
	case errors.Is(err, apperrors.ErrForbidden):
		return NewErrorResult("forbidden", "You do not have access to the selected tenant"), nil
	case errors.Is(err, apperrors.ErrAuth):
		return NewErrorResult("authentication_required", "Sign in before asking questions"), nil
	default:
		logger.Error("Failed to answer question",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to process question: %w", err)
	}
}

// callerIdentity resolves the authenticated caller from the request context.
// The auth middleware injects claims before the MCP server sees the request.
func callerIdentity(ctx context.Context) (*auth.Claims, uuid.UUID, *mcp.CallToolResult) {
	claims, ok := auth.GetClaims(ctx)
	if !ok {
		return nil, uuid.Nil, NewErrorResult("unauthorized", "Authentication required")
	}
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, uuid.Nil, NewErrorResult("unauthorized", "Authentication required")
	}
	return claims, userID, nil
}

// establishSession makes sure the conversation has an authenticated session,
// creating one from the verified bearer identity on first contact.
func establishSession(ctx context.Context, sessions services.SessionStore, claims *auth.Claims, userID uuid.UUID, conversationID string) error {
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
