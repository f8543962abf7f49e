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
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/services"
)

type tenantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listTenantsResult struct {
	Tenants []tenantInfo `json:"tenants"`
}

type selectTenantResult struct {
	ConversationID string   `json:"conversation_id"`
	State          string   `json:"state"`
	TenantIDs      []string `json:"tenant_ids"`
}

// RegisterTenantTools adds the list_tenants and select_tenant tools.
// Together they cover the session setup a client needs before ask:
// discover the granted tenants, then bind the conversation to one or
// more of them.
func RegisterTenantTools(s *server.MCPServer, tenants repositories.TenantRepository, sessions services.SessionStore, logger *zap.Logger) {
	registerListTenantsTool(s, tenants, logger)
	registerSelectTenantTool(s, tenants, sessions, logger)
}

func registerListTenantsTool(s *server.MCPServer, tenants repositories.TenantRepository, logger *zap.Logger) {
	tool := mcp.NewTool(
		"list_tenants",
		mcp.WithDescription("List the tenants the caller has been granted access to, ordered by name"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		_, userID, errResult := callerIdentity(ctx)
		if errResult != nil {
			return errResult, nil
		}

		granted, err := tenants.ListForUser(ctx, userID)
		if err != nil {
			logger.Error("Failed to list tenants",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("failed to list tenants: %w", err)
		}

		result := listTenantsResult{Tenants: make([]tenantInfo, 0, len(granted))}
		for _, t := range granted {
			result.Tenants = append(result.Tenants, tenantInfo{ID: t.ID.String(), Name: t.Name})
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

func registerSelectTenantTool(s *server.MCPServer, tenants repositories.TenantRepository, sessions services.SessionStore, logger *zap.Logger) {
	tool := mcp.NewTool(
		"select_tenant",
		mcp.WithDescription(
			"Bind the conversation to one or more tenants for subsequent ask calls. "+
				"Accepts tenant IDs or tenant names. Every tenant must have been "+
				"granted to the caller.",
		),
		mcp.WithArray(
			"tenants",
			mcp.Required(),
			mcp.Description("Tenant IDs or names to select"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithString(
			"conversation_id",
			mcp.Description("Conversation to bind (default: 'default')"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		claims, userID, errResult := callerIdentity(ctx)
		if errResult != nil {
			return errResult, nil
		}

		requested, err := req.RequireStringSlice("tenants")
		if err != nil || len(requested) == 0 {
			return NewErrorResult("missing_tenants", "at least one tenant ID or name is required"), nil
		}

		tenantIDs := make([]uuid.UUID, 0, len(requested))
		for _, raw := range requested {
			id, err := resolveTenant(ctx, tenants, raw)
			if err != nil {
				if errors.Is(err, apperrors.ErrNotFound) {
					return NewErrorResult("tenant_not_found", fmt.Sprintf("no tenant named %q", raw)), nil
				}
				logger.Error("Failed to resolve tenant",
					zap.String("tenant", raw),
					zap.Error(err))
				return nil, fmt.Errorf("failed to resolve tenant: %w", err)
			}
			tenantIDs = append(tenantIDs, id)
		}

		conversationID := getOptionalString(req, "conversation_id", defaultConversationID)
		if err := establishSession(ctx, sessions, claims, userID, conversationID); err != nil {
			logger.Error("Failed to establish session",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("failed to establish session: %w", err)
		}

		snap, err := sessions.SelectTenants(ctx, userID, conversationID, tenantIDs)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrForbidden):
				return NewErrorResult("tenant_not_granted", "You do not have access to one or more of the requested tenants"), nil
			case errors.Is(err, apperrors.ErrAuth):
				return NewErrorResult("authentication_required", "Sign in before selecting a tenant"), nil
			default:
				logger.Error("Failed to select tenants",
					zap.String("user_id", userID.String()),
					zap.Error(err))
				return nil, fmt.Errorf("failed to select tenants: %w", err)
			}
		}

		ids := make([]string, len(snap.TenantIDs))
		for i, id := range snap.TenantIDs {
			ids[i] = id.String()
		}
		jsonResult, err := json.Marshal(selectTenantResult{
			ConversationID: snap.ConversationID,
			State:          string(snap.State),
			TenantIDs:      ids,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

// resolveTenant accepts either a tenant UUID or a tenant name.
func resolveTenant(ctx context.Context, tenants repositories.TenantRepository, raw string) (uuid.UUID, error) {
	if id, err := uuid.Parse(raw); err == nil {
		return id, nil
	}
	tenant, err := tenants.GetTenantByName(ctx, raw)
	if err != nil {
		return uuid.Nil, err
	}
	return tenant.ID, nil
}
