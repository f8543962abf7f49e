package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/auth"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/services"
)

// CreateTenantRequest is the request body for registering a tenant.
type CreateTenantRequest struct {
	Name  string `json:"name"`
	DSNID string `json:"dsn_id"`
}

// GrantRequest is the request body for granting tenant access to a user.
type GrantRequest struct {
	UserID string `json:"user_id"`
}

// TenantResponse is the public view of a tenant.
type TenantResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	DSNID     string `json:"dsn_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Selected  bool   `json:"selected,omitempty"`
}

// ListTenantsResponse wraps the tenant list.
type ListTenantsResponse struct {
	Tenants []TenantResponse `json:"tenants"`
}

// TenantsHandler handles tenant listing and tenant administration requests.
type TenantsHandler struct {
	tenants  repositories.TenantRepository
	sessions services.SessionStore
	schema   services.SchemaContextService
	logger   *zap.Logger
}

// NewTenantsHandler creates a new tenants handler.
func NewTenantsHandler(
	tenants repositories.TenantRepository,
	sessions services.SessionStore,
	schema services.SchemaContextService,
	logger *zap.Logger,
) *TenantsHandler {
	return &TenantsHandler{
		tenants:  tenants,
		sessions: sessions,
		schema:   schema,
		logger:   logger,
	}
}

// RegisterRoutes registers the tenants handler's routes on the given mux.
// Listing is open to any signed-in user; registration and grants need the
// admin role, schema refresh the db_admin role.
func (h *TenantsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/tenants", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("POST /api/admin/tenants",
		authMiddleware.RequireRole(models.RoleAdmin)(h.Create))
	mux.HandleFunc("POST /api/admin/tenants/{id}/grants",
		authMiddleware.RequireRole(models.RoleAdmin)(h.Grant))
	mux.HandleFunc("DELETE /api/admin/tenants/{id}/grants/{uid}",
		authMiddleware.RequireRole(models.RoleAdmin)(h.Revoke))
	mux.HandleFunc("POST /api/admin/tenants/{id}/schema/refresh",
		authMiddleware.RequireRole(models.RoleDBAdmin)(h.RefreshSchema))
}

// List handles GET /api/tenants
// Returns the tenants granted to the caller, marking the ones selected in
// the conversation named by the optional conversation_id query parameter.
func (h *TenantsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.RequireUserIDFromContext(r.Context())
	if err != nil {
		if err := ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Authentication required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tenants, err := h.tenants.ListForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list tenants",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list tenants"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		conversationID = defaultConversationID
	}
	selected := make(map[uuid.UUID]bool)
	// A missing session just means nothing is selected yet.
	if snap, err := h.sessions.Snapshot(r.Context(), userID, conversationID); err == nil {
		for _, id := range snap.TenantIDs {
			selected[id] = true
		}
	}

	response := ListTenantsResponse{Tenants: make([]TenantResponse, len(tenants))}
	for i, tenant := range tenants {
		response.Tenants[i] = TenantResponse{
			ID:       tenant.ID.String(),
			Name:     tenant.Name,
			Selected: selected[tenant.ID],
		}
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/admin/tenants
// Registers a tenant bound to an existing DSN.
func (h *TenantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Tenant name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	dsnID, err := uuid.Parse(req.DSNID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_dsn_id", "Invalid DSN ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if _, err := h.tenants.GetDSN(r.Context(), dsnID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "dsn_not_found", "DSN not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to look up DSN", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to create tenant"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	tenant := &models.Tenant{
		Name:  req.Name,
		DSNID: dsnID,
	}
	if err := h.tenants.CreateTenant(r.Context(), tenant); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			if err := ErrorResponse(w, http.StatusConflict, "tenant_exists", "A tenant with this name already exists"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to create tenant", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to create tenant"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Info("Tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("name", tenant.Name))

	response := TenantResponse{
		ID:        tenant.ID.String(),
		Name:      tenant.Name,
		DSNID:     tenant.DSNID.String(),
		CreatedAt: tenant.CreatedAt.Format(time.RFC3339),
	}
	if err := WriteJSON(w, http.StatusCreated, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Grant handles POST /api/admin/tenants/{id}/grants
// Gives a user access to the tenant. Granting twice is a no-op.
func (h *TenantsHandler) Grant(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_tenant_id", "Invalid tenant ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.tenants.Grant(r.Context(), userID, tenantID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "not_found", "User or tenant not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to grant access",
			zap.String("tenant_id", tenantID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to grant access"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Info("Tenant access granted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", userID.String()))

	w.WriteHeader(http.StatusNoContent)
}

// Revoke handles DELETE /api/admin/tenants/{id}/grants/{uid}
// Removes a user's access to the tenant.
func (h *TenantsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_tenant_id", "Invalid tenant ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	userID, err := uuid.Parse(r.PathValue("uid"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.tenants.Revoke(r.Context(), userID, tenantID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "grant_not_found", "No such grant"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to revoke access",
			zap.String("tenant_id", tenantID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to revoke access"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Info("Tenant access revoked",
		zap.String("tenant_id", tenantID.String()),
		zap.String("user_id", userID.String()))

	w.WriteHeader(http.StatusNoContent)
}

// RefreshSchema handles POST /api/admin/tenants/{id}/schema/refresh
// Drops the cached schema context so the next question re-introspects the
// tenant's database. Used after migrations or a DSN change.
func (h *TenantsHandler) RefreshSchema(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_tenant_id", "Invalid tenant ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if _, err := h.tenants.GetTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "tenant_not_found", "Tenant not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to look up tenant", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to refresh schema"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.schema.Invalidate(tenantID)

	h.logger.Info("Schema cache invalidated", zap.String("tenant_id", tenantID.String()))

	w.WriteHeader(http.StatusNoContent)
}
