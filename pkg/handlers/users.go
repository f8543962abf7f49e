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
)

// CreateUserRequest is the request body for creating a user account.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// SetRoleRequest is the request body for changing a user's role.
type SetRoleRequest struct {
	Role string `json:"role"`
}

// UserResponse is the public view of a user account.
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ListUsersResponse wraps the user list.
type ListUsersResponse struct {
	Users []UserResponse `json:"users"`
}

func toUserResponse(user *models.User) UserResponse {
	resp := UserResponse{
		ID:    user.ID.String(),
		Email: user.Email,
		Role:  user.Role,
	}
	if !user.CreatedAt.IsZero() {
		resp.CreatedAt = user.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

// minPasswordLength is the shortest password Create accepts.
const minPasswordLength = 8

// UsersHandler handles account administration HTTP requests.
type UsersHandler struct {
	users  repositories.UserRepository
	logger *zap.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(users repositories.UserRepository, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		users:  users,
		logger: logger,
	}
}

// RegisterRoutes registers the users handler's routes on the given mux.
// All account administration requires the admin role.
func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/admin/users",
		authMiddleware.RequireRole(models.RoleAdmin)(h.Create))
	mux.HandleFunc("GET /api/admin/users",
		authMiddleware.RequireRole(models.RoleAdmin)(h.List))
	mux.HandleFunc("PUT /api/admin/users/{id}/role",
		authMiddleware.RequireRole(models.RoleAdmin)(h.SetRole))
}

// Create handles POST /api/admin/users
// Creates a new account with a hashed password.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
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
	if len(req.Password) < minPasswordLength {
		if err := ErrorResponse(w, http.StatusBadRequest, "weak_password", "Password must be at least 8 characters"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if !models.IsValidRole(req.Role) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_role", "Role must be one of: superuser, admin, db_admin, user"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("Failed to hash password", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to create user"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			if err := ErrorResponse(w, http.StatusConflict, "email_exists", "A user with this email already exists"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to create user", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to create user"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Info("User created",
		zap.String("user_id", user.ID.String()),
		zap.String("role", user.Role))

	if err := WriteJSON(w, http.StatusCreated, toUserResponse(user)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/admin/users
// Returns all accounts ordered by creation time.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list users", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list users"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ListUsersResponse{Users: make([]UserResponse, len(users))}
	for i, user := range users {
		response.Users[i] = toUserResponse(user)
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// SetRole handles PUT /api/admin/users/{id}/role
// Changes an account's role. Demoting the last superuser is refused.
func (h *UsersHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req SetRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if !models.IsValidRole(req.Role) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_role", "Role must be one of: superuser, admin, db_admin, user"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.users.SetRole(r.Context(), userID, req.Role); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrLastSuperuser):
			if err := ErrorResponse(w, http.StatusBadRequest, "last_superuser", "Cannot demote the last superuser"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		case errors.Is(err, apperrors.ErrNotFound):
			if err := ErrorResponse(w, http.StatusNotFound, "user_not_found", "User not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		default:
			h.logger.Error("Failed to set role",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to set role"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
		}
		return
	}

	h.logger.Info("User role changed",
		zap.String("user_id", userID.String()),
		zap.String("role", req.Role))

	w.WriteHeader(http.StatusNoContent)
}
