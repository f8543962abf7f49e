package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/auth"
	"github.com/mesa-hq/mesa-engine/pkg/crypto"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
)

// CreateDSNRequest is the request body for registering a data source.
// The connection string is encrypted before it is stored and never
// returned by any endpoint.
type CreateDSNRequest struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// TestDSNRequest is the request body for testing connectivity without
// registering anything.
type TestDSNRequest struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// TestDSNResponse reports the outcome of a connectivity test.
type TestDSNResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DSNResponse is the public view of a registered data source. It carries
// no connection material.
type DSNResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Driver    string `json:"driver"`
	CreatedAt string `json:"created_at"`
}

// DatasourcesHandler handles data-source administration HTTP requests.
type DatasourcesHandler struct {
	tenants   repositories.TenantRepository
	encryptor *crypto.DSNEncryptor
	factory   datasource.Factory
	logger    *zap.Logger
}

// NewDatasourcesHandler creates a new datasources handler.
func NewDatasourcesHandler(
	tenants repositories.TenantRepository,
	encryptor *crypto.DSNEncryptor,
	factory datasource.Factory,
	logger *zap.Logger,
) *DatasourcesHandler {
	return &DatasourcesHandler{
		tenants:   tenants,
		encryptor: encryptor,
		factory:   factory,
		logger:    logger,
	}
}

// RegisterRoutes registers the datasources handler's routes on the given
// mux. All of them require the db_admin role.
func (h *DatasourcesHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/admin/dsns",
		authMiddleware.RequireRole(models.RoleDBAdmin)(h.Create))
	mux.HandleFunc("POST /api/admin/dsns/test",
		authMiddleware.RequireRole(models.RoleDBAdmin)(h.TestConnection))
	mux.HandleFunc("GET /api/admin/dsns/{id}",
		authMiddleware.RequireRole(models.RoleDBAdmin)(h.Get))
}

// Create handles POST /api/admin/dsns
// Verifies the connection target is reachable, encrypts the connection
// string, and registers it.
func (h *DatasourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDSNRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "DSN name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if !models.IsValidDriver(req.Driver) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_driver", "Driver must be one of: postgres, mssql"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.DSN == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_dsn", "Connection string is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.factory.TestConnection(r.Context(), req.Driver, req.DSN); err != nil {
		// The raw error can embed host names and credentials; log it,
		// never return it.
		h.logger.Warn("DSN connectivity test failed",
			zap.String("driver", req.Driver),
			zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadRequest, "connection_failed", "Could not connect to the data source"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	encrypted, err := h.encryptor.Encrypt(req.DSN)
	if err != nil {
		h.logger.Error("Failed to encrypt DSN", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to register DSN"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	dsn := &models.DSN{
		Name:         req.Name,
		Driver:       req.Driver,
		EncryptedDSN: encrypted,
	}
	if err := h.tenants.CreateDSN(r.Context(), dsn); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			if err := ErrorResponse(w, http.StatusConflict, "dsn_exists", "A DSN with this name already exists"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to register DSN", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to register DSN"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.logger.Info("DSN registered",
		zap.String("dsn_id", dsn.ID.String()),
		zap.String("driver", dsn.Driver))

	if err := WriteJSON(w, http.StatusCreated, toDSNResponse(dsn)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// TestConnection handles POST /api/admin/dsns/test
// Tests connectivity without registering anything.
func (h *DatasourcesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req TestDSNRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if !models.IsValidDriver(req.Driver) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_driver", "Driver must be one of: postgres, mssql"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.DSN == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_dsn", "Connection string is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := TestDSNResponse{Success: true, Message: "Connection successful"}
	if err := h.factory.TestConnection(r.Context(), req.Driver, req.DSN); err != nil {
		h.logger.Debug("DSN connectivity test failed",
			zap.String("driver", req.Driver),
			zap.Error(err))
		response = TestDSNResponse{Success: false, Message: "Could not connect to the data source"}
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/admin/dsns/{id}
// Returns DSN metadata. The connection string stays encrypted at rest and
// is never returned.
func (h *DatasourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	dsnID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_dsn_id", "Invalid DSN ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	dsn, err := h.tenants.GetDSN(r.Context(), dsnID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if err := ErrorResponse(w, http.StatusNotFound, "dsn_not_found", "DSN not found"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Error("Failed to look up DSN", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to look up DSN"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, toDSNResponse(dsn)); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func toDSNResponse(dsn *models.DSN) DSNResponse {
	return DSNResponse{
		ID:        dsn.ID.String(),
		Name:      dsn.Name,
		Driver:    dsn.Driver,
		CreatedAt: dsn.CreatedAt.Format(time.RFC3339),
	}
}
