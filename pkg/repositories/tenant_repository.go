package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/database"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

// TenantRepository defines the interface for tenant, DSN, and access-grant
// data. A tenant is one restaurant's isolated reporting scope.
type TenantRepository interface {
	// CreateDSN registers an encrypted data-source connection target.
	CreateDSN(ctx context.Context, dsn *models.DSN) error

	// GetDSN retrieves a DSN by id, or ErrNotFound. EncryptedDSN stays
	// encrypted; only the connection manager decrypts it.
	GetDSN(ctx context.Context, id uuid.UUID) (*models.DSN, error)

	// CreateTenant registers a tenant bound to an existing DSN. A duplicate
	// name returns ErrConflict.
	CreateTenant(ctx context.Context, tenant *models.Tenant) error

	// GetTenant retrieves a tenant by id, or ErrNotFound.
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)

	// GetTenantByName retrieves a tenant by its unique name, or ErrNotFound.
	GetTenantByName(ctx context.Context, name string) (*models.Tenant, error)

	// GetTenantDSN retrieves the DSN bound to a tenant, or ErrNotFound.
	GetTenantDSN(ctx context.Context, tenantID uuid.UUID) (*models.DSN, error)

	// Grant gives a user access to a tenant. Granting twice is a no-op.
	Grant(ctx context.Context, userID, tenantID uuid.UUID) error

	// Revoke removes a user's access to a tenant.
	Revoke(ctx context.Context, userID, tenantID uuid.UUID) error

	// HasAccess reports whether the user has been granted the tenant.
	HasAccess(ctx context.Context, userID, tenantID uuid.UUID) (bool, error)

	// ListForUser returns the tenants the user can query, ordered by name.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Tenant, error)
}

// tenantRepository implements TenantRepository using PostgreSQL.
type tenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository(db *database.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) CreateDSN(ctx context.Context, dsn *models.DSN) error {
	if dsn.ID == uuid.Nil {
		dsn.ID = uuid.New()
	}
	dsn.CreatedAt = time.Now()

	if !models.IsValidDriver(dsn.Driver) {
		return fmt.Errorf("unsupported driver %q", dsn.Driver)
	}

	query := `
		INSERT INTO dsns (id, name, driver, encrypted_dsn, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		dsn.ID,
		dsn.Name,
		dsn.Driver,
		dsn.EncryptedDSN,
		dsn.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create dsn: %w", err)
	}

	return nil
}

func (r *tenantRepository) GetDSN(ctx context.Context, id uuid.UUID) (*models.DSN, error) {
	query := `
		SELECT id, name, driver, encrypted_dsn, created_at
		FROM dsns
		WHERE id = $1`

	return scanDSN(r.db.QueryRow(ctx, query, id))
}

func (r *tenantRepository) GetTenantDSN(ctx context.Context, tenantID uuid.UUID) (*models.DSN, error) {
	query := `
		SELECT d.id, d.name, d.driver, d.encrypted_dsn, d.created_at
		FROM dsns d
		JOIN restaurants t ON t.dsn_id = d.id
		WHERE t.id = $1`

	return scanDSN(r.db.QueryRow(ctx, query, tenantID))
}

func scanDSN(row pgx.Row) (*models.DSN, error) {
	var dsn models.DSN
	err := row.Scan(
		&dsn.ID,
		&dsn.Name,
		&dsn.Driver,
		&dsn.EncryptedDSN,
		&dsn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dsn: %w", err)
	}
	return &dsn, nil
}

func (r *tenantRepository) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	tenant.CreatedAt = time.Now()

	query := `
		INSERT INTO restaurants (id, name, dsn_id, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query,
		tenant.ID,
		tenant.Name,
		tenant.DSNID,
		tenant.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return apperrors.ErrConflict
			case "23503":
				return fmt.Errorf("dsn %s does not exist", tenant.DSNID)
			}
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

func (r *tenantRepository) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `
		SELECT id, name, dsn_id, created_at
		FROM restaurants
		WHERE id = $1`

	return scanTenant(r.db.QueryRow(ctx, query, id))
}

func (r *tenantRepository) GetTenantByName(ctx context.Context, name string) (*models.Tenant, error) {
	query := `
		SELECT id, name, dsn_id, created_at
		FROM restaurants
		WHERE name = $1`

	return scanTenant(r.db.QueryRow(ctx, query, name))
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var tenant models.Tenant
	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.DSNID,
		&tenant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

func (r *tenantRepository) Grant(ctx context.Context, userID, tenantID uuid.UUID) error {
	query := `
		INSERT INTO user_restaurants (user_id, restaurant_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, restaurant_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query, userID, tenantID, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to grant access: %w", err)
	}

	return nil
}

func (r *tenantRepository) Revoke(ctx context.Context, userID, tenantID uuid.UUID) error {
	query := `DELETE FROM user_restaurants WHERE user_id = $1 AND restaurant_id = $2`

	tag, err := r.db.Exec(ctx, query, userID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to revoke access: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *tenantRepository) HasAccess(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_restaurants
			WHERE user_id = $1 AND restaurant_id = $2
		)`

	var hasAccess bool
	if err := r.db.QueryRow(ctx, query, userID, tenantID).Scan(&hasAccess); err != nil {
		return false, fmt.Errorf("failed to check access: %w", err)
	}

	return hasAccess, nil
}

func (r *tenantRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Tenant, error) {
	query := `
		SELECT t.id, t.name, t.dsn_id, t.created_at
		FROM restaurants t
		JOIN user_restaurants ut ON ut.restaurant_id = t.id
		WHERE ut.user_id = $1
		ORDER BY t.name`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var tenant models.Tenant
		err := rows.Scan(
			&tenant.ID,
			&tenant.Name,
			&tenant.DSNID,
			&tenant.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, &tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// Ensure tenantRepository implements TenantRepository at compile time.
var _ TenantRepository = (*tenantRepository)(nil)
