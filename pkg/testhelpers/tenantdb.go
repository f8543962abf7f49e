package testhelpers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantDB is a restaurant point-of-sale database for execution tests. It
// lives in the shared postgres container next to the control store and
// carries the reporting tables the semantics catalog describes.
type TenantDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

var (
	sharedTenantDB     *TenantDB
	sharedTenantDBOnce sync.Once
	sharedTenantDBErr  error
)

// restaurantSchema is the minimal point-of-sale reporting schema.
const restaurantSchema = `
CREATE TABLE IF NOT EXISTS sales (
	uuid          UUID PRIMARY KEY,
	total         NUMERIC(12,2) NOT NULL,
	num_customers INTEGER NOT NULL DEFAULT 0,
	sale_state    TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	closed_at     TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS products (
	uuid  UUID PRIMARY KEY,
	name  TEXT NOT NULL,
	price NUMERIC(12,2) NOT NULL
);
CREATE TABLE IF NOT EXISTS items (
	uuid       UUID PRIMARY KEY,
	sale_id    UUID NOT NULL REFERENCES sales(uuid),
	product_id UUID REFERENCES products(uuid),
	name       TEXT NOT NULL,
	price      NUMERIC(12,2) NOT NULL,
	quantity   NUMERIC(12,3) NOT NULL DEFAULT 1,
	canceled   BOOLEAN,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS expenses (
	uuid       UUID PRIMARY KEY,
	concept    TEXT NOT NULL,
	amount     NUMERIC(12,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS payments (
	uuid       UUID PRIMARY KEY,
	sale_id    UUID REFERENCES sales(uuid),
	method     TEXT NOT NULL,
	amount     NUMERIC(12,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// GetTenantDB returns a shared restaurant database inside the integration
// test container, with the reporting schema created and no rows. Tests own
// their data; use ResetTenantData between tests that seed.
func GetTenantDB(t *testing.T) *TenantDB {
	t.Helper()

	control := GetControlDB(t)

	sharedTenantDBOnce.Do(func() {
		sharedTenantDB, sharedTenantDBErr = setupTenantDB(control)
	})

	if sharedTenantDBErr != nil {
		t.Fatalf("Failed to setup tenant database: %v", sharedTenantDBErr)
	}

	return sharedTenantDB
}

func setupTenantDB(control *ControlDB) (*TenantDB, error) {
	ctx := context.Background()

	// CREATE DATABASE cannot run inside a transaction; ignore the error if
	// a previous run already created it.
	_, err := control.DB.Exec(ctx, "CREATE DATABASE tenant_pos_test")
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return nil, fmt.Errorf("failed to create tenant database: %w", err)
	}

	connStr := strings.Replace(control.ConnStr, "/mesa_engine_test", "/tenant_pos_test", 1)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tenant database: %w", err)
	}

	if _, err := pool.Exec(ctx, restaurantSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create restaurant schema: %w", err)
	}

	return &TenantDB{Pool: pool, ConnStr: connStr}, nil
}

// ResetTenantData truncates all restaurant tables so a test starts clean.
func ResetTenantData(t *testing.T, db *TenantDB) {
	t.Helper()

	_, err := db.Pool.Exec(context.Background(),
		"TRUNCATE items, payments, sales, products, expenses CASCADE")
	if err != nil {
		t.Fatalf("Failed to reset tenant data: %v", err)
	}
}
