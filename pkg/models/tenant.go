package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated restaurant data scope. Each tenant binds to exactly
// one data-source connection target; queries for the tenant run only there.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	DSNID     uuid.UUID `json:"dsn_id"`
	CreatedAt time.Time `json:"created_at"`
}

// DSN is a registered data-source connection target. The connection string
// is encrypted at rest; Driver selects the execution adapter.
type DSN struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Driver       string    `json:"driver"` // "postgres", "mssql"
	EncryptedDSN string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Supported data-source drivers.
const (
	DriverPostgres = "postgres"
	DriverMSSQL    = "mssql"
)

// IsValidDriver checks if the given driver has a registered adapter.
func IsValidDriver(driver string) bool {
	return driver == DriverPostgres || driver == DriverMSSQL
}
