package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig carries the sizing knobs the connection manager applies when a
// driver dials a tenant database.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// TenantPool abstracts a driver-specific connection pool so the connection
// manager can health-check and expire pools without knowing the driver.
type TenantPool interface {
	// Ping verifies the pool can reach the database.
	Ping(ctx context.Context) error

	// Close releases all connections in the pool.
	Close() error

	// Driver returns the driver name for logging and stats.
	Driver() string
}

// PostgresPool wraps *pgxpool.Pool as a TenantPool.
type PostgresPool struct {
	pool *pgxpool.Pool
}

// NewPostgresPool wraps an already-connected pgx pool.
func NewPostgresPool(pool *pgxpool.Pool) *PostgresPool {
	return &PostgresPool{pool: pool}
}

func (p *PostgresPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresPool) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresPool) Driver() string {
	return "postgres"
}

// Pool returns the underlying *pgxpool.Pool.
func (p *PostgresPool) Pool() *pgxpool.Pool {
	return p.pool
}

// MSSQLPool wraps *sql.DB as a TenantPool. database/sql does its own
// pooling, so this is a thin shim for lifecycle management.
type MSSQLPool struct {
	db *sql.DB
}

// NewMSSQLPool wraps an already-opened SQL Server handle.
func NewMSSQLPool(db *sql.DB) *MSSQLPool {
	return &MSSQLPool{db: db}
}

func (p *MSSQLPool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *MSSQLPool) Close() error {
	return p.db.Close()
}

func (p *MSSQLPool) Driver() string {
	return "mssql"
}

// DB returns the underlying *sql.DB.
func (p *MSSQLPool) DB() *sql.DB {
	return p.db
}

// AsPgxPool extracts the pgx pool from a TenantPool, failing if the pool
// belongs to a different driver.
func AsPgxPool(pool TenantPool) (*pgxpool.Pool, error) {
	wrapper, ok := pool.(*PostgresPool)
	if !ok {
		return nil, fmt.Errorf("pool is %s, not postgres", pool.Driver())
	}
	return wrapper.Pool(), nil
}

// AsSQLDB extracts the database/sql handle from a TenantPool, failing if the
// pool belongs to a different driver.
func AsSQLDB(pool TenantPool) (*sql.DB, error) {
	wrapper, ok := pool.(*MSSQLPool)
	if !ok {
		return nil, fmt.Errorf("pool is %s, not mssql", pool.Driver())
	}
	return wrapper.DB(), nil
}
