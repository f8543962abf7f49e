// Package postgres implements the datasource adapter for tenant POS
// databases running on PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/config"
)

// Connect dials a tenant PostgreSQL database and returns a managed pool.
// Every session carries default_transaction_read_only, so tenant data can
// never be written through this pool.
func Connect(ctx context.Context, dsn string, cfg datasource.PoolConfig) (datasource.TenantPool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	poolConfig.ConnConfig.Host = config.ResolveHostForDocker(poolConfig.ConnConfig.Host)

	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "mesa-engine"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return datasource.NewPostgresPool(pool), nil
}
