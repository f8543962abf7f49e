package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
)

// Introspector discovers tables and columns in a tenant PostgreSQL database.
type Introspector struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ datasource.Introspector = (*Introspector)(nil)

// NewIntrospector binds an introspector to a managed tenant pool.
func NewIntrospector(pool datasource.TenantPool, logger *zap.Logger) (datasource.Introspector, error) {
	pgxPool, err := datasource.AsPgxPool(pool)
	if err != nil {
		return nil, err
	}
	return &Introspector{pool: pgxPool, logger: logger}, nil
}

// Tables lists base tables, optionally restricted to the given schemas.
// Row counts come from planner statistics, so they are estimates.
func (d *Introspector) Tables(ctx context.Context, schemas []string) ([]datasource.Table, error) {
	const query = `
		SELECT
			t.table_schema,
			t.table_name,
			COALESCE(c.reltuples::bigint, 0) AS row_count
		FROM information_schema.tables t
		LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND ($1::text[] IS NULL OR t.table_schema = ANY($1))
		ORDER BY t.table_schema, t.table_name
	`

	var filter []string
	if len(schemas) > 0 {
		filter = schemas
	}

	rows, err := d.pool.Query(ctx, query, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.Table
	for rows.Next() {
		var t datasource.Table
		if err := rows.Scan(&t.Schema, &t.Name, &t.RowCount); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}

	return tables, nil
}

// Columns lists the columns of one table in ordinal order. Primary key
// detection goes through pg_index so keys created as unique indexes by ORMs
// are still recognized.
func (d *Introspector) Columns(ctx context.Context, schemaName, tableName string) ([]datasource.Column, error) {
	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			c.ordinal_position
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary
			  AND n.nspname = $1
			  AND t.relname = $2
		) pk ON c.column_name = pk.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := d.pool.Query(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.Column
	for rows.Next() {
		var c datasource.Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsNullable, &c.IsPrimaryKey, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		c.DataType = normalizePostgresType(c.DataType)
		columns = append(columns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns: %w", err)
	}

	return columns, nil
}

// normalizePostgresType maps information_schema type names to the neutral
// names shared with the mssql adapter.
func normalizePostgresType(dataType string) string {
	switch dataType {
	case "character varying":
		return "VARCHAR"
	case "character":
		return "CHAR"
	case "text":
		return "TEXT"
	case "smallint":
		return "SMALLINT"
	case "integer":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "numeric":
		return "NUMERIC"
	case "real":
		return "REAL"
	case "double precision":
		return "DOUBLE PRECISION"
	case "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "time without time zone", "time with time zone":
		return "TIME"
	case "timestamp without time zone":
		return "TIMESTAMP"
	case "timestamp with time zone":
		return "TIMESTAMPTZ"
	case "uuid":
		return "UUID"
	case "json":
		return "JSON"
	case "jsonb":
		return "JSONB"
	case "bytea":
		return "BYTEA"
	default:
		return strings.ToUpper(dataType)
	}
}
