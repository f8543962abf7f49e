package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
)

// Introspector discovers tables and columns in a tenant SQL Server database.
type Introspector struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ datasource.Introspector = (*Introspector)(nil)

// NewIntrospector binds an introspector to a managed tenant pool.
func NewIntrospector(pool datasource.TenantPool, logger *zap.Logger) (datasource.Introspector, error) {
	db, err := datasource.AsSQLDB(pool)
	if err != nil {
		return nil, err
	}
	return &Introspector{db: db, logger: logger}, nil
}

// Tables lists base tables, optionally restricted to the given schemas.
func (d *Introspector) Tables(ctx context.Context, schemas []string) ([]datasource.Table, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    SUM(p.rows) AS row_count
	FROM sys.tables t
	INNER JOIN sys.partitions p ON t.object_id = p.object_id
	WHERE p.index_id IN (0, 1)
	  AND t.is_ms_shipped = 0
	GROUP BY t.schema_id, t.name
	ORDER BY table_schema, table_name
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	wanted := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		wanted[s] = true
	}

	var tables []datasource.Table
	for rows.Next() {
		var t datasource.Table
		if err := rows.Scan(&t.Schema, &t.Name, &t.RowCount); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		if len(wanted) > 0 && !wanted[t.Schema] {
			continue
		}
		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tables: %w", err)
	}

	return tables, nil
}

// Columns lists the columns of one table in ordinal order.
func (d *Introspector) Columns(ctx context.Context, schemaName, tableName string) ([]datasource.Column, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    c.name AS column_name,
	    tp.name AS data_type,
	    CASE WHEN c.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    c.column_id AS ordinal_position
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY c.column_id
	`

	rows, err := d.db.QueryContext(ctx, query,
		sql.Named("schema", schemaName),
		sql.Named("table", tableName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.Column
	for rows.Next() {
		var c datasource.Column
		var isNullable, isPrimary int

		if err := rows.Scan(&c.Name, &c.DataType, &isNullable, &isPrimary, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		c.IsNullable = isNullable == 1
		c.IsPrimaryKey = isPrimary == 1
		c.DataType = mapSQLServerType(c.DataType)
		columns = append(columns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns: %w", err)
	}

	return columns, nil
}
