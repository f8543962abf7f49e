package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

const defaultStatementTimeout = 30 * time.Second

// Executor runs validated queries against a tenant SQL Server database.
type Executor struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ datasource.Executor = (*Executor)(nil)

// NewExecutor binds an executor to a managed tenant pool.
func NewExecutor(pool datasource.TenantPool, logger *zap.Logger) (datasource.Executor, error) {
	db, err := datasource.AsSQLDB(pool)
	if err != nil {
		return nil, err
	}
	return &Executor{db: db, logger: logger}, nil
}

// Query executes sqlQuery under a context deadline and returns rows in
// result order. The row cap is enforced while scanning: wrapping arbitrary
// SELECTs in TOP would reject inner ORDER BY clauses.
func (e *Executor) Query(ctx context.Context, sqlQuery string, timeout time.Duration, maxRows int) (*models.ExecutionResult, error) {
	if maxRows <= 0 {
		maxRows = datasource.DefaultRowLimit
	}
	if timeout <= 0 {
		timeout = defaultStatementTimeout
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, classifyQueryError(ctx, err, timeout)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]models.ColumnInfo, len(columnNames))
	for i, name := range columnNames {
		columns[i] = models.ColumnInfo{
			Name: name,
			Type: mapSQLServerType(columnTypes[i].DatabaseTypeName()),
		}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		if len(resultRows) >= maxRows {
			break
		}

		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, val := range values {
			values[i] = normalizeSQLServerValue(val, columnTypes[i].DatabaseTypeName())
		}
		resultRows = append(resultRows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(ctx, err, timeout)
	}

	return &models.ExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
		Elapsed:  time.Since(start),
	}, nil
}

// Ping verifies the tenant database is reachable.
func (e *Executor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func classifyQueryError(ctx context.Context, err error, timeout time.Duration) error {
	// The driver reports a deadline-triggered cancellation as its own
	// "canceling query due to user request" error, which does not wrap
	// context.DeadlineExceeded, so the context has to be consulted too.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", apperrors.ErrExecutionTimeout, timeout)
	}
	return fmt.Errorf("query failed: %w", err)
}

// normalizeSQLServerValue converts driver scan results into the plain Go
// values the postgres adapter produces, so downstream code never branches
// on the driver.
func normalizeSQLServerValue(val any, dbType string) any {
	if val == nil {
		return nil
	}

	b, ok := val.([]byte)
	if !ok {
		return val
	}

	switch {
	case isStringType(dbType):
		return string(b)
	case isDecimalType(dbType):
		// The driver hands DECIMAL/NUMERIC/MONEY back in textual form.
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
		return string(b)
	case strings.EqualFold(dbType, "UNIQUEIDENTIFIER"):
		var u mssqldb.UniqueIdentifier
		if err := u.Scan(b); err == nil {
			return strings.ToLower(u.String())
		}
		return val
	default:
		return val
	}
}
