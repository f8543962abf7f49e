package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

// pgQueryCanceled is the SQLSTATE raised when statement_timeout fires.
const pgQueryCanceled = "57014"

const defaultStatementTimeout = 30 * time.Second

// Executor runs validated queries against a tenant PostgreSQL database.
type Executor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ datasource.Executor = (*Executor)(nil)

// NewExecutor binds an executor to a managed tenant pool.
func NewExecutor(pool datasource.TenantPool, logger *zap.Logger) (datasource.Executor, error) {
	pgxPool, err := datasource.AsPgxPool(pool)
	if err != nil {
		return nil, err
	}
	return &Executor{pool: pgxPool, logger: logger}, nil
}

// Query runs sqlQuery inside a read-only transaction with a server-side
// statement timeout, returning rows in result order capped at maxRows.
func (e *Executor) Query(ctx context.Context, sqlQuery string, timeout time.Duration, maxRows int) (*models.ExecutionResult, error) {
	if maxRows <= 0 {
		maxRows = datasource.DefaultRowLimit
	}
	if timeout <= 0 {
		timeout = defaultStatementTimeout
	}

	start := time.Now()

	// The context deadline backstops statement_timeout. It sits slightly
	// above so the server-side timeout fires first and the pooled
	// connection survives the cancellation.
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return nil, fmt.Errorf("failed to set statement timeout: %w", err)
	}

	limited := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, maxRows)

	rows, err := tx.Query(ctx, limited)
	if err != nil {
		return nil, classifyQueryError(err, timeout)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]models.ColumnInfo, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = models.ColumnInfo{
			Name: string(fd.Name),
			Type: pgTypeNameFromOID(fd.DataTypeOID),
		}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}

		row := make([]any, len(values))
		for i, v := range values {
			row[i] = normalizeValue(v)
		}
		resultRows = append(resultRows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(err, timeout)
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit read-only transaction: %w", err)
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
	return e.pool.Ping(ctx)
}

func classifyQueryError(err error, timeout time.Duration) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled {
		return fmt.Errorf("%w after %s", apperrors.ErrExecutionTimeout, timeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", apperrors.ErrExecutionTimeout, timeout)
	}
	return fmt.Errorf("query failed: %w", err)
}

// normalizeValue converts pgx scan types into plain Go values so results
// look the same regardless of which driver produced them.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return v
		}
		return f.Float64
	case []byte:
		return string(val)
	default:
		return v
	}
}

// pgTypeNameFromOID maps common PostgreSQL type OIDs to readable names.
func pgTypeNameFromOID(oid uint32) string {
	switch oid {
	case 16:
		return "BOOL"
	case 17:
		return "BYTEA"
	case 18:
		return "CHAR"
	case 20:
		return "INT8"
	case 21:
		return "INT2"
	case 23:
		return "INT4"
	case 25:
		return "TEXT"
	case 114:
		return "JSON"
	case 700:
		return "FLOAT4"
	case 701:
		return "FLOAT8"
	case 790:
		return "MONEY"
	case 1042:
		return "BPCHAR"
	case 1043:
		return "VARCHAR"
	case 1082:
		return "DATE"
	case 1083:
		return "TIME"
	case 1114:
		return "TIMESTAMP"
	case 1184:
		return "TIMESTAMPTZ"
	case 1186:
		return "INTERVAL"
	case 1700:
		return "NUMERIC"
	case 2950:
		return "UUID"
	case 3802:
		return "JSONB"
	case 1000:
		return "BOOL[]"
	case 1007:
		return "INT4[]"
	case 1016:
		return "INT8[]"
	case 1009:
		return "TEXT[]"
	case 1015:
		return "VARCHAR[]"
	case 1021:
		return "FLOAT4[]"
	case 1022:
		return "FLOAT8[]"
	case 2951:
		return "UUID[]"
	default:
		return "UNKNOWN"
	}
}
