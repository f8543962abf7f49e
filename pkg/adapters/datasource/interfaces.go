// Package datasource provides per-tenant access to restaurant POS databases.
//
// Each tenant record in the control store points at a DSN (an encrypted
// connection string plus a driver name). Adapters for each driver register
// themselves at init time; the connection manager keeps one long-lived,
// read-only pool per tenant and hands out executors and introspectors bound
// to that pool.
package datasource

import (
	"context"
	"time"

	"github.com/mesa-hq/mesa-engine/pkg/models"
)

// DefaultRowLimit bounds result sets when the caller does not supply a cap.
const DefaultRowLimit = 1000

// Executor runs validated SELECT statements against one tenant's database.
// Implementations never write: postgres executors run inside read-only
// transactions on read-only connections, and the validator upstream rejects
// anything that is not a single SELECT.
type Executor interface {
	// Query executes sqlQuery under the given statement timeout and returns
	// at most maxRows rows in result order. A maxRows <= 0 falls back to
	// DefaultRowLimit. Timeouts surface as apperrors.ErrExecutionTimeout.
	Query(ctx context.Context, sqlQuery string, timeout time.Duration, maxRows int) (*models.ExecutionResult, error)

	// Ping verifies the underlying connection is alive.
	Ping(ctx context.Context) error
}

// Introspector discovers the physical schema of a tenant database. The
// schema context service filters and annotates what it returns; adapters
// only report what exists.
type Introspector interface {
	// Tables lists base tables in the given schemas. An empty schemas slice
	// means all non-system schemas.
	Tables(ctx context.Context, schemas []string) ([]Table, error)

	// Columns lists the columns of one table in ordinal order.
	Columns(ctx context.Context, schemaName, tableName string) ([]Column, error)
}
