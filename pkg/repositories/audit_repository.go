package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mesa-hq/mesa-engine/pkg/database"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

// AuditRepository records every question through the pipeline: what was
// asked, what SQL came out, the verdict, and execution stats. The trail is
// append-only.
type AuditRepository interface {
	// Insert appends one audit entry.
	Insert(ctx context.Context, entry *models.QueryAudit) error

	// ListRecent returns the newest entries for a tenant, newest first.
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.QueryAudit, error)

	// ListRejections returns the newest rejected entries across tenants,
	// newest first. Used by the security review surface.
	ListRejections(ctx context.Context, limit int) ([]*models.QueryAudit, error)
}

// auditRepository implements AuditRepository using PostgreSQL.
type auditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *database.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Insert(ctx context.Context, entry *models.QueryAudit) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO query_audit (
			id, user_id, tenant_id, conversation_id, question, sql, outcome, rule_id, row_count, elapsed_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.TenantID,
		entry.ConversationID,
		entry.Question,
		entry.SQL,
		entry.Outcome,
		entry.RuleID,
		entry.RowCount,
		entry.ElapsedMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

func (r *auditRepository) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.QueryAudit, error) {
	query := `
		SELECT id, user_id, tenant_id, conversation_id, question, sql, outcome, rule_id, row_count, elapsed_ms, created_at
		FROM query_audit
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

func (r *auditRepository) ListRejections(ctx context.Context, limit int) ([]*models.QueryAudit, error) {
	query := `
		SELECT id, user_id, tenant_id, conversation_id, question, sql, outcome, rule_id, row_count, elapsed_ms, created_at
		FROM query_audit
		WHERE outcome = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, models.AuditOutcomeRejected, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}
	defer rows.Close()

	return collectAuditEntries(rows)
}

func collectAuditEntries(rows pgx.Rows) ([]*models.QueryAudit, error) {
	var entries []*models.QueryAudit
	for rows.Next() {
		var entry models.QueryAudit
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.TenantID,
			&entry.ConversationID,
			&entry.Question,
			&entry.SQL,
			&entry.Outcome,
			&entry.RuleID,
			&entry.RowCount,
			&entry.ElapsedMS,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// Ensure auditRepository implements AuditRepository at compile time.
var _ AuditRepository = (*auditRepository)(nil)
