package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/database"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

// SessionRepository persists tenant sessions so the session store survives
// restarts. The in-memory store is authoritative while the process runs;
// this table is its write-through copy.
type SessionRepository interface {
	// Upsert writes the current state of a session.
	Upsert(ctx context.Context, session *models.TenantSession) error

	// Get retrieves one session, or ErrNotFound.
	Get(ctx context.Context, userID uuid.UUID, conversationID string) (*models.TenantSession, error)

	// Delete removes one session.
	Delete(ctx context.Context, userID uuid.UUID, conversationID string) error

	// DeleteIdleSince removes sessions whose last activity is before the
	// cutoff and returns how many were removed.
	DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error)
}

// sessionRepository implements SessionRepository using PostgreSQL.
type sessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Upsert(ctx context.Context, session *models.TenantSession) error {
	tenantIDs := make([]string, len(session.SelectedTenantIDs))
	for i, id := range session.SelectedTenantIDs {
		tenantIDs[i] = id.String()
	}

	query := `
		INSERT INTO sessions (user_id, conversation_id, identity, role, selected_tenant_ids, language, debug, last_activity)
		VALUES ($1, $2, $3, $4, $5::uuid[], $6, $7, $8)
		ON CONFLICT (user_id, conversation_id) DO UPDATE
		SET identity = EXCLUDED.identity,
		    role = EXCLUDED.role,
		    selected_tenant_ids = EXCLUDED.selected_tenant_ids,
		    language = EXCLUDED.language,
		    debug = EXCLUDED.debug,
		    last_activity = EXCLUDED.last_activity`

	_, err := r.db.Exec(ctx, query,
		session.UserID,
		session.ConversationID,
		session.Identity,
		session.Role,
		tenantIDs,
		session.Language,
		session.Debug,
		session.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	return nil
}

func (r *sessionRepository) Get(ctx context.Context, userID uuid.UUID, conversationID string) (*models.TenantSession, error) {
	query := `
		SELECT user_id, conversation_id, identity, role, selected_tenant_ids::text[], language, debug, last_activity
		FROM sessions
		WHERE user_id = $1 AND conversation_id = $2`

	var (
		session   models.TenantSession
		tenantIDs []string
	)
	err := r.db.QueryRow(ctx, query, userID, conversationID).Scan(
		&session.UserID,
		&session.ConversationID,
		&session.Identity,
		&session.Role,
		&tenantIDs,
		&session.Language,
		&session.Debug,
		&session.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.SelectedTenantIDs = make([]uuid.UUID, 0, len(tenantIDs))
	for _, raw := range tenantIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored tenant id %q: %w", raw, err)
		}
		session.SelectedTenantIDs = append(session.SelectedTenantIDs, id)
	}

	return &session, nil
}

func (r *sessionRepository) Delete(ctx context.Context, userID uuid.UUID, conversationID string) error {
	query := `DELETE FROM sessions WHERE user_id = $1 AND conversation_id = $2`

	if _, err := r.db.Exec(ctx, query, userID, conversationID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (r *sessionRepository) DeleteIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE last_activity < $1`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle sessions: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Ensure sessionRepository implements SessionRepository at compile time.
var _ SessionRepository = (*sessionRepository)(nil)
