package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState tracks where a (user, conversation) pair is in the
// Unauthenticated -> Authenticated -> TenantSelected state machine.
type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
	SessionTenantSelected  SessionState = "tenant_selected"
)

// TenantSession is the mutable control-plane state for one (user,
// conversation) pair. The session store is its single writer; every other
// component receives a read-only SessionSnapshot.
type TenantSession struct {
	UserID            uuid.UUID   `json:"user_id"`
	ConversationID    string      `json:"conversation_id"`
	Identity          string      `json:"identity"` // authenticated email, empty until login
	Role              string      `json:"role"`
	SelectedTenantIDs []uuid.UUID `json:"selected_tenant_ids"`
	Language          string      `json:"language"`
	Debug             bool        `json:"debug"`
	LastActivity      time.Time   `json:"last_activity"`
}

// State derives the session's position in the state machine.
func (s *TenantSession) State() SessionState {
	if s == nil || s.Identity == "" {
		return SessionUnauthenticated
	}
	if len(s.SelectedTenantIDs) == 0 {
		return SessionAuthenticated
	}
	return SessionTenantSelected
}

// SessionSnapshot is the immutable view of a TenantSession taken at
// dispatch time. A concurrent selection change by the same user cannot
// alter the tenant target of an in-flight request holding a snapshot.
type SessionSnapshot struct {
	UserID         uuid.UUID
	ConversationID string
	Identity       string
	Role           string
	TenantIDs      []uuid.UUID
	Language       string
	Debug          bool
	State          SessionState
	TakenAt        time.Time
}

// PrimaryTenant returns the first selected tenant id, the one a single
// query executes against.
func (s SessionSnapshot) PrimaryTenant() (uuid.UUID, bool) {
	if len(s.TenantIDs) == 0 {
		return uuid.Nil, false
	}
	return s.TenantIDs[0], true
}

// HasTenant reports whether the tenant was selected when the snapshot was
// taken.
func (s SessionSnapshot) HasTenant(tenantID uuid.UUID) bool {
	for _, id := range s.TenantIDs {
		if id == tenantID {
			return true
		}
	}
	return false
}
