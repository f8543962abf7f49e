package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/services"
)

var (
	_ services.AskService           = (*mockAskService)(nil)
	_ services.SessionStore         = (*mockSessionStore)(nil)
	_ repositories.TenantRepository = (*mockTenantRepository)(nil)
)

// mockAskService records the question it is asked and returns a canned
// answer or error.
type mockAskService struct {
	answer *models.Answer
	err    error

	gotUserID   uuid.UUID
	gotQuestion models.Question
}

func (m *mockAskService) Ask(_ context.Context, userID uuid.UUID, question models.Question) (*models.Answer, error) {
	m.gotUserID = userID
	m.gotQuestion = question
	if m.err != nil {
		return nil, m.err
	}
	return m.answer, nil
}

// mockSessionStore is an in-memory session store keyed on (user,
// conversation). Mutations other than Authenticate require an existing
// session, like the real store.
type mockSessionStore struct {
	sessions map[string]*models.TenantSession

	selectErr error
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[string]*models.TenantSession)}
}

func sessionMapKey(userID uuid.UUID, conversationID string) string {
	return userID.String() + "|" + conversationID
}

func (m *mockSessionStore) snapshotOf(sess *models.TenantSession) models.SessionSnapshot {
	ids := make([]uuid.UUID, len(sess.SelectedTenantIDs))
	copy(ids, sess.SelectedTenantIDs)
	return models.SessionSnapshot{
		UserID:         sess.UserID,
		ConversationID: sess.ConversationID,
		Identity:       sess.Identity,
		Role:           sess.Role,
		TenantIDs:      ids,
		Language:       sess.Language,
		Debug:          sess.Debug,
		State:          sess.State(),
		TakenAt:        time.Now(),
	}
}

func (m *mockSessionStore) Authenticate(_ context.Context, userID uuid.UUID, conversationID, identity, role string) (models.SessionSnapshot, error) {
	key := sessionMapKey(userID, conversationID)
	sess, ok := m.sessions[key]
	if !ok {
		sess = &models.TenantSession{
			UserID:         userID,
			ConversationID: conversationID,
			Language:       models.LanguageEnglish,
		}
		m.sessions[key] = sess
	}
	sess.Identity = identity
	sess.Role = role
	return m.snapshotOf(sess), nil
}

func (m *mockSessionStore) SelectTenants(_ context.Context, userID uuid.UUID, conversationID string, tenantIDs []uuid.UUID) (models.SessionSnapshot, error) {
	if m.selectErr != nil {
		return models.SessionSnapshot{}, m.selectErr
	}
	sess, ok := m.sessions[sessionMapKey(userID, conversationID)]
	if !ok {
		return models.SessionSnapshot{}, apperrors.ErrAuth
	}
	sess.SelectedTenantIDs = tenantIDs
	return m.snapshotOf(sess), nil
}

func (m *mockSessionStore) SetLanguage(_ context.Context, userID uuid.UUID, conversationID, language string) (models.SessionSnapshot, error) {
	sess, ok := m.sessions[sessionMapKey(userID, conversationID)]
	if !ok {
		return models.SessionSnapshot{}, apperrors.ErrAuth
	}
	sess.Language = language
	return m.snapshotOf(sess), nil
}

func (m *mockSessionStore) SetDebug(_ context.Context, userID uuid.UUID, conversationID string, debug bool) (models.SessionSnapshot, error) {
	sess, ok := m.sessions[sessionMapKey(userID, conversationID)]
	if !ok {
		return models.SessionSnapshot{}, apperrors.ErrAuth
	}
	sess.Debug = debug
	return m.snapshotOf(sess), nil
}

func (m *mockSessionStore) Snapshot(_ context.Context, userID uuid.UUID, conversationID string) (models.SessionSnapshot, error) {
	sess, ok := m.sessions[sessionMapKey(userID, conversationID)]
	if !ok {
		return models.SessionSnapshot{}, apperrors.ErrNotFound
	}
	return m.snapshotOf(sess), nil
}

func (m *mockSessionStore) Logout(_ context.Context, userID uuid.UUID, conversationID string) error {
	delete(m.sessions, sessionMapKey(userID, conversationID))
	return nil
}

func (m *mockSessionStore) Close() {}

// seedSession installs an authenticated session with selected tenants.
func seedSession(m *mockSessionStore, user *models.User, conversationID string, tenantIDs ...uuid.UUID) {
	m.sessions[sessionMapKey(user.ID, conversationID)] = &models.TenantSession{
		UserID:            user.ID,
		ConversationID:    conversationID,
		Identity:          user.Email,
		Role:              user.Role,
		SelectedTenantIDs: tenantIDs,
		Language:          models.LanguageEnglish,
	}
}

// mockTenantRepository is an in-memory tenant repository serving the
// lookup and listing paths the tools touch.
type mockTenantRepository struct {
	tenants map[uuid.UUID]*models.Tenant
	byUser  map[uuid.UUID][]*models.Tenant

	listErr error
}

func newMockTenantRepository() *mockTenantRepository {
	return &mockTenantRepository{
		tenants: make(map[uuid.UUID]*models.Tenant),
		byUser:  make(map[uuid.UUID][]*models.Tenant),
	}
}

func (m *mockTenantRepository) CreateDSN(_ context.Context, _ *models.DSN) error { return nil }

func (m *mockTenantRepository) GetDSN(_ context.Context, _ uuid.UUID) (*models.DSN, error) {
	return nil, apperrors.ErrNotFound
}

func (m *mockTenantRepository) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	m.tenants[tenant.ID] = tenant
	return nil
}

func (m *mockTenantRepository) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, ok := m.tenants[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return tenant, nil
}

func (m *mockTenantRepository) GetTenantByName(_ context.Context, name string) (*models.Tenant, error) {
	for _, tenant := range m.tenants {
		if tenant.Name == name {
			return tenant, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockTenantRepository) GetTenantDSN(_ context.Context, _ uuid.UUID) (*models.DSN, error) {
	return nil, apperrors.ErrNotFound
}

func (m *mockTenantRepository) Grant(_ context.Context, _, _ uuid.UUID) error { return nil }

func (m *mockTenantRepository) Revoke(_ context.Context, _, _ uuid.UUID) error { return nil }

func (m *mockTenantRepository) HasAccess(_ context.Context, userID, tenantID uuid.UUID) (bool, error) {
	for _, t := range m.byUser[userID] {
		if t.ID == tenantID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTenantRepository) ListForUser(_ context.Context, userID uuid.UUID) ([]*models.Tenant, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.byUser[userID], nil
}

// grant registers the tenant and lists it for the user.
func (m *mockTenantRepository) grant(userID uuid.UUID, tenant *models.Tenant) {
	m.tenants[tenant.ID] = tenant
	m.byUser[userID] = append(m.byUser[userID], tenant)
}
