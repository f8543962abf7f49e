package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/auth"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/services"
)

var (
	_ services.SessionStore         = (*mockSessionStore)(nil)
	_ repositories.UserRepository   = (*mockUserRepository)(nil)
	_ repositories.TenantRepository = (*mockTenantRepository)(nil)
)

// mockSessionStore is a configurable in-memory session store for handler
// tests. Behavior mirrors the real store: sessions key on (user,
// conversation), mutations require an authenticated session.
type mockSessionStore struct {
	sessions map[string]*models.TenantSession

	authErr     error
	selectErr   error
	languageErr error
	debugErr    error
	snapshotErr error
	logoutErr   error

	loggedOut []string
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
	if m.authErr != nil {
		return models.SessionSnapshot{}, m.authErr
	}
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
	if m.languageErr != nil {
		return models.SessionSnapshot{}, m.languageErr
	}
	sess, ok := m.sessions[sessionMapKey(userID, conversationID)]
	if !ok {
		return models.SessionSnapshot{}, apperrors.ErrAuth
	}
	sess.Language = language
	return m.snapshotOf(sess), nil
}

func (m *mockSessionStore) SetDebug(_ context.Context, userID uuid.UUID, conversationID string, debug bool) (models.SessionSnapshot, error) {
	if m.debugErr != nil {
		return models.SessionSnapshot{}, m.debugErr
	}
	sess, ok := m.sessions[sessionMapKey(userID, conversationID)]
	if !ok {
		return models.SessionSnapshot{}, apperrors.ErrAuth
	}
	sess.Debug = debug
	return m.snapshotOf(sess), nil
}

func (m *mockSessionStore) Snapshot(_ context.Context, userID uuid.UUID, conversationID string) (models.SessionSnapshot, error) {
	if m.snapshotErr != nil {
		return models.SessionSnapshot{}, m.snapshotErr
	}
	sess, ok := m.sessions[sessionMapKey(userID, conversationID)]
	if !ok {
		return models.SessionSnapshot{}, apperrors.ErrNotFound
	}
	return m.snapshotOf(sess), nil
}

func (m *mockSessionStore) Logout(_ context.Context, userID uuid.UUID, conversationID string) error {
	if m.logoutErr != nil {
		return m.logoutErr
	}
	key := sessionMapKey(userID, conversationID)
	delete(m.sessions, key)
	m.loggedOut = append(m.loggedOut, key)
	return nil
}

func (m *mockSessionStore) Close() {}

// seed installs an authenticated session, optionally with selected tenants.
func (m *mockSessionStore) seed(user *models.User, conversationID string, tenantIDs ...uuid.UUID) {
	m.sessions[sessionMapKey(user.ID, conversationID)] = &models.TenantSession{
		UserID:            user.ID,
		ConversationID:    conversationID,
		Identity:          user.Email,
		Role:              user.Role,
		SelectedTenantIDs: tenantIDs,
		Language:          models.LanguageEnglish,
	}
}

// mockUserRepository is a configurable in-memory user repository.
type mockUserRepository struct {
	users []*models.User

	createErr  error
	getErr     error
	listErr    error
	setRoleErr error
}

func (m *mockUserRepository) Create(_ context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return apperrors.ErrConflict
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	m.users = append(m.users, user)
	return nil
}

func (m *mockUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockUserRepository) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockUserRepository) List(_ context.Context) ([]*models.User, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.users, nil
}

func (m *mockUserRepository) SetRole(_ context.Context, id uuid.UUID, newRole string) error {
	if m.setRoleErr != nil {
		return m.setRoleErr
	}
	for _, user := range m.users {
		if user.ID == id {
			user.Role = newRole
			return nil
		}
	}
	return apperrors.ErrNotFound
}

// mockTenantRepository is a configurable in-memory tenant repository.
type mockTenantRepository struct {
	dsns    map[uuid.UUID]*models.DSN
	tenants map[uuid.UUID]*models.Tenant
	grants  map[string]bool
	byUser  map[uuid.UUID][]*models.Tenant

	createDSNErr    error
	createTenantErr error
	grantErr        error
	revokeErr       error
	listErr         error
}

func newMockTenantRepository() *mockTenantRepository {
	return &mockTenantRepository{
		dsns:    make(map[uuid.UUID]*models.DSN),
		tenants: make(map[uuid.UUID]*models.Tenant),
		grants:  make(map[string]bool),
		byUser:  make(map[uuid.UUID][]*models.Tenant),
	}
}

func grantKey(userID, tenantID uuid.UUID) string {
	return userID.String() + "|" + tenantID.String()
}

func (m *mockTenantRepository) CreateDSN(_ context.Context, dsn *models.DSN) error {
	if m.createDSNErr != nil {
		return m.createDSNErr
	}
	for _, existing := range m.dsns {
		if existing.Name == dsn.Name {
			return apperrors.ErrConflict
		}
	}
	if dsn.ID == uuid.Nil {
		dsn.ID = uuid.New()
	}
	dsn.CreatedAt = time.Now()
	m.dsns[dsn.ID] = dsn
	return nil
}

func (m *mockTenantRepository) GetDSN(_ context.Context, id uuid.UUID) (*models.DSN, error) {
	dsn, ok := m.dsns[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return dsn, nil
}

func (m *mockTenantRepository) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	if m.createTenantErr != nil {
		return m.createTenantErr
	}
	for _, existing := range m.tenants {
		if existing.Name == tenant.Name {
			return apperrors.ErrConflict
		}
	}
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	tenant.CreatedAt = time.Now()
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

func (m *mockTenantRepository) GetTenantDSN(_ context.Context, tenantID uuid.UUID) (*models.DSN, error) {
	tenant, ok := m.tenants[tenantID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return m.GetDSN(context.Background(), tenant.DSNID)
}

func (m *mockTenantRepository) Grant(_ context.Context, userID, tenantID uuid.UUID) error {
	if m.grantErr != nil {
		return m.grantErr
	}
	if _, ok := m.tenants[tenantID]; !ok {
		return apperrors.ErrNotFound
	}
	m.grants[grantKey(userID, tenantID)] = true
	return nil
}

func (m *mockTenantRepository) Revoke(_ context.Context, userID, tenantID uuid.UUID) error {
	if m.revokeErr != nil {
		return m.revokeErr
	}
	key := grantKey(userID, tenantID)
	if !m.grants[key] {
		return apperrors.ErrNotFound
	}
	delete(m.grants, key)
	return nil
}

func (m *mockTenantRepository) HasAccess(_ context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return m.grants[grantKey(userID, tenantID)], nil
}

func (m *mockTenantRepository) ListForUser(_ context.Context, userID uuid.UUID) ([]*models.Tenant, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.byUser[userID], nil
}

// testUser returns a user with a fresh id.
func testUser(role string) *models.User {
	return &models.User{
		ID:    uuid.New(),
		Email: "ana@lacasa.mx",
		Role:  role,
	}
}

// jsonRequest builds a request carrying a JSON body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, path, nil)
	}
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	return httptest.NewRequest(method, path, bytes.NewReader(buf))
}

// withClaims attaches verified claims for the user to the request context,
// the way the auth middleware does after validating a token.
func withClaims(r *http.Request, user *models.User) *http.Request {
	claims := &auth.Claims{Email: user.Email, Role: user.Role}
	claims.Subject = user.ID.String()
	ctx := context.WithValue(r.Context(), auth.ClaimsKey, claims)
	ctx = context.WithValue(ctx, auth.TokenKey, "test-token")
	return r.WithContext(ctx)
}

// decodeErrorBody reads the {"error": ..., "message": ...} payload.
func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}
