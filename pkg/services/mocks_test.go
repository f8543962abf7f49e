package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesa-hq/mesa-engine/pkg/adapters/datasource"
	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
	"github.com/mesa-hq/mesa-engine/pkg/semantics"
)

// Hand-written mocks shared by the service tests in this package.

// catalogSchemaContext builds a schema context exposing every table and
// column of the built-in catalog, as a tenant with a complete database
// would get.
func catalogSchemaContext(tenantID uuid.UUID) *models.SchemaContext {
	cat := semantics.Default()
	schemaCtx := &models.SchemaContext{
		TenantID: tenantID,
		Rules:    append([]string(nil), cat.Rules...),
	}
	for _, table := range cat.Tables {
		for _, col := range table.Columns {
			schemaCtx.Columns = append(schemaCtx.Columns, models.ColumnContext{
				Table:       table.Name,
				Name:        col.Name,
				Type:        col.Type,
				Role:        col.Role,
				Description: col.Description,
			})
		}
	}
	return schemaCtx
}

type mockSessionRepo struct {
	mu        sync.Mutex
	sessions  map[string]models.TenantSession
	upserts   int
	upsertErr error
	getErr    error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]models.TenantSession)}
}

func sessionMapKey(userID uuid.UUID, conversationID string) string {
	return userID.String() + "/" + conversationID
}

func (m *mockSessionRepo) Upsert(_ context.Context, session *models.TenantSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	stored := *session
	stored.SelectedTenantIDs = append([]uuid.UUID(nil), session.SelectedTenantIDs...)
	m.sessions[sessionMapKey(session.UserID, session.ConversationID)] = stored
	m.upserts++
	return nil
}

func (m *mockSessionRepo) Get(_ context.Context, userID uuid.UUID, conversationID string) (*models.TenantSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	stored, ok := m.sessions[sessionMapKey(userID, conversationID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := stored
	out.SelectedTenantIDs = append([]uuid.UUID(nil), stored.SelectedTenantIDs...)
	return &out, nil
}

func (m *mockSessionRepo) Delete(_ context.Context, userID uuid.UUID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionMapKey(userID, conversationID))
	return nil
}

func (m *mockSessionRepo) DeleteIdleSince(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for key, sess := range m.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(m.sessions, key)
			removed++
		}
	}
	return removed, nil
}

func (m *mockSessionRepo) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

func (m *mockSessionRepo) stored(userID uuid.UUID, conversationID string) (models.TenantSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionMapKey(userID, conversationID)]
	return sess, ok
}

var _ repositories.SessionRepository = (*mockSessionRepo)(nil)

type mockTenantRepo struct {
	mu             sync.Mutex
	tenants        map[uuid.UUID]*models.Tenant
	dsns           map[uuid.UUID]*models.DSN
	grants         map[uuid.UUID]map[uuid.UUID]bool
	hasAccessErr   error
	tenantDSNErr   error
	hasAccessCalls int
}

func newMockTenantRepo() *mockTenantRepo {
	return &mockTenantRepo{
		tenants: make(map[uuid.UUID]*models.Tenant),
		dsns:    make(map[uuid.UUID]*models.DSN),
		grants:  make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// addTenant registers a tenant bound to a fresh DSN and returns it.
func (m *mockTenantRepo) addTenant(name, driver, encryptedDSN string) *models.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	dsn := &models.DSN{ID: uuid.New(), Name: name + "-dsn", Driver: driver, EncryptedDSN: encryptedDSN}
	tenant := &models.Tenant{ID: uuid.New(), Name: name, DSNID: dsn.ID}
	m.dsns[dsn.ID] = dsn
	m.tenants[tenant.ID] = tenant
	return tenant
}

func (m *mockTenantRepo) CreateDSN(_ context.Context, dsn *models.DSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dsn.ID == uuid.Nil {
		dsn.ID = uuid.New()
	}
	m.dsns[dsn.ID] = dsn
	return nil
}

func (m *mockTenantRepo) GetDSN(_ context.Context, id uuid.UUID) (*models.DSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dsn, ok := m.dsns[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return dsn, nil
}

func (m *mockTenantRepo) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	m.tenants[tenant.ID] = tenant
	return nil
}

func (m *mockTenantRepo) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant, ok := m.tenants[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return tenant, nil
}

func (m *mockTenantRepo) GetTenantByName(_ context.Context, name string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tenant := range m.tenants {
		if tenant.Name == name {
			return tenant, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockTenantRepo) GetTenantDSN(_ context.Context, tenantID uuid.UUID) (*models.DSN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tenantDSNErr != nil {
		return nil, m.tenantDSNErr
	}
	tenant, ok := m.tenants[tenantID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	dsn, ok := m.dsns[tenant.DSNID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return dsn, nil
}

func (m *mockTenantRepo) Grant(_ context.Context, userID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grants[userID] == nil {
		m.grants[userID] = make(map[uuid.UUID]bool)
	}
	m.grants[userID][tenantID] = true
	return nil
}

func (m *mockTenantRepo) Revoke(_ context.Context, userID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants[userID], tenantID)
	return nil
}

func (m *mockTenantRepo) HasAccess(_ context.Context, userID, tenantID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasAccessCalls++
	if m.hasAccessErr != nil {
		return false, m.hasAccessErr
	}
	return m.grants[userID][tenantID], nil
}

func (m *mockTenantRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Tenant
	for tenantID := range m.grants[userID] {
		if tenant, ok := m.tenants[tenantID]; ok {
			out = append(out, tenant)
		}
	}
	return out, nil
}

var _ repositories.TenantRepository = (*mockTenantRepo)(nil)

type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*models.QueryAudit
	insertErr error
}

func (m *mockAuditRepo) Insert(_ context.Context, entry *models.QueryAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	stored := *entry
	m.entries = append(m.entries, &stored)
	return nil
}

func (m *mockAuditRepo) ListRecent(_ context.Context, tenantID uuid.UUID, limit int) ([]*models.QueryAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.QueryAudit
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].TenantID == tenantID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *mockAuditRepo) ListRejections(_ context.Context, limit int) ([]*models.QueryAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.QueryAudit
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].Outcome == models.AuditOutcomeRejected {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *mockAuditRepo) all() []*models.QueryAudit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.QueryAudit, len(m.entries))
	copy(out, m.entries)
	return out
}

var _ repositories.AuditRepository = (*mockAuditRepo)(nil)

type mockExecutor struct {
	mu       sync.Mutex
	result   *models.ExecutionResult
	results  []*models.ExecutionResult
	err      error
	errs     []error
	pingErr  error
	queries  []string
	timeouts []time.Duration
	maxRows  []int
	calls    int
}

func (m *mockExecutor) Query(_ context.Context, sqlQuery string, timeout time.Duration, maxRows int) (*models.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, sqlQuery)
	m.timeouts = append(m.timeouts, timeout)
	m.maxRows = append(m.maxRows, maxRows)
	idx := m.calls
	m.calls++
	if idx < len(m.errs) {
		if err := m.errs[idx]; err != nil {
			return nil, err
		}
	} else if m.err != nil {
		return nil, m.err
	}
	if idx < len(m.results) {
		return m.results[idx], nil
	}
	if m.result != nil {
		return m.result, nil
	}
	return &models.ExecutionResult{}, nil
}

func (m *mockExecutor) Ping(_ context.Context) error {
	return m.pingErr
}

func (m *mockExecutor) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ datasource.Executor = (*mockExecutor)(nil)

type mockIntrospector struct {
	mu          sync.Mutex
	tables      []datasource.Table
	columns     map[string][]datasource.Column // keyed "schema.table"
	tablesErr   error
	columnsErr  error
	tablesCalls int
}

func (m *mockIntrospector) Tables(_ context.Context, _ []string) ([]datasource.Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tablesCalls++
	if m.tablesErr != nil {
		return nil, m.tablesErr
	}
	return m.tables, nil
}

func (m *mockIntrospector) Columns(_ context.Context, schemaName, tableName string) ([]datasource.Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.columnsErr != nil {
		return nil, m.columnsErr
	}
	return m.columns[schemaName+"."+tableName], nil
}

var _ datasource.Introspector = (*mockIntrospector)(nil)

type mockFactory struct {
	mu            sync.Mutex
	executor      datasource.Executor
	executors     map[uuid.UUID]datasource.Executor
	introspector  datasource.Introspector
	introspectors map[uuid.UUID]datasource.Introspector
	executorErr   error
	introErr      error
	testErr       error
	tenantsSeen   []uuid.UUID
	driversSeen   []string
	dsnsSeen      []string
}

func (m *mockFactory) Executor(_ context.Context, tenantID uuid.UUID, driver, dsn string) (datasource.Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantsSeen = append(m.tenantsSeen, tenantID)
	m.driversSeen = append(m.driversSeen, driver)
	m.dsnsSeen = append(m.dsnsSeen, dsn)
	if m.executorErr != nil {
		return nil, m.executorErr
	}
	if ex, ok := m.executors[tenantID]; ok {
		return ex, nil
	}
	return m.executor, nil
}

func (m *mockFactory) Introspector(_ context.Context, tenantID uuid.UUID, driver, dsn string) (datasource.Introspector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantsSeen = append(m.tenantsSeen, tenantID)
	m.driversSeen = append(m.driversSeen, driver)
	m.dsnsSeen = append(m.dsnsSeen, dsn)
	if m.introErr != nil {
		return nil, m.introErr
	}
	if in, ok := m.introspectors[tenantID]; ok {
		return in, nil
	}
	return m.introspector, nil
}

func (m *mockFactory) TestConnection(_ context.Context, _, _ string) error {
	return m.testErr
}

func (m *mockFactory) Drivers() []datasource.AdapterInfo {
	return nil
}

var _ datasource.Factory = (*mockFactory)(nil)
