package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/models"
)

func newTestSessionStore(t *testing.T, repo *mockSessionRepo, tenants *mockTenantRepo) SessionStore {
	t.Helper()
	store := NewSessionStore(repo, tenants, SessionStoreConfig{}, zap.NewNop())
	t.Cleanup(store.Close)
	return store
}

func TestSessionStore_AuthenticateCreatesSession(t *testing.T) {
	repo := newMockSessionRepo()
	store := newTestSessionStore(t, repo, newMockTenantRepo())
	userID := uuid.New()

	snap, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	assert.Equal(t, userID, snap.UserID)
	assert.Equal(t, "conv-1", snap.ConversationID)
	assert.Equal(t, "ana@lacasa.mx", snap.Identity)
	assert.Equal(t, models.RoleUser, snap.Role)
	assert.Equal(t, models.SessionAuthenticated, snap.State)
	assert.Equal(t, models.LanguageEnglish, snap.Language)
	assert.Empty(t, snap.TenantIDs)
	assert.False(t, snap.TakenAt.IsZero())

	stored, ok := repo.stored(userID, "conv-1")
	require.True(t, ok, "session should write through to the control store")
	assert.Equal(t, "ana@lacasa.mx", stored.Identity)
}

func TestSessionStore_AuthenticateRequiresIdentity(t *testing.T) {
	store := newTestSessionStore(t, newMockSessionRepo(), newMockTenantRepo())

	_, err := store.Authenticate(context.Background(), uuid.New(), "conv-1", "", models.RoleUser)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuth)
}

func TestSessionStore_AuthenticateDefaultsRole(t *testing.T) {
	store := newTestSessionStore(t, newMockSessionRepo(), newMockTenantRepo())

	snap, err := store.Authenticate(context.Background(), uuid.New(), "conv-1", "ana@lacasa.mx", "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, snap.Role)
}

func TestSessionStore_DefaultLanguageFromConfig(t *testing.T) {
	store := NewSessionStore(newMockSessionRepo(), newMockTenantRepo(), SessionStoreConfig{
		DefaultLanguage: models.LanguageSpanish,
	}, zap.NewNop())
	defer store.Close()

	snap, err := store.Authenticate(context.Background(), uuid.New(), "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, models.LanguageSpanish, snap.Language)
}

func TestSessionStore_SelectTenants(t *testing.T) {
	repo := newMockSessionRepo()
	tenants := newMockTenantRepo()
	store := newTestSessionStore(t, repo, tenants)

	userID := uuid.New()
	first := tenants.addTenant("casa-centro", models.DriverPostgres, "enc-1")
	second := tenants.addTenant("casa-norte", models.DriverPostgres, "enc-2")
	require.NoError(t, tenants.Grant(context.Background(), userID, first.ID))
	require.NoError(t, tenants.Grant(context.Background(), userID, second.ID))

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	snap, err := store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{first.ID, second.ID})
	require.NoError(t, err)

	assert.Equal(t, models.SessionTenantSelected, snap.State)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, snap.TenantIDs)

	primary, ok := snap.PrimaryTenant()
	require.True(t, ok)
	assert.Equal(t, first.ID, primary)

	stored, ok := repo.stored(userID, "conv-1")
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, stored.SelectedTenantIDs)
}

func TestSessionStore_SelectTenantsDedupes(t *testing.T) {
	tenants := newMockTenantRepo()
	store := newTestSessionStore(t, newMockSessionRepo(), tenants)

	userID := uuid.New()
	tenant := tenants.addTenant("casa-centro", models.DriverPostgres, "enc-1")
	other := tenants.addTenant("casa-norte", models.DriverPostgres, "enc-2")
	require.NoError(t, tenants.Grant(context.Background(), userID, tenant.ID))
	require.NoError(t, tenants.Grant(context.Background(), userID, other.ID))

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	snap, err := store.SelectTenants(context.Background(), userID, "conv-1",
		[]uuid.UUID{tenant.ID, tenant.ID, other.ID, uuid.Nil})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tenant.ID, other.ID}, snap.TenantIDs)
}

func TestSessionStore_SelectTenantsDeniedWithoutGrant(t *testing.T) {
	tenants := newMockTenantRepo()
	store := newTestSessionStore(t, newMockSessionRepo(), tenants)

	userID := uuid.New()
	granted := tenants.addTenant("casa-centro", models.DriverPostgres, "enc-1")
	forbidden := tenants.addTenant("casa-ajena", models.DriverPostgres, "enc-2")
	require.NoError(t, tenants.Grant(context.Background(), userID, granted.ID))

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)
	_, err = store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{granted.ID})
	require.NoError(t, err)

	_, err = store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{granted.ID, forbidden.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	// A denied selection must not disturb the existing binding.
	snap, err := store.Snapshot(context.Background(), userID, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{granted.ID}, snap.TenantIDs)
}

func TestSessionStore_SelectTenantsRequiresAuthentication(t *testing.T) {
	tenants := newMockTenantRepo()
	store := newTestSessionStore(t, newMockSessionRepo(), tenants)

	tenant := tenants.addTenant("casa-centro", models.DriverPostgres, "enc-1")
	userID := uuid.New()
	require.NoError(t, tenants.Grant(context.Background(), userID, tenant.ID))

	_, err := store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{tenant.ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAuth)
}

func TestSessionStore_SelectTenantsRejectsEmpty(t *testing.T) {
	store := newTestSessionStore(t, newMockSessionRepo(), newMockTenantRepo())
	userID := uuid.New()

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	_, err = store.SelectTenants(context.Background(), userID, "conv-1", nil)
	assert.Error(t, err)

	_, err = store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{uuid.Nil})
	assert.Error(t, err)
}

func TestSessionStore_SetLanguage(t *testing.T) {
	store := newTestSessionStore(t, newMockSessionRepo(), newMockTenantRepo())
	userID := uuid.New()

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	snap, err := store.SetLanguage(context.Background(), userID, "conv-1", models.LanguageSpanish)
	require.NoError(t, err)
	assert.Equal(t, models.LanguageSpanish, snap.Language)

	_, err = store.SetLanguage(context.Background(), userID, "conv-1", "fr")
	assert.Error(t, err)

	_, err = store.SetLanguage(context.Background(), uuid.New(), "conv-1", models.LanguageEnglish)
	assert.ErrorIs(t, err, apperrors.ErrAuth)
}

func TestSessionStore_SetDebug(t *testing.T) {
	store := newTestSessionStore(t, newMockSessionRepo(), newMockTenantRepo())
	userID := uuid.New()

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	snap, err := store.SetDebug(context.Background(), userID, "conv-1", true)
	require.NoError(t, err)
	assert.True(t, snap.Debug)

	snap, err = store.SetDebug(context.Background(), userID, "conv-1", false)
	require.NoError(t, err)
	assert.False(t, snap.Debug)

	_, err = store.SetDebug(context.Background(), uuid.New(), "conv-1", true)
	assert.ErrorIs(t, err, apperrors.ErrAuth)
}

func TestSessionStore_SnapshotUnknownSession(t *testing.T) {
	store := newTestSessionStore(t, newMockSessionRepo(), newMockTenantRepo())

	_, err := store.Snapshot(context.Background(), uuid.New(), "conv-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSessionStore_SnapshotIsolatedFromLaterMutations(t *testing.T) {
	tenants := newMockTenantRepo()
	store := newTestSessionStore(t, newMockSessionRepo(), tenants)

	userID := uuid.New()
	first := tenants.addTenant("casa-centro", models.DriverPostgres, "enc-1")
	second := tenants.addTenant("casa-norte", models.DriverPostgres, "enc-2")
	require.NoError(t, tenants.Grant(context.Background(), userID, first.ID))
	require.NoError(t, tenants.Grant(context.Background(), userID, second.ID))

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	snap, err := store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{first.ID})
	require.NoError(t, err)

	_, err = store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{second.ID})
	require.NoError(t, err)

	// The earlier snapshot keeps the binding it was taken with.
	assert.Equal(t, []uuid.UUID{first.ID}, snap.TenantIDs)
}

func TestSessionStore_HydratesFromRepository(t *testing.T) {
	repo := newMockSessionRepo()
	userID := uuid.New()
	tenantID := uuid.New()
	require.NoError(t, repo.Upsert(context.Background(), &models.TenantSession{
		UserID:            userID,
		ConversationID:    "conv-1",
		Identity:          "ana@lacasa.mx",
		Role:              models.RoleUser,
		SelectedTenantIDs: []uuid.UUID{tenantID},
		Language:          models.LanguageSpanish,
		LastActivity:      time.Now().UTC(),
	}))

	// A fresh store simulates a process restart.
	store := newTestSessionStore(t, repo, newMockTenantRepo())

	snap, err := store.Snapshot(context.Background(), userID, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "ana@lacasa.mx", snap.Identity)
	assert.Equal(t, []uuid.UUID{tenantID}, snap.TenantIDs)
	assert.Equal(t, models.LanguageSpanish, snap.Language)
	assert.Equal(t, models.SessionTenantSelected, snap.State)
}

func TestSessionStore_Logout(t *testing.T) {
	repo := newMockSessionRepo()
	store := newTestSessionStore(t, repo, newMockTenantRepo())
	userID := uuid.New()

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	require.NoError(t, store.Logout(context.Background(), userID, "conv-1"))

	_, err = store.Snapshot(context.Background(), userID, "conv-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, ok := repo.stored(userID, "conv-1")
	assert.False(t, ok, "logout should remove the persisted session")

	// Logging out an unknown session is a no-op.
	assert.NoError(t, store.Logout(context.Background(), uuid.New(), "conv-9"))
}

func TestSessionStore_WriteThroughFailureDoesNotFailCall(t *testing.T) {
	repo := newMockSessionRepo()
	repo.upsertErr = assert.AnError
	store := newTestSessionStore(t, repo, newMockTenantRepo())
	userID := uuid.New()

	snap, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAuthenticated, snap.State)

	// In-memory state still serves reads.
	snap, err = store.Snapshot(context.Background(), userID, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "ana@lacasa.mx", snap.Identity)
}

func TestSessionStore_ConcurrentSelectsConverge(t *testing.T) {
	tenants := newMockTenantRepo()
	store := newTestSessionStore(t, newMockSessionRepo(), tenants)

	userID := uuid.New()
	first := tenants.addTenant("casa-centro", models.DriverPostgres, "enc-1")
	second := tenants.addTenant("casa-norte", models.DriverPostgres, "enc-2")
	require.NoError(t, tenants.Grant(context.Background(), userID, first.ID))
	require.NoError(t, tenants.Grant(context.Background(), userID, second.ID))

	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{first.ID})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := store.SelectTenants(context.Background(), userID, "conv-1", []uuid.UUID{second.ID})
			assert.NoError(t, err)
		}()
		wg.Wait()

		snap, err := store.Snapshot(context.Background(), userID, "conv-1")
		require.NoError(t, err)
		require.Len(t, snap.TenantIDs, 1, "selections must not interleave")
		got := snap.TenantIDs[0]
		assert.True(t, got == first.ID || got == second.ID)
	}
}

func TestSessionStore_UsersDoNotShareSessions(t *testing.T) {
	tenants := newMockTenantRepo()
	store := newTestSessionStore(t, newMockSessionRepo(), tenants)

	userA := uuid.New()
	userB := uuid.New()
	tenantA := tenants.addTenant("casa-centro", models.DriverPostgres, "enc-1")
	tenantB := tenants.addTenant("casa-norte", models.DriverPostgres, "enc-2")
	require.NoError(t, tenants.Grant(context.Background(), userA, tenantA.ID))
	require.NoError(t, tenants.Grant(context.Background(), userB, tenantB.ID))

	// Same conversation id on purpose: the key is the (user, conversation) pair.
	_, err := store.Authenticate(context.Background(), userA, "team-chat", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)
	_, err = store.Authenticate(context.Background(), userB, "team-chat", "benito@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := store.SelectTenants(context.Background(), userA, "team-chat", []uuid.UUID{tenantA.ID})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := store.SelectTenants(context.Background(), userB, "team-chat", []uuid.UUID{tenantB.ID})
		assert.NoError(t, err)
	}()
	wg.Wait()

	snapA, err := store.Snapshot(context.Background(), userA, "team-chat")
	require.NoError(t, err)
	snapB, err := store.Snapshot(context.Background(), userB, "team-chat")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{tenantA.ID}, snapA.TenantIDs)
	assert.Equal(t, []uuid.UUID{tenantB.ID}, snapB.TenantIDs)
	assert.Equal(t, "ana@lacasa.mx", snapA.Identity)
	assert.Equal(t, "benito@lacasa.mx", snapB.Identity)
}

func TestSessionStore_EvictIdle(t *testing.T) {
	repo := newMockSessionRepo()
	store := NewSessionStore(repo, newMockTenantRepo(), SessionStoreConfig{
		TTL:             time.Millisecond,
		CleanupInterval: time.Hour,
	}, zap.NewNop())
	defer store.Close()

	userID := uuid.New()
	_, err := store.Authenticate(context.Background(), userID, "conv-1", "ana@lacasa.mx", models.RoleUser)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	store.(*sessionStore).evictIdle()

	_, err = store.Snapshot(context.Background(), userID, "conv-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, ok := repo.stored(userID, "conv-1")
	assert.False(t, ok, "idle sessions should be purged from the control store")
}

func TestSessionStore_CloseIsIdempotent(t *testing.T) {
	store := NewSessionStore(newMockSessionRepo(), newMockTenantRepo(), SessionStoreConfig{}, zap.NewNop())
	store.Close()
	store.Close()
}
