package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesa-hq/mesa-engine/pkg/apperrors"
	"github.com/mesa-hq/mesa-engine/pkg/models"
	"github.com/mesa-hq/mesa-engine/pkg/repositories"
)

// SessionStore owns all tenant-session state. It is the single writer of
// TenantSession: every mutation of one (user, conversation) pair serializes
// behind that pair's lock, different pairs proceed independently, and
// everyone downstream of the store works from read-only snapshots.
type SessionStore interface {
	// Authenticate records a verified identity for the pair, creating the
	// session if needed. Tokens are verified by the caller; the store only
	// transitions state.
	Authenticate(ctx context.Context, userID uuid.UUID, conversationID, identity, role string) (models.SessionSnapshot, error)

	// SelectTenants rebinds the session to the given tenants after checking
	// the user holds a grant for every one of them. Requires an
	// authenticated session.
	SelectTenants(ctx context.Context, userID uuid.UUID, conversationID string, tenantIDs []uuid.UUID) (models.SessionSnapshot, error)

	// SetLanguage switches the session's answer language ("en" or "es").
	SetLanguage(ctx context.Context, userID uuid.UUID, conversationID, language string) (models.SessionSnapshot, error)

	// SetDebug toggles SQL echoing in answers.
	SetDebug(ctx context.Context, userID uuid.UUID, conversationID string, debug bool) (models.SessionSnapshot, error)

	// Snapshot returns the immutable dispatch-time view of the session, or
	// ErrNotFound when the pair has never authenticated.
	Snapshot(ctx context.Context, userID uuid.UUID, conversationID string) (models.SessionSnapshot, error)

	// Logout discards the session. Unknown sessions are a no-op.
	Logout(ctx context.Context, userID uuid.UUID, conversationID string) error

	// Close stops the eviction loop. Sessions stay persisted.
	Close()
}

// SessionStoreConfig controls session lifetime and defaults.
type SessionStoreConfig struct {
	// TTL evicts sessions idle longer than this.
	TTL time.Duration
	// CleanupInterval is how often the eviction loop runs.
	CleanupInterval time.Duration
	// DefaultLanguage is assigned to new sessions.
	DefaultLanguage string
}

// DefaultSessionStoreConfig returns production defaults: 30-day inactivity
// eviction, hourly sweep, English answers.
func DefaultSessionStoreConfig() SessionStoreConfig {
	return SessionStoreConfig{
		TTL:             30 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		DefaultLanguage: models.LanguageEnglish,
	}
}

type sessionKey struct {
	userID         uuid.UUID
	conversationID string
}

// sessionEntry carries one session and the lock that serializes its writers.
type sessionEntry struct {
	mu      sync.Mutex
	session *models.TenantSession // nil until hydrated from the control store
}

type sessionStore struct {
	mu      sync.RWMutex
	entries map[sessionKey]*sessionEntry

	repo    repositories.SessionRepository
	tenants repositories.TenantRepository
	config  SessionStoreConfig
	logger  *zap.Logger

	stopEvict chan struct{}
	stopOnce  sync.Once
}

// NewSessionStore creates the session store and starts its eviction loop.
// Sessions write through to the control store so restarts keep state; the
// in-memory copy stays authoritative while the process runs.
func NewSessionStore(
	repo repositories.SessionRepository,
	tenants repositories.TenantRepository,
	config SessionStoreConfig,
	logger *zap.Logger,
) SessionStore {
	defaults := DefaultSessionStoreConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = defaults.DefaultLanguage
	}

	s := &sessionStore{
		entries:   make(map[sessionKey]*sessionEntry),
		repo:      repo,
		tenants:   tenants,
		config:    config,
		logger:    logger,
		stopEvict: make(chan struct{}),
	}
	go s.evictLoop()
	return s
}

func (s *sessionStore) Authenticate(ctx context.Context, userID uuid.UUID, conversationID, identity, role string) (models.SessionSnapshot, error) {
	if identity == "" {
		return models.SessionSnapshot{}, fmt.Errorf("identity must not be empty: %w", apperrors.ErrAuth)
	}
	if role == "" {
		role = models.RoleUser
	}

	return s.update(ctx, sessionKey{userID, conversationID}, true, func(sess *models.TenantSession) error {
		sess.Identity = identity
		sess.Role = role
		return nil
	})
}

func (s *sessionStore) SelectTenants(ctx context.Context, userID uuid.UUID, conversationID string, tenantIDs []uuid.UUID) (models.SessionSnapshot, error) {
	if len(tenantIDs) == 0 {
		return models.SessionSnapshot{}, fmt.Errorf("at least one tenant must be selected")
	}

	deduped := make([]uuid.UUID, 0, len(tenantIDs))
	seen := make(map[uuid.UUID]bool, len(tenantIDs))
	for _, id := range tenantIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}
	if len(deduped) == 0 {
		return models.SessionSnapshot{}, fmt.Errorf("at least one tenant must be selected")
	}

	snap, err := s.update(ctx, sessionKey{userID, conversationID}, false, func(sess *models.TenantSession) error {
		if sess.State() == models.SessionUnauthenticated {
			return apperrors.ErrAuth
		}
		for _, tenantID := range deduped {
			ok, err := s.tenants.HasAccess(ctx, userID, tenantID)
			if err != nil {
				return fmt.Errorf("failed to check tenant access: %w", err)
			}
			if !ok {
				return fmt.Errorf("tenant %s: %w", tenantID, apperrors.ErrForbidden)
			}
		}
		sess.SelectedTenantIDs = deduped
		return nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.SessionSnapshot{}, apperrors.ErrAuth
	}
	return snap, err
}

func (s *sessionStore) SetLanguage(ctx context.Context, userID uuid.UUID, conversationID, language string) (models.SessionSnapshot, error) {
	if language != models.LanguageEnglish && language != models.LanguageSpanish {
		return models.SessionSnapshot{}, fmt.Errorf("unsupported language %q (supported: en, es)", language)
	}

	snap, err := s.update(ctx, sessionKey{userID, conversationID}, false, func(sess *models.TenantSession) error {
		if sess.State() == models.SessionUnauthenticated {
			return apperrors.ErrAuth
		}
		sess.Language = language
		return nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.SessionSnapshot{}, apperrors.ErrAuth
	}
	return snap, err
}

func (s *sessionStore) SetDebug(ctx context.Context, userID uuid.UUID, conversationID string, debug bool) (models.SessionSnapshot, error) {
	snap, err := s.update(ctx, sessionKey{userID, conversationID}, false, func(sess *models.TenantSession) error {
		if sess.State() == models.SessionUnauthenticated {
			return apperrors.ErrAuth
		}
		sess.Debug = debug
		return nil
	})
	if errors.Is(err, apperrors.ErrNotFound) {
		return models.SessionSnapshot{}, apperrors.ErrAuth
	}
	return snap, err
}

func (s *sessionStore) Snapshot(ctx context.Context, userID uuid.UUID, conversationID string) (models.SessionSnapshot, error) {
	key := sessionKey{userID, conversationID}

	for {
		entry := s.entryFor(key)
		entry.mu.Lock()
		if !s.entryLive(key, entry) {
			entry.mu.Unlock()
			continue
		}

		if entry.session == nil {
			if err := s.hydrate(ctx, key, entry); err != nil {
				entry.mu.Unlock()
				if errors.Is(err, apperrors.ErrNotFound) {
					s.remove(key, entry)
				}
				return models.SessionSnapshot{}, err
			}
		}

		// Reading a session counts as activity but is not worth a
		// control-store write on every question.
		entry.session.LastActivity = time.Now().UTC()
		snap := snapshotOf(entry.session)
		entry.mu.Unlock()
		return snap, nil
	}
}

func (s *sessionStore) Logout(ctx context.Context, userID uuid.UUID, conversationID string) error {
	key := sessionKey{userID, conversationID}

	s.mu.Lock()
	entry, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if entry != nil {
		// Wait out any in-flight mutation so its write-through cannot
		// resurrect the row after the delete below.
		entry.mu.Lock()
		entry.session = nil
		entry.mu.Unlock()
	}

	if err := s.repo.Delete(ctx, userID, conversationID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *sessionStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopEvict)
	})
}

// update runs fn against the session for key under its per-key lock, bumps
// LastActivity, and writes the result through to the control store. With
// create false, a session that exists nowhere returns ErrNotFound.
func (s *sessionStore) update(ctx context.Context, key sessionKey, create bool, fn func(*models.TenantSession) error) (models.SessionSnapshot, error) {
	for {
		entry := s.entryFor(key)
		entry.mu.Lock()
		if !s.entryLive(key, entry) {
			// Evicted or logged out between lookup and lock; take a fresh entry.
			entry.mu.Unlock()
			continue
		}

		if entry.session == nil {
			err := s.hydrate(ctx, key, entry)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrNotFound) && create:
				entry.session = &models.TenantSession{
					UserID:         key.userID,
					ConversationID: key.conversationID,
					Language:       s.config.DefaultLanguage,
				}
			default:
				entry.mu.Unlock()
				if errors.Is(err, apperrors.ErrNotFound) {
					s.remove(key, entry)
				}
				return models.SessionSnapshot{}, err
			}
		}

		if err := fn(entry.session); err != nil {
			entry.mu.Unlock()
			return models.SessionSnapshot{}, err
		}

		entry.session.LastActivity = time.Now().UTC()
		if err := s.repo.Upsert(ctx, entry.session); err != nil {
			// In-memory state is authoritative while the process runs; a
			// failed write-through only risks losing state across restarts.
			s.logger.Warn("Session write-through failed",
				zap.String("user_id", key.userID.String()),
				zap.String("conversation_id", key.conversationID),
				zap.Error(err))
		}

		snap := snapshotOf(entry.session)
		entry.mu.Unlock()
		return snap, nil
	}
}

// entryFor returns the live entry for key, creating a placeholder when none
// exists.
func (s *sessionStore) entryFor(key sessionKey) *sessionEntry {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok {
		return entry
	}
	entry = &sessionEntry{}
	s.entries[key] = entry
	return entry
}

// entryLive reports whether entry is still the one mapped for key. Callers
// must hold entry.mu.
func (s *sessionStore) entryLive(key sessionKey, entry *sessionEntry) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[key] == entry
}

// hydrate loads the persisted session into an empty entry. Callers must hold
// entry.mu.
func (s *sessionStore) hydrate(ctx context.Context, key sessionKey, entry *sessionEntry) error {
	sess, err := s.repo.Get(ctx, key.userID, key.conversationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess.Language == "" {
		sess.Language = s.config.DefaultLanguage
	}
	entry.session = sess
	return nil
}

// remove drops a placeholder entry that never became a session.
func (s *sessionStore) remove(key sessionKey, entry *sessionEntry) {
	s.mu.Lock()
	if s.entries[key] == entry {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

func (s *sessionStore) evictLoop() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stopEvict:
			return
		}
	}
}

// evictIdle drops sessions idle past the TTL from memory and from the
// control store.
func (s *sessionStore) evictIdle() {
	cutoff := time.Now().UTC().Add(-s.config.TTL)

	s.mu.RLock()
	keys := make([]sessionKey, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	evicted := 0
	for _, key := range keys {
		s.mu.RLock()
		entry, ok := s.entries[key]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		entry.mu.Lock()
		stale := entry.session == nil || entry.session.LastActivity.Before(cutoff)
		if stale {
			s.mu.Lock()
			if s.entries[key] == entry {
				delete(s.entries, key)
				evicted++
			}
			s.mu.Unlock()
			entry.session = nil
		}
		entry.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	removed, err := s.repo.DeleteIdleSince(ctx, cutoff)
	if err != nil {
		s.logger.Warn("Failed to evict idle sessions from control store", zap.Error(err))
	}

	if evicted > 0 || removed > 0 {
		s.logger.Debug("Evicted idle sessions",
			zap.Int("from_memory", evicted),
			zap.Int64("from_store", removed))
	}
}

// snapshotOf copies the session into its immutable dispatch-time view.
func snapshotOf(sess *models.TenantSession) models.SessionSnapshot {
	tenantIDs := make([]uuid.UUID, len(sess.SelectedTenantIDs))
	copy(tenantIDs, sess.SelectedTenantIDs)

	return models.SessionSnapshot{
		UserID:         sess.UserID,
		ConversationID: sess.ConversationID,
		Identity:       sess.Identity,
		Role:           sess.Role,
		TenantIDs:      tenantIDs,
		Language:       sess.Language,
		Debug:          sess.Debug,
		State:          sess.State(),
		TakenAt:        time.Now().UTC(),
	}
}

var _ SessionStore = (*sessionStore)(nil)
