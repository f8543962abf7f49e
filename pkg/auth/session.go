package auth

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// SessionName is the name of the browser session cookie.
const SessionName = "mesa_session"

// sessionTokenKey is the session value holding the bearer token.
const sessionTokenKey = "token"

// CookieManager stores the issued bearer token inside a signed browser
// session cookie so web clients authenticate without managing the
// Authorization header themselves.
//
// Security settings:
// - HttpOnly: true (inaccessible to JavaScript)
// - Secure: per derived cookie settings (HTTPS only outside localhost)
// - SameSite: Strict (prevents CSRF)
type CookieManager struct {
	store *sessions.CookieStore
}

// NewCookieManager creates a cookie manager.
//
// The secret parameter signs session cookies. It can be any passphrase -
// it will be SHA-256 hashed to derive a 32-byte key. The secret must be
// consistent across server restarts and multiple servers in a
// load-balanced deployment.
//
// maxAge bounds how long the browser keeps the cookie; align it with the
// bearer token TTL so the cookie and the token it carries expire together.
func NewCookieManager(secret string, settings CookieSettings, maxAge time.Duration) *CookieManager {
	// Hash the secret to get a consistent 32-byte key
	key := sha256.Sum256([]byte(secret))

	if maxAge <= 0 {
		maxAge = defaultTokenTTL
	}

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   settings.Domain,
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	// MaxAge must go through the store so the cookie codec honors it too
	store.MaxAge(int(maxAge.Seconds()))

	return &CookieManager{store: store}
}

// SaveToken writes the bearer token into the session cookie.
func (m *CookieManager) SaveToken(w http.ResponseWriter, r *http.Request, token string) error {
	// Get returns a fresh session when the cookie is absent or undecodable
	session, _ := m.store.Get(r, SessionName)
	session.Values[sessionTokenKey] = token
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session cookie: %w", err)
	}
	return nil
}

// Token reads the bearer token from the session cookie.
// Returns false when no valid session cookie is present.
func (m *CookieManager) Token(r *http.Request) (string, bool) {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		return "", false
	}
	token, ok := session.Values[sessionTokenKey].(string)
	return token, ok && token != ""
}

// Clear expires the session cookie. Called on logout.
func (m *CookieManager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.store.Get(r, SessionName)
	delete(session.Values, sessionTokenKey)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear session cookie: %w", err)
	}
	return nil
}
