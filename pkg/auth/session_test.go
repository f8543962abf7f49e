package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCookieManager_SaveAndReadToken(t *testing.T) {
	manager := testCookieManager()

	rec := httptest.NewRecorder()
	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	if err := manager.SaveToken(rec, loginReq, "issued-jwt"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("expected a session cookie to be set")
	}

	var found *http.Cookie
	for _, c := range cookies {
		if c.Name == SessionName {
			found = c
		}
	}
	if found == nil {
		t.Fatalf("expected cookie %q, got %v", SessionName, cookies)
	}
	if !found.HttpOnly {
		t.Error("expected session cookie to be HttpOnly")
	}
	if found.Value == "issued-jwt" {
		t.Error("expected token to be encoded, not stored verbatim")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.AddCookie(found)

	token, ok := manager.Token(req)
	if !ok {
		t.Fatal("expected token to be readable from cookie")
	}
	if token != "issued-jwt" {
		t.Errorf("expected 'issued-jwt', got %q", token)
	}
}

func TestCookieManager_TokenMissing(t *testing.T) {
	manager := testCookieManager()

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)

	if _, ok := manager.Token(req); ok {
		t.Error("expected no token without a session cookie")
	}
}

func TestCookieManager_TokenWrongKey(t *testing.T) {
	writer := NewCookieManager("key-one", CookieSettings{}, time.Hour)
	reader := NewCookieManager("key-two", CookieSettings{}, time.Hour)

	rec := httptest.NewRecorder()
	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	if err := writer.SaveToken(rec, loginReq, "issued-jwt"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}

	if _, ok := reader.Token(req); ok {
		t.Error("expected cookie signed with a different key to be rejected")
	}
}

func TestCookieManager_Clear(t *testing.T) {
	manager := testCookieManager()

	// Save first so the clear request carries a valid session
	saveRec := httptest.NewRecorder()
	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	if err := manager.SaveToken(saveRec, loginReq, "issued-jwt"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	logoutReq := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	for _, c := range saveRec.Result().Cookies() {
		logoutReq.AddCookie(c)
	}

	clearRec := httptest.NewRecorder()
	if err := manager.Clear(clearRec, logoutReq); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	var cleared *http.Cookie
	for _, c := range clearRec.Result().Cookies() {
		if c.Name == SessionName {
			cleared = c
		}
	}
	if cleared == nil {
		t.Fatal("expected an expiring session cookie to be set")
	}
	if cleared.MaxAge != -1 {
		t.Errorf("expected MaxAge -1 on cleared cookie, got %d", cleared.MaxAge)
	}
}

func TestNewCookieManager_DefaultMaxAge(t *testing.T) {
	manager := NewCookieManager("secret", CookieSettings{}, 0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	if err := manager.SaveToken(rec, req, "issued-jwt"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}

	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionName && c.MaxAge != int(defaultTokenTTL.Seconds()) {
			t.Errorf("expected default max age %d, got %d", int(defaultTokenTTL.Seconds()), c.MaxAge)
		}
	}
}
