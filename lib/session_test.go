package lib

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/uvensys/linkgate"
	"github.com/uvensys/linkgate/lib/records"
)

func TestIssueSession(t *testing.T) {
	srv := spawnServer(t, Options{})
	ctx := context.Background()

	if _, err := srv.IssueSession(ctx, "nobody@example.com"); err == nil {
		t.Error("issued a session for a user that does not exist")
	}

	if err := srv.Records().CreateUser(ctx, records.User{
		Email: "User@Example.com",
		Name:  "Test User",
		Role:  records.RoleUser,
	}); err != nil {
		t.Fatal(err)
	}

	// Email lookups are case-insensitive.
	token, err := srv.IssueSession(ctx, "user@example.com")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: linkgate.CookieName, Value: token})

	sess, ok := srv.sessionFor(req)
	if !ok {
		t.Fatal("freshly issued session does not resolve")
	}
	if sess.Email != "user@example.com" {
		t.Errorf("session email %q", sess.Email)
	}
}

func TestSessionBearerHeader(t *testing.T) {
	srv := spawnServer(t, Options{})
	ctx := context.Background()

	if err := srv.Records().CreateUser(ctx, records.User{Email: "user@example.com"}); err != nil {
		t.Fatal(err)
	}

	token, err := srv.IssueSession(ctx, "user@example.com")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if _, ok := srv.sessionFor(req); !ok {
		t.Error("Authorization header token does not resolve")
	}
}

func TestSessionRejectsForgedToken(t *testing.T) {
	srv := spawnServer(t, Options{})
	ctx := context.Background()

	if err := srv.Records().CreateUser(ctx, records.User{Email: "user@example.com"}); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.IssueSession(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	// A structurally valid JWT signed with the wrong key must not resolve,
	// even when its jti collides with nothing in the store.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"jti": uuid.NewString(),
		"sub": "user@example.com",
		"exp": 4102444800, // 2100-01-01
	}).SignedString([]byte("someone else's key, long enough too"))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+forged)

	if _, ok := srv.sessionFor(req); ok {
		t.Error("forged token resolved to a session")
	}
}

func TestSessionRevocation(t *testing.T) {
	srv := spawnServer(t, Options{})
	ctx := context.Background()

	if err := srv.Records().CreateUser(ctx, records.User{Email: "user@example.com"}); err != nil {
		t.Fatal(err)
	}

	token, err := srv.IssueSession(ctx, "user@example.com")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	sess, ok := srv.sessionFor(req)
	if !ok {
		t.Fatal("session does not resolve before revocation")
	}

	if err := srv.Records().DeleteSession(ctx, sess.Token); err != nil {
		t.Fatal(err)
	}

	// The JWT is still validly signed and unexpired, but the server-side
	// record is gone.
	if _, ok := srv.sessionFor(req); ok {
		t.Error("revoked session still resolves")
	}
}

func TestIsAdmin(t *testing.T) {
	srv := spawnServer(t, Options{})

	adminCookie := sessionCookie(t, srv, "admin@example.com", records.RoleAdmin)
	userCookie := sessionCookie(t, srv, "user@example.com", records.RoleUser)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(adminCookie)
	if !srv.isAdmin(req) {
		t.Error("admin session not recognized")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(userCookie)
	if srv.isAdmin(req) {
		t.Error("plain user passed the admin check")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if srv.isAdmin(req) {
		t.Error("anonymous request passed the admin check")
	}
}

func TestRefreshSession(t *testing.T) {
	srv := spawnServer(t, Options{})
	cookie := sessionCookie(t, srv, "user@example.com", records.RoleUser)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/refresh", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("wanted status %d, got: %d (%s)", http.StatusOK, w.Code, w.Body.String())
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != linkgate.CookieName {
		t.Fatalf("refresh did not set the session cookie: %v", cookies)
	}
	if cookies[0].Value == cookie.Value {
		t.Error("refresh reissued the same token")
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Token != cookies[0].Value {
		t.Error("body token and cookie token differ")
	}

	// The old token is revoked, the new one resolves.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if _, ok := srv.sessionFor(req); ok {
		t.Error("old session still resolves after refresh")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	if _, ok := srv.sessionFor(req); !ok {
		t.Error("refreshed session does not resolve")
	}
}

func TestRefreshSessionCarriesLink(t *testing.T) {
	srv := spawnServer(t, Options{})
	cookie := sessionCookie(t, srv, "user@example.com", records.RoleUser)

	req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(`{"url":"https://example.com/page","slug":"carried"}`))
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("wanted status %d, got: %d (%s)", http.StatusCreated, w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/refresh", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("wanted status %d, got: %d", http.StatusOK, w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(w.Result().Cookies()[0])
	sess, ok := srv.sessionFor(req)
	if !ok {
		t.Fatal("refreshed session does not resolve")
	}
	if sess.LinkSlug != "carried" {
		t.Errorf("refreshed session lost its link, got %q", sess.LinkSlug)
	}
}

func TestRefreshSessionUnauthorized(t *testing.T) {
	srv := spawnServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/refresh", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wanted status %d, got: %d", http.StatusUnauthorized, w.Code)
	}
}

func TestEndSession(t *testing.T) {
	srv := spawnServer(t, Options{})
	cookie := sessionCookie(t, srv, "user@example.com", records.RoleUser)

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("wanted status %d, got: %d", http.StatusNoContent, w.Code)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != -1 {
		t.Errorf("logout did not clear the session cookie: %v", cookies)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	if _, ok := srv.sessionFor(req); ok {
		t.Error("session still resolves after logout")
	}

	// Logging out twice is a 401, not a crash.
	req = httptest.NewRequest(http.MethodDelete, "/api/sessions", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wanted status %d, got: %d", http.StatusUnauthorized, w.Code)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := bearerToken(req); got != "" {
		t.Errorf("empty request yielded token %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := bearerToken(req); got != "" {
		t.Errorf("basic auth yielded token %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	req.AddCookie(&http.Cookie{Name: linkgate.CookieName, Value: "cookie-wins"})
	if got := bearerToken(req); got != "cookie-wins" {
		t.Errorf("cookie should take precedence, got %q", got)
	}

	if !strings.HasPrefix(linkgate.CookieName, "uvensys.de-") {
		t.Errorf("cookie name drifted: %q", linkgate.CookieName)
	}
}
