package lib

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/uvensys/linkgate"
	"github.com/uvensys/linkgate/internal"
	"github.com/uvensys/linkgate/lib/records"
)

// IssueSession mints a session token for an existing user: an HS512 JWT
// whose jti keys the server-side session record. The record's store TTL is
// what actually ends the session; the JWT exp mirrors it so stale tokens
// fail fast without a store roundtrip.
func (s *Server) IssueSession(ctx context.Context, email string) (string, error) {
	token, _, err := s.issueSession(ctx, email)
	return token, err
}

// issueSession additionally returns the new record's key, for callers
// that keep working with the session they just minted.
func (s *Server) issueSession(ctx context.Context, email string) (string, string, error) {
	user, err := s.records.UserByEmail(ctx, email)
	if err != nil {
		return "", "", fmt.Errorf("can't issue session for %q: %w", email, err)
	}

	now := time.Now()
	jti := uuid.NewString()

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"jti": jti,
		"sub": user.Email,
		"iat": now.Unix(),
		"exp": now.Add(linkgate.SessionTTL).Unix(),
	}).SignedString(s.opts.Key)
	if err != nil {
		return "", "", fmt.Errorf("can't sign session token: %w", err)
	}

	if err := s.records.CreateSession(ctx, records.Session{
		Token:     jti,
		Email:     user.Email,
		CreatedAt: now,
	}); err != nil {
		return "", "", fmt.Errorf("can't persist session: %w", err)
	}

	return tokenString, jti, nil
}

func bearerToken(r *http.Request) string {
	if ckie, err := r.Cookie(linkgate.CookieName); err == nil && ckie.Value != "" {
		return ckie.Value
	}

	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}

	return ""
}

// sessionFor resolves the request's session: a validly signed, unexpired
// JWT whose jti still has a live record in the store. The store lookup is
// what gives sessions their revocation and six-minute decay; the
// signature check keeps random tokens from ever probing the store.
func (s *Server) sessionFor(r *http.Request) (records.Session, bool) {
	raw := bearerToken(r)
	if raw == "" {
		return records.Session{}, false
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return s.opts.Key, nil
	}, jwt.WithValidMethods([]string{"HS512"}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return records.Session{}, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return records.Session{}, false
	}

	id, ok := claims["jti"].(string)
	if !ok || id == "" {
		return records.Session{}, false
	}

	sess, err := s.records.SessionByToken(r.Context(), id)
	if err != nil {
		return records.Session{}, false
	}

	return sess, true
}

// RefreshSession handles POST /api/sessions/refresh. Sessions decay six
// minutes after issuance, so clients holding one exchange it here for a
// fresh token before it lapses. The old record is revoked and the new
// token is handed back both as the session cookie and in the body, for
// cookie and Authorization-header clients respectively.
func (s *Server) RefreshSession(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	sess, ok := s.sessionFor(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	token, jti, err := s.issueSession(r.Context(), sess.Email)
	if err != nil {
		lg.Error("can't refresh session", "err", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	if sess.LinkSlug != "" {
		if err := s.records.AttachLink(r.Context(), jti, sess.LinkSlug); err != nil {
			lg.Warn("can't carry link over to refreshed session", "err", err)
		}
	}

	if err := s.records.DeleteSession(r.Context(), sess.Token); err != nil {
		lg.Warn("can't revoke old session", "err", err)
	}

	s.SetCookie(w, CookieOpts{Value: token, Host: r.Host})
	respondJSON(w, http.StatusOK, struct {
		Token string `json:"token"`
	}{Token: token})
}

// EndSession handles DELETE /api/sessions: revoke the caller's session
// record and clear the cookie.
func (s *Server) EndSession(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	sess, ok := s.sessionFor(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := s.records.DeleteSession(r.Context(), sess.Token); err != nil {
		lg.Error("can't revoke session", "err", err)
		respondError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	s.ClearCookie(w, CookieOpts{Host: r.Host})
	w.WriteHeader(http.StatusNoContent)
}

// isAdmin reports whether the request carries a live session belonging to
// an admin user.
func (s *Server) isAdmin(r *http.Request) bool {
	sess, ok := s.sessionFor(r)
	if !ok {
		return false
	}

	user, err := s.records.UserByEmail(r.Context(), sess.Email)
	if err != nil {
		return false
	}

	return user.Role == records.RoleAdmin
}
