package lib

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/uvensys/linkgate"
)

var domainMatchRegexp = regexp.MustCompile(`^((xn--)?[a-z0-9]+(-[a-z0-9]+)*\.)+[a-z]{2,}$`)

type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes v as the JSON response body with the given status.
// Encoding failures are logged, not surfaced; by the time Encode fails the
// status line is already on the wire.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}

// respondError writes the stable {"error": string} body every failure
// path uses.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// relayUpstream copies a relayed upstream status and body to the caller
// verbatim.
func relayUpstream(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

type CookieOpts struct {
	Value  string
	Host   string
	Name   string
	Expiry time.Duration
}

func (s *Server) cookieDomain(host string) string {
	domain := s.opts.CookieDomain
	if s.opts.CookieDynamicDomain && domainMatchRegexp.MatchString(host) {
		if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			domain = etld
		}
	}
	return domain
}

func (s *Server) SetCookie(w http.ResponseWriter, cookieOpts CookieOpts) {
	name := linkgate.CookieName
	if cookieOpts.Name != "" {
		name = cookieOpts.Name
	}

	if cookieOpts.Expiry == 0 {
		cookieOpts.Expiry = linkgate.SessionTTL
	}

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    cookieOpts.Value,
		Expires:  time.Now().Add(cookieOpts.Expiry),
		SameSite: http.SameSiteLaxMode,
		Domain:   s.cookieDomain(cookieOpts.Host),
		Secure:   s.opts.CookieSecure,
		HttpOnly: true,
		Path:     "/",
	})
}

func (s *Server) ClearCookie(w http.ResponseWriter, cookieOpts CookieOpts) {
	name := linkgate.CookieName
	if cookieOpts.Name != "" {
		name = cookieOpts.Name
	}

	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		MaxAge:   -1,
		Expires:  time.Now().Add(-1 * time.Minute),
		SameSite: http.SameSiteLaxMode,
		Domain:   s.cookieDomain(cookieOpts.Host),
		Secure:   s.opts.CookieSecure,
		HttpOnly: true,
		Path:     "/",
	})
}
