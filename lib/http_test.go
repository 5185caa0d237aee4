package lib

import (
	"net/http/httptest"
	"testing"

	"github.com/uvensys/linkgate"
)

func TestSetCookie(t *testing.T) {
	for _, tt := range []struct {
		name       string
		options    Options
		host       string
		wantDomain string
	}{
		{
			name:    "basic",
			options: Options{},
			host:    "",
		},
		{
			name:       "domain uvensys.de",
			options:    Options{CookieDomain: "uvensys.de"},
			host:       "",
			wantDomain: "uvensys.de",
		},
		{
			name:       "dynamic cookie domain",
			options:    Options{CookieDynamicDomain: true},
			host:       "links.uvensys.de",
			wantDomain: "uvensys.de",
		},
		{
			name:    "dynamic domain skips bare hosts",
			options: Options{CookieDynamicDomain: true},
			host:    "localhost",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := spawnServer(t, tt.options)
			rw := httptest.NewRecorder()

			srv.SetCookie(rw, CookieOpts{Value: "test", Host: tt.host})

			resp := rw.Result()
			cookies := resp.Cookies()

			if len(cookies) != 1 {
				t.Fatalf("wanted 1 cookie, got %d cookies", len(cookies))
			}

			ckie := cookies[0]

			if ckie.Name != linkgate.CookieName {
				t.Errorf("wanted cookie named %q, got cookie named %q", linkgate.CookieName, ckie.Name)
			}

			if ckie.Domain != tt.wantDomain {
				t.Errorf("wanted cookie domain %q, got: %q", tt.wantDomain, ckie.Domain)
			}

			if !ckie.HttpOnly {
				t.Error("session cookie must be HttpOnly")
			}
		})
	}
}

func TestClearCookie(t *testing.T) {
	srv := spawnServer(t, Options{})
	rw := httptest.NewRecorder()

	srv.ClearCookie(rw, CookieOpts{Host: "localhost"})

	resp := rw.Result()
	cookies := resp.Cookies()

	if len(cookies) != 1 {
		t.Fatalf("wanted 1 cookie, got %d cookies", len(cookies))
	}

	ckie := cookies[0]

	if ckie.Name != linkgate.CookieName {
		t.Errorf("wanted cookie named %q, got cookie named %q", linkgate.CookieName, ckie.Name)
	}

	if ckie.MaxAge != -1 {
		t.Errorf("wanted cookie max age of -1, got: %d", ckie.MaxAge)
	}
}

func TestClearCookieWithDomain(t *testing.T) {
	srv := spawnServer(t, Options{CookieDomain: "uvensys.de"})
	rw := httptest.NewRecorder()

	srv.ClearCookie(rw, CookieOpts{Host: "localhost"})

	resp := rw.Result()
	cookies := resp.Cookies()

	if len(cookies) != 1 {
		t.Fatalf("wanted 1 cookie, got %d cookies", len(cookies))
	}

	ckie := cookies[0]

	if ckie.Domain != "uvensys.de" {
		t.Errorf("wanted cookie domain %q, got: %q", "uvensys.de", ckie.Domain)
	}

	if ckie.MaxAge != -1 {
		t.Errorf("wanted cookie max age of -1, got: %d", ckie.MaxAge)
	}
}

func TestClearCookieWithDynamicDomain(t *testing.T) {
	srv := spawnServer(t, Options{CookieDynamicDomain: true})
	rw := httptest.NewRecorder()

	srv.ClearCookie(rw, CookieOpts{Host: "links.uvensys.de"})

	resp := rw.Result()
	cookies := resp.Cookies()

	if len(cookies) != 1 {
		t.Fatalf("wanted 1 cookie, got %d cookies", len(cookies))
	}

	ckie := cookies[0]

	if ckie.Domain != "uvensys.de" {
		t.Errorf("wanted cookie domain %q, got: %q", "uvensys.de", ckie.Domain)
	}
}
